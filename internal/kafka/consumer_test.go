package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
	fetchErr  error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if f.fetchErr != nil {
		return kafka.Message{}, f.fetchErr
	}
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func newRetryingConsumer(r messageReader, workers int) *Consumer {
	c := newConsumer(r, workers, nil)
	c.retryMin, c.retryMax = time.Millisecond, 5*time.Millisecond
	return c
}

func TestConsumer_RetriesFailedMessageBeforeCommittingPastIt(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{msgs: make(chan kafka.Message, 8)}
	r.msgs <- kafka.Message{Offset: 5}
	r.msgs <- kafka.Message{Offset: 6}

	var (
		mu       sync.Mutex
		attempts = map[int64]int{}
	)
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 5 && attempts[5] < 3 {
			return errors.New("redis down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := newRetryingConsumer(r, 1)
	go func() { done <- c.Start(ctx, h) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{5, 6}, r.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts[5])
	assert.Equal(t, 1, attempts[6])
	assert.True(t, r.closed)
}

func TestConsumer_PartitionOrderAcrossWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{msgs: make(chan kafka.Message, 16)}
	for off := int64(0); off < 6; off++ {
		r.msgs <- kafka.Message{Partition: int(off % 2), Offset: off}
	}

	var (
		mu     sync.Mutex
		failed bool
	)
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if m.Offset == 2 && !failed {
			failed = true
			return errors.New("boom")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := newRetryingConsumer(r, 4)
	go func() { done <- c.Start(ctx, h) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 6 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var even []int64
	for _, off := range r.commits() {
		if off%2 == 0 {
			even = append(even, off)
		}
	}
	assert.Equal(t, []int64{0, 2, 4}, even)
}

func TestConsumer_CancelDuringRetryLeavesOffsetUncommitted(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	r.msgs <- kafka.Message{Offset: 1}

	calls := make(chan struct{}, 64)
	h := func(context.Context, kafka.Message) error {
		calls <- struct{}{}
		return errors.New("still down")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := newRetryingConsumer(r, 1)
	go func() { done <- c.Start(ctx, h) }()

	<-calls
	<-calls
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, r.commits())
}

func TestConsumer_ReturnsFetchError(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{msgs: make(chan kafka.Message), fetchErr: errors.New("group coordinator gone")}
	c := newConsumer(r, 0, nil)

	err := c.Start(context.Background(), func(context.Context, kafka.Message) error { return nil })
	assert.EqualError(t, err, "group coordinator gone")
	assert.True(t, r.closed)
}
