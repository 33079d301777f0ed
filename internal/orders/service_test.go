package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/jackc/pgx/v5/pgconn"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	key, value []byte
	headers    []kafkago.Header
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{key: key, value: value, headers: headers})
	return nil
}

func TestCheckout_PlacesOrder(t *testing.T) {
	store := newMemStore(item(7, "Sourdough", "8.50", 10))
	pub := &fakePublisher{}
	svc := NewService(store, WithPublisher(pub), WithProducerName("test-api"))

	o, err := svc.Checkout(context.Background(), validRequest(entry("7", `"2"`)))
	require.NoError(t, err)

	assert.NotZero(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, DefaultPaymentMethod, o.PaymentMethod)
	assert.Equal(t, "17.00", o.Subtotal.StringFixed(2))
	assert.Equal(t, "17.00", o.Total.StringFixed(2))
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, 8, store.stock(7))

	stored, err := svc.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Lines, stored.Lines)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, PartitionKey(o.ID), msg.key)
	assert.Equal(t, EventOrderPlaced, kafkax.HeaderValue(kafkago.Message{Headers: msg.headers}, kafkax.HeaderEventType))

	env, err := kafkax.Decode[Envelope](msg.value)
	require.NoError(t, err)
	assert.Equal(t, "test-api", env.Producer)
	assert.NotEmpty(t, env.CorrelationID)
	payload, err := kafkax.Decode[OrderPlacedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Equal(t, "17.00", payload.Total)
	assert.Equal(t, "8.50", payload.Items[0].UnitPrice)
}

func TestCheckout_ValidationTouchesNoStorage(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 1))
	_, err := NewService(store).Checkout(context.Background(), validRequest())

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, store.lookups)
	assert.Zero(t, store.txs)
}

func TestCheckout_MissingItems(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 5))
	_, err := NewService(store).Checkout(context.Background(), validRequest(entry("9", "1"), entry("1", "1"), entry("3", "1")))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []int64{3, 9}, nf.Missing)
	assert.Zero(t, store.txs)
	assert.Equal(t, 5, store.stock(1))
}

func TestCheckout_TotalAboveColumnBound(t *testing.T) {
	store := newMemStore(item(1, "Yacht", "60000000.00", 5))
	_, err := NewService(store).Checkout(context.Background(), validRequest(entry("1", "2")))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Msg, "99999999.99")
	assert.Zero(t, store.txs)
	assert.Equal(t, 5, store.stock(1))

	_, err = NewService(store).Checkout(context.Background(), validRequest(entry("1", "1")))
	require.NoError(t, err)
}

func TestCheckout_PrecheckShortage(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 2))
	_, err := NewService(store).Checkout(context.Background(), validRequest(entry("1", "2"), entry("1", "1")))

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, OutOfStockError{ItemID: 1, Requested: 3, Available: 2}, *oos)
	assert.Zero(t, store.txs)
}

func TestCheckout_LastUnitsRace(t *testing.T) {
	store := newMemStore(item(1, "a", "4.00", 5))
	svc := NewService(store)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Checkout(context.Background(), validRequest(entry("1", "3")))
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		var oos *OutOfStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &oos):
			short++
			assert.Equal(t, 2, oos.Available)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 2, store.stock(1))
	assert.Equal(t, 1, store.orderCount())
}

func TestCheckout_ConcurrentBuyersNeverOversell(t *testing.T) {
	const stock, buyers = 10, 40
	store := newMemStore(item(1, "a", "1.00", stock), item(2, "b", "1.00", 1000))
	svc := NewService(store)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Checkout(context.Background(), validRequest(entry("2", "1"), entry("1", "1"))); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, ok)
	assert.Equal(t, 0, store.stock(1))
	assert.Equal(t, 1000-stock, store.stock(2))
}

func TestCheckout_WriterFailureLeavesStock(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 5), item(2, "b", "1", 5))
	store.linesErr = errors.New("disk full")
	pub := &fakePublisher{}
	core, logs := observer.New(zap.ErrorLevel)

	_, err := NewService(store, WithPublisher(pub), WithLogger(zap.New(core))).
		Checkout(context.Background(), validRequest(entry("1", "2"), entry("2", "2")))

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 5, store.stock(1))
	assert.Equal(t, 5, store.stock(2))
	assert.Zero(t, store.orderCount())
	assert.Empty(t, pub.msgs)
	assert.Equal(t, 1, logs.FilterMessage("storage failure").Len())
}

func TestCheckout_TransientStorage(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 5))
	store.orderErr = &pgconn.PgError{Code: "40P01"}
	_, err := NewService(store).Checkout(context.Background(), validRequest(entry("1", "1")))

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "place order", te.Op)
	assert.Equal(t, 5, store.stock(1))

	store = newMemStore(item(1, "a", "1", 5))
	store.lookupErr = context.DeadlineExceeded
	_, err = NewService(store).Checkout(context.Background(), validRequest(entry("1", "1")))
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "lookup items", te.Op)
	assert.Zero(t, store.txs)
}

func TestCheckout_ClientCancelDoesNotAbortTx(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 5))
	ctx, cancel := context.WithCancel(context.Background())
	store.onTx = func(context.Context) { cancel() }

	o, err := NewService(store).Checkout(ctx, validRequest(entry("1", "1")))
	require.NoError(t, err)
	assert.NotZero(t, o.ID)
	assert.Equal(t, 4, store.stock(1))
}

func TestCheckout_TxTimeoutRollsBack(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 5))
	store.onTx = func(ctx context.Context) { <-ctx.Done() }

	_, err := NewService(store, WithTxTimeout(20*time.Millisecond)).
		Checkout(context.Background(), validRequest(entry("1", "1")))

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, store.stock(1))
	assert.Zero(t, store.orderCount())
}

func TestCheckout_PublishFailureKeepsOrder(t *testing.T) {
	store := newMemStore(item(1, "a", "1", 5))
	core, logs := observer.New(zap.WarnLevel)
	svc := NewService(store, WithPublisher(&fakePublisher{err: kafkax.ErrProducerFull}), WithLogger(zap.New(core)))

	o, err := svc.Checkout(context.Background(), validRequest(entry("1", "1")))
	require.NoError(t, err)
	assert.Equal(t, 1, store.orderCount())
	entries := logs.FilterMessage("publish order event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, o.ID, entries[0].ContextMap()["order_id"])
}

func TestCheckout_Span(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	store := newMemStore(item(1, "a", "1", 1))
	svc := NewService(store, WithTracer(tp.Tracer("test")))

	_, err := svc.Checkout(context.Background(), validRequest(entry("1", "1")))
	require.NoError(t, err)
	_, err = svc.Checkout(context.Background(), validRequest(entry("1", "1")))
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "checkout", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("checkout.outcome", "committed"))
	assert.Contains(t, spans[0].Attributes(), attribute.Int("checkout.items", 1))
	assert.Contains(t, spans[1].Attributes(), attribute.String("checkout.outcome", "out_of_stock"))
}

func TestOrder_NotFound(t *testing.T) {
	_, err := NewService(newMemStore()).Order(context.Background(), 42)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "committed", Outcome(nil))
	assert.Equal(t, "validation", Outcome(&ValidationError{Msg: "x"}))
	assert.Equal(t, "transient", Outcome(&TransientError{Op: "x", Err: context.Canceled}))
	assert.Equal(t, "error", Outcome(errors.New("x")))
}
