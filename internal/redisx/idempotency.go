package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"strconv"
	"strings"
	"time"
)

const pendingPrefix = "pending:"

type Claim int

const (
	// ClaimAcquired: the caller owns the key and must Complete or Abort it.
	ClaimAcquired Claim = iota
	// ClaimReplay: a checkout with this key already committed.
	ClaimReplay
	// ClaimInFlight: another request holds the key right now.
	ClaimInFlight
)

// Lease is the outcome of Begin. Only an acquired lease can release its key.
type Lease struct {
	Claim   Claim
	OrderID int64 // ClaimReplay only

	token string
}

// deletes KEYS[1] only while it still holds this lease's token
var abortScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IdempotencyStore maps client Idempotency-Key values to committed order ids.
type IdempotencyStore struct {
	rdb      *redis.Client
	ttl      time.Duration
	inFlight time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl, inFlight: TTLInFlight}
}

// Begin claims key. For ClaimReplay the committed order id is in the lease.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (Lease, error) {
	k := fmt.Sprintf(KeyIdempotency, key)
	token := pendingPrefix + uuid.NewString()
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, k, token, s.inFlight).Result()
		if err != nil {
			return Lease{}, err
		}
		if ok {
			return Lease{Claim: ClaimAcquired, token: token}, nil
		}
		v, err := s.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return Lease{}, err
		}
		if strings.HasPrefix(v, pendingPrefix) {
			return Lease{Claim: ClaimInFlight}, nil
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Lease{}, fmt.Errorf("idempotency key %q holds %q", key, v)
		}
		return Lease{Claim: ClaimReplay, OrderID: id}, nil
	}
	return Lease{Claim: ClaimInFlight}, nil
}

// Complete records the committed order for key.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, orderID int64) error {
	return s.rdb.Set(ctx, fmt.Sprintf(KeyIdempotency, key), strconv.FormatInt(orderID, 10), s.ttl).Err()
}

// Abort releases the claim held by l after a failed checkout so the client may retry.
// A claim that expired and was taken by another request is left alone.
func (s *IdempotencyStore) Abort(ctx context.Context, key string, l Lease) error {
	if l.token == "" {
		return nil
	}
	return abortScript.Run(ctx, s.rdb, []string{fmt.Sprintf(KeyIdempotency, key)}, l.token).Err()
}
