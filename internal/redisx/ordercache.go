package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

// OrderCache holds encoded receipts by order id.
type OrderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOrderCache(rdb *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func (c *OrderCache) Get(ctx context.Context, orderID int64) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderCache, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *OrderCache) Set(ctx context.Context, orderID int64, b []byte) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderCache, orderID), b, c.ttl).Err()
}
