package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Seen reports whether service already processed eventID.
func Seen(ctx context.Context, rdb *redis.Client, service, eventID string) (bool, error) {
	return Exists(ctx, rdb, fmt.Sprintf(KeyDedup, service, eventID))
}

func MarkSeen(ctx context.Context, rdb *redis.Client, service, eventID string) error {
	return rdb.Set(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Err()
}
