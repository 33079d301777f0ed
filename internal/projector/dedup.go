package projector

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisDedup scopes dedup keys to one consumer name.
type RedisDedup struct {
	Redis   *redis.Client
	Service string
}

func (d RedisDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return redisx.Seen(ctx, d.Redis, d.Service, eventID)
}

func (d RedisDedup) MarkSeen(ctx context.Context, eventID string) error {
	return redisx.MarkSeen(ctx, d.Redis, d.Service, eventID)
}
