package redisx

import "time"

const (
	// Idempotency-Key claim: idem:checkout:{key} -> "pending:{token}" | order_id
	KeyIdempotency = "idem:checkout:%s"

	// Receipt cache: order:{order_id} -> receipt JSON
	KeyOrderCache = "order:%d"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour

	// TTLInFlight must outlast a checkout, or a retry could run a second one.
	TTLInFlight   = 30 * time.Second
	TTLOrderCache = 10 * time.Minute
	TTLDedup      = 48 * time.Hour
)
