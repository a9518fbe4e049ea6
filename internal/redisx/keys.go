package redisx

import "time"

const (
	// Cache of order status for GET /orders/{id}: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"

	// Fast-path dedup of confirmation callbacks: confirm:{payment_ref}.
	// The DB status guard stays the source of truth; this only short-circuits
	// obvious replays.
	KeyConfirmSeen = "confirm:%s"

	// Dedup event processing in the projector: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Reaper sweep lock per store: sweep:{store_id}
	KeySweepLock = "sweep:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLConfirmSeen = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
	TTLSweepLock   = 2 * time.Minute
)
