package domain

import (
	"context"
	"time"
)

// ReferencePriceCache stores the experiment-derived reference price per
// product. A winning variant's price is set here on conclusion and read by
// the pricing engine on subsequent proposals until superseded.
type ReferencePriceCache interface {
	Set(ctx context.Context, productID string, price float64, ts time.Time) error
	Get(ctx context.Context, productID string) (float64, time.Time, error)
	Invalidate(ctx context.Context, productID string) error
}

// LockManager provides per-key exclusive access. Pricing cycles and outcome
// updates for the same product serialize on the product's lock; different
// products proceed concurrently.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. Decision events, variant
// activations, and inventory mirror notifications travel over it.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
