// Package mirror provides the best-effort durable key-value layer behind the
// in-memory cache. The mirror is never authoritative: reads warm-start the
// cache, writes survive restarts when they happen to succeed, and every
// failure is reported to the caller so it can be logged and dropped.
package mirror

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the persisted shape of one cache entry. The payload stays opaque;
// additive fields are fine because the mirror is a cache, not a source of truth.
type Record struct {
	Value     json.RawMessage `json:"value"`
	SizeBytes int64           `json:"sizeBytes"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Store is the durable mirror contract. Implementations must be safe for
// concurrent use.
type Store interface {
	Put(ctx context.Context, key string, record Record) error
	Get(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}
