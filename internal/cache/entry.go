package cache

import "time"

// Entry is one cached resource. The payload type is fixed per store so callers
// keep type safety while the cache itself treats values as opaque.
type Entry[V any] struct {
	Key            string
	Value          V
	SizeBytes      int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	ExpiresAt      time.Time
}

// Stats summarizes the live contents of a store.
type Stats struct {
	TotalBytes         int64   `json:"totalBytes"`
	EntryCount         int     `json:"entryCount"`
	AverageAccessCount float64 `json:"averageAccessCount"`
}
