// Package cache implements the bounded in-memory store behind the loading
// orchestrator. Capacity is enforced before every insert with batch eviction
// ordered by access frequency then recency; expiry is lazy, there is no sweep
// goroutine. A durable mirror can back the store for warm starts, but mirror
// traffic is best effort and never fails a caller.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rivelle/assetcache/internal/clock"
	"github.com/rivelle/assetcache/internal/metrics"
	"github.com/rivelle/assetcache/internal/mirror"
)

const (
	// DefaultMaxSizeBytes bounds the store at 50 MiB unless configured.
	DefaultMaxSizeBytes = 50 << 20
	// DefaultTTL expires unconfigured entries after fifteen minutes.
	DefaultTTL = 15 * time.Minute
	// DefaultEvictionBatchFraction removes 20% of entries per eviction pass.
	DefaultEvictionBatchFraction = 0.2

	mirrorWriteTimeout = 5 * time.Second
)

// Options tunes a Store. Zero values fall back to the package defaults.
type Options struct {
	MaxSizeBytes          int64
	DefaultTTL            time.Duration
	EvictionBatchFraction float64
}

// Store is a bounded key-value cache with TTL expiry and frequency/recency
// batch eviction. Safe for concurrent use.
type Store[V any] struct {
	maxBytes      int64
	defaultTTL    time.Duration
	batchFraction float64

	clock    clock.Clock
	mirror   mirror.Store
	logger   *slog.Logger
	recorder *metrics.Recorder

	mu         sync.Mutex
	entries    map[string]*Entry[V]
	totalBytes int64
}

// NewStore builds a store. The mirror may be nil for purely in-memory use;
// the recorder may be nil when Prometheus export is not wired.
func NewStore[V any](opts Options, durable mirror.Store, clk clock.Clock, logger *slog.Logger, recorder *metrics.Recorder) *Store[V] {
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.EvictionBatchFraction <= 0 || opts.EvictionBatchFraction > 1 {
		opts.EvictionBatchFraction = DefaultEvictionBatchFraction
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store[V]{
		maxBytes:      opts.MaxSizeBytes,
		defaultTTL:    opts.DefaultTTL,
		batchFraction: opts.EvictionBatchFraction,
		clock:         clk,
		mirror:        durable,
		logger:        logger.With(slog.String("component", "cache")),
		recorder:      recorder,
		entries:       make(map[string]*Entry[V]),
	}
}

// Set commits the value to memory and mirrors it in the background. It never
// reports failure to the caller: a value too large for the whole store is
// dropped with a warning, and mirror errors are only logged.
func (s *Store[V]) Set(ctx context.Context, key string, value V, sizeBytes int64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.clock.Now()
	entry := &Entry[V]{
		Key:            key,
		Value:          value,
		SizeBytes:      sizeBytes,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}

	s.mu.Lock()
	if existing, ok := s.entries[key]; ok {
		s.totalBytes -= existing.SizeBytes
		delete(s.entries, key)
	}
	for s.totalBytes+sizeBytes > s.maxBytes && len(s.entries) > 0 {
		s.evictBatch()
	}
	if s.totalBytes+sizeBytes > s.maxBytes {
		s.mu.Unlock()
		s.logger.Warn("entry larger than cache capacity, dropped",
			slog.String("key", key),
			slog.Int64("size_bytes", sizeBytes),
			slog.Int64("max_bytes", s.maxBytes))
		return
	}
	s.entries[key] = entry
	s.totalBytes += sizeBytes
	s.publishSize()
	s.mu.Unlock()

	s.mirrorWrite(ctx, entry)
}

// Get returns the live value for key, bumping its access bookkeeping. Expired
// or absent keys miss; on a memory miss the durable mirror is consulted once
// to warm-start the entry, and mirror failures degrade to a plain miss.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	if entry, ok := s.entries[key]; ok {
		if entry.ExpiresAt.After(now) {
			entry.AccessCount++
			entry.LastAccessedAt = now
			value := entry.Value
			s.mu.Unlock()
			return value, true
		}
		s.totalBytes -= entry.SizeBytes
		delete(s.entries, key)
		s.publishSize()
	}
	s.mu.Unlock()

	return s.warmStart(ctx, key, now)
}

// Delete removes the key from memory and, best effort, from the mirror.
func (s *Store[V]) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	if entry, ok := s.entries[key]; ok {
		s.totalBytes -= entry.SizeBytes
		delete(s.entries, key)
		s.publishSize()
	}
	s.mu.Unlock()

	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorWriteTimeout)
		defer cancel()
		if err := s.mirror.Delete(ctx, key); err != nil {
			s.logger.Warn("mirror delete failed", slog.String("key", key), slog.Any("error", err))
		}
	}()
}

// Stats reports the live totals.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{TotalBytes: s.totalBytes, EntryCount: len(s.entries)}
	if len(s.entries) > 0 {
		var accesses int64
		for _, entry := range s.entries {
			accesses += entry.AccessCount
		}
		stats.AverageAccessCount = float64(accesses) / float64(len(s.entries))
	}
	return stats
}

// Clear drops every in-memory entry. The mirror is left alone so a later
// warm start can still use it.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry[V])
	s.totalBytes = 0
	s.publishSize()
}

// evictBatch removes ceil(batchFraction*N) entries ordered least-frequently
// used first, least-recently used to break ties. Caller holds the lock.
func (s *Store[V]) evictBatch() {
	victims := make([]*Entry[V], 0, len(s.entries))
	for _, entry := range s.entries {
		victims = append(victims, entry)
	}
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].AccessCount != victims[j].AccessCount {
			return victims[i].AccessCount < victims[j].AccessCount
		}
		return victims[i].LastAccessedAt.Before(victims[j].LastAccessedAt)
	})
	batch := int(math.Ceil(s.batchFraction * float64(len(victims))))
	if batch > len(victims) {
		batch = len(victims)
	}
	for _, entry := range victims[:batch] {
		s.totalBytes -= entry.SizeBytes
		delete(s.entries, entry.Key)
	}
	s.publishSize()
	s.recorder.ObserveEviction(batch)
	s.logger.Debug("eviction batch removed entries",
		slog.Int("removed", batch),
		slog.Int("remaining", len(s.entries)),
		slog.Int64("total_bytes", s.totalBytes))
}

func (s *Store[V]) warmStart(ctx context.Context, key string, now time.Time) (V, bool) {
	var zero V
	if s.mirror == nil {
		return zero, false
	}
	record, ok, err := s.mirror.Get(ctx, key)
	if err != nil {
		s.logger.Warn("mirror read failed", slog.String("key", key), slog.Any("error", err))
		return zero, false
	}
	if !ok || !record.ExpiresAt.After(now) {
		return zero, false
	}
	var value V
	if err := json.Unmarshal(record.Value, &value); err != nil {
		s.logger.Warn("mirror record unreadable", slog.String("key", key), slog.Any("error", err))
		return zero, false
	}

	entry := &Entry[V]{
		Key:            key,
		Value:          value,
		SizeBytes:      record.SizeBytes,
		CreatedAt:      record.CreatedAt,
		LastAccessedAt: now,
		AccessCount:    1,
		ExpiresAt:      record.ExpiresAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if racing, ok := s.entries[key]; ok {
		// Another caller repopulated the key while the mirror read was in
		// flight; serve the in-memory entry.
		racing.AccessCount++
		racing.LastAccessedAt = now
		return racing.Value, true
	}
	for s.totalBytes+entry.SizeBytes > s.maxBytes && len(s.entries) > 0 {
		s.evictBatch()
	}
	if s.totalBytes+entry.SizeBytes > s.maxBytes {
		return value, true
	}
	s.entries[key] = entry
	s.totalBytes += entry.SizeBytes
	s.publishSize()
	return value, true
}

func (s *Store[V]) mirrorWrite(ctx context.Context, entry *Entry[V]) {
	if s.mirror == nil {
		return
	}
	payload, err := json.Marshal(entry.Value)
	if err != nil {
		s.logger.Warn("mirror marshal failed", slog.String("key", entry.Key), slog.Any("error", err))
		return
	}
	record := mirror.Record{
		Value:     payload,
		SizeBytes: entry.SizeBytes,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
	key := entry.Key
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorWriteTimeout)
		defer cancel()
		if err := s.mirror.Put(ctx, key, record); err != nil {
			s.logger.Warn("mirror write failed", slog.String("key", key), slog.Any("error", err))
		}
	}()
}

// publishSize pushes the current totals to the recorder. Caller holds the lock.
func (s *Store[V]) publishSize() {
	s.recorder.SetCacheSize(s.totalBytes, len(s.entries))
}
