// Package preload speculatively fetches resources ahead of demand. Tasks queue
// in priority order; a pass executes the High tier synchronously and defers
// Medium and Low to delayed background goroutines. Results land in a
// short-lived cache that the orchestrator consults before invoking a loader.
// Preload failures never surface to callers: every key is independent and
// errors are logged and sampled only.
package preload

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rivelle/assetcache/internal/metrics"
)

// Loader produces the value and its byte size for one resource key.
type Loader[V any] func(ctx context.Context, key string) (V, int64, error)

// Scheduler owns the priority queue and the preload result cache. Safe for
// concurrent use.
type Scheduler[V any] struct {
	loader   Loader[V]
	delays   TierDelays
	logger   *slog.Logger
	agg      *metrics.Aggregate
	recorder *metrics.Recorder

	mu      sync.Mutex
	queue   []Task
	results map[string]V

	background sync.WaitGroup
}

// NewScheduler builds a scheduler around the supplied loader. Aggregate and
// recorder may be nil.
func NewScheduler[V any](loader Loader[V], delays TierDelays, logger *slog.Logger, agg *metrics.Aggregate, recorder *metrics.Recorder) *Scheduler[V] {
	if delays == (TierDelays{}) {
		delays = DefaultTierDelays()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler[V]{
		loader:   loader,
		delays:   delays,
		logger:   logger.With(slog.String("component", "preload")),
		agg:      agg,
		recorder: recorder,
		results:  make(map[string]V),
	}
}

// Enqueue inserts the task keeping the queue sorted by priority. Tasks with
// equal priority keep their enqueue order.
func (s *Scheduler[V]) Enqueue(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].Priority.rank() > task.Priority.rank()
	})
	s.queue = append(s.queue, Task{})
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = task
}

// Pending reports how many tasks await the next pass.
func (s *Scheduler[V]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunPass consumes the current queue. High-priority tasks finish before
// RunPass returns; Medium and Low tiers start after their configured delays on
// background goroutines that honor ctx for shutdown.
func (s *Scheduler[V]) RunPass(ctx context.Context) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	tiers := map[Priority][]Task{}
	for _, task := range pending {
		tiers[task.Priority] = append(tiers[task.Priority], task)
	}

	s.runTier(ctx, PriorityHigh, tiers[PriorityHigh])

	for _, priority := range []Priority{PriorityMedium, PriorityLow} {
		tasks := tiers[priority]
		if len(tasks) == 0 {
			continue
		}
		delay := s.delays.forPriority(priority)
		s.background.Add(1)
		go func(priority Priority, tasks []Task) {
			defer s.background.Done()
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			s.runTier(ctx, priority, tasks)
		}(priority, tasks)
	}
}

// Wait blocks until every background tier spawned so far has finished. Used
// for graceful shutdown and by tests.
func (s *Scheduler[V]) Wait() {
	s.background.Wait()
}

// IsPreloaded reports whether key has a preloaded value waiting.
func (s *Scheduler[V]) IsPreloaded(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.results[key]
	return ok
}

// GetPreloaded returns the preloaded value for key without consuming it.
func (s *Scheduler[V]) GetPreloaded(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.results[key]
	return value, ok
}

// Take removes and returns the preloaded value for key. The result cache is a
// hand-off buffer; once the orchestrator takes a value the main cache owns
// long-term retention.
func (s *Scheduler[V]) Take(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.results[key]
	if ok {
		delete(s.results, key)
	}
	return value, ok
}

// Clear drops queued tasks and preloaded results.
func (s *Scheduler[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.results = make(map[string]V)
}

func (s *Scheduler[V]) runTier(ctx context.Context, priority Priority, tasks []Task) {
	for _, task := range tasks {
		for _, key := range task.ResourceKeys {
			if ctx.Err() != nil {
				return
			}
			started := time.Now()
			value, _, err := s.loader(ctx, key)
			if err != nil {
				s.agg.ObserveError(true)
				s.recorder.ObservePreload(string(priority), true)
				s.logger.Warn("preload failed",
					slog.String("key", key),
					slog.String("priority", string(priority)),
					slog.Any("error", err))
				continue
			}
			s.mu.Lock()
			s.results[key] = value
			s.mu.Unlock()
			s.agg.ObserveLoadTime(time.Since(started))
			s.recorder.ObservePreload(string(priority), false)
			s.logger.Debug("preloaded key",
				slog.String("key", key),
				slog.String("priority", string(priority)))
		}
	}
}
