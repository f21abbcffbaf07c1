// Package orchestrator composes the cache store, preload scheduler and
// progress tracker behind one resolve call. Concurrent resolves for the same
// key coalesce onto a single loader invocation; distinct keys load in
// parallel with no ordering guarantee between them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rivelle/assetcache/internal/cache"
	"github.com/rivelle/assetcache/internal/metrics"
	"github.com/rivelle/assetcache/internal/policy"
	"github.com/rivelle/assetcache/internal/preload"
	"github.com/rivelle/assetcache/internal/progress"
)

// DefaultLoadingTimeout bounds a resolve at ten seconds unless configured.
const DefaultLoadingTimeout = 10 * time.Second

// LoaderFunc produces the value for one resolve call along with its byte size
// for capacity accounting.
type LoaderFunc[V any] func(ctx context.Context) (V, int64, error)

// ResolveOptions selects which layers participate in one resolve call.
type ResolveOptions struct {
	UseCache    bool
	UsePreload  bool
	UseProgress bool
	// TTL overrides the store's default entry lifetime when positive.
	TTL time.Duration
	// EstimatedLoadTime seeds the progress tracker's remaining-time math.
	EstimatedLoadTime time.Duration
}

// Config tunes the orchestrator.
type Config struct {
	LoadingTimeout time.Duration
}

// Orchestrator resolves keys against cache, preload results and the caller's
// loader, in that order. Safe for concurrent use.
type Orchestrator[V any] struct {
	store     *cache.Store[V]
	scheduler *preload.Scheduler[V]
	tracker   *progress.Tracker
	admission *policy.Admission
	agg       *metrics.Aggregate
	recorder  *metrics.Recorder
	logger    *slog.Logger
	timeout   time.Duration

	flights singleflight.Group
}

type loadResult[V any] struct {
	value V
	size  int64
}

// New wires the orchestrator. Store is required; a nil tracker gets replaced
// so progress reporting always works, and scheduler, admission policy,
// aggregate and recorder may all be nil.
func New[V any](store *cache.Store[V], scheduler *preload.Scheduler[V], tracker *progress.Tracker, admission *policy.Admission, cfg Config, logger *slog.Logger, agg *metrics.Aggregate, recorder *metrics.Recorder) *Orchestrator[V] {
	if tracker == nil {
		tracker = progress.NewTracker(nil)
	}
	if cfg.LoadingTimeout <= 0 {
		cfg.LoadingTimeout = DefaultLoadingTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator[V]{
		store:     store,
		scheduler: scheduler,
		tracker:   tracker,
		admission: admission,
		agg:       agg,
		recorder:  recorder,
		logger:    logger.With(slog.String("component", "orchestrator")),
		timeout:   cfg.LoadingTimeout,
	}
}

// Resolve returns the value for key, consulting the cache, then the preload
// result cache, then the loader. Only loader failures and timeouts surface;
// concurrent callers for the same key share one loader invocation and its
// outcome.
func (o *Orchestrator[V]) Resolve(ctx context.Context, key string, loader LoaderFunc[V], opts ResolveOptions) (V, error) {
	started := time.Now()
	var zero V

	if opts.UseCache {
		if value, ok := o.store.Get(ctx, key); ok {
			o.agg.ObserveHit(true)
			o.recorder.ObserveResolve(metrics.ResolveSourceCache, metrics.ResolveOutcomeOK, time.Since(started))
			return value, nil
		}
		o.agg.ObserveHit(false)
	}

	if opts.UsePreload && o.scheduler != nil {
		if value, ok := o.scheduler.Take(key); ok {
			o.agg.ObserveLoadTime(time.Since(started))
			o.agg.ObserveError(false)
			o.recorder.ObserveResolve(metrics.ResolveSourcePreload, metrics.ResolveOutcomeOK, time.Since(started))
			return value, nil
		}
	}

	result, err, _ := o.flights.Do(key, func() (any, error) {
		return o.load(ctx, key, loader, opts)
	})
	elapsed := time.Since(started)
	if err != nil {
		o.agg.ObserveError(true)
		outcome := metrics.ResolveOutcomeError
		if errors.Is(err, ErrTimeout) {
			outcome = metrics.ResolveOutcomeTimeout
		}
		o.recorder.ObserveResolve(metrics.ResolveSourceLoader, outcome, elapsed)
		return zero, err
	}
	o.agg.ObserveLoadTime(elapsed)
	o.agg.ObserveError(false)
	o.recorder.ObserveResolve(metrics.ResolveSourceLoader, metrics.ResolveOutcomeOK, elapsed)
	return result.(loadResult[V]).value, nil
}

// load runs the single coalesced loader invocation for key. The loader runs on
// its own goroutine so a timeout can abandon it without cancellation; the
// buffered channel lets the late result be dropped instead of leaking the
// goroutine.
func (o *Orchestrator[V]) load(ctx context.Context, key string, loader LoaderFunc[V], opts ResolveOptions) (any, error) {
	var handle progress.Handle
	if opts.UseProgress {
		handle = o.tracker.Start(key, opts.EstimatedLoadTime)
	}

	type outcome struct {
		value V
		size  int64
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, size, err := loader(ctx)
		done <- outcome{value: value, size: size, err: err}
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			handle.Fail(out.err)
			return nil, &LoaderError{Key: key, Err: out.err}
		}
		handle.Complete()
		if opts.UseCache {
			if o.admission.Admit(key, out.size, 0) {
				o.store.Set(ctx, key, out.value, out.size, opts.TTL)
			} else {
				o.logger.Debug("admission policy rejected entry",
					slog.String("key", key),
					slog.Int64("size_bytes", out.size))
			}
		}
		return loadResult[V]{value: out.value, size: out.size}, nil
	case <-timer.C:
		err := fmt.Errorf("%w: key %q after %s", ErrTimeout, key, o.timeout)
		handle.Fail(err)
		o.logger.Warn("load abandoned after timeout",
			slog.String("key", key),
			slog.Duration("timeout", o.timeout))
		return nil, err
	}
}

// Preload queues the tasks and starts a scheduler pass. High-priority tasks
// are preloaded when Preload returns; lower tiers complete in the background.
func (o *Orchestrator[V]) Preload(ctx context.Context, tasks ...preload.Task) error {
	if o.scheduler == nil {
		return errors.New("orchestrator: no preload scheduler configured")
	}
	for _, task := range tasks {
		if err := task.Priority.Validate(); err != nil {
			return err
		}
	}
	for _, task := range tasks {
		o.scheduler.Enqueue(task)
	}
	o.scheduler.RunPass(ctx)
	return nil
}

// Metrics returns the aggregate load statistics.
func (o *Orchestrator[V]) Metrics() metrics.Snapshot {
	return o.agg.Snapshot()
}

// Stats returns the cache store totals.
func (o *Orchestrator[V]) Stats() cache.Stats {
	return o.store.Stats()
}

// Progress reports the tracked state for key.
func (o *Orchestrator[V]) Progress(key string) (progress.Snapshot, bool) {
	return o.tracker.Query(key)
}

// RemoveProgress drops the tracked state for key once consumed.
func (o *Orchestrator[V]) RemoveProgress(key string) {
	o.tracker.Remove(key)
}

// Clear empties the cache store, the preload result cache and the aggregate
// metrics. The durable mirror is untouched.
func (o *Orchestrator[V]) Clear() {
	o.store.Clear()
	if o.scheduler != nil {
		o.scheduler.Clear()
	}
	o.agg.Clear()
}

// Wait blocks until background preload tiers have drained. Intended for
// shutdown paths.
func (o *Orchestrator[V]) Wait() {
	if o.scheduler != nil {
		o.scheduler.Wait()
	}
}
