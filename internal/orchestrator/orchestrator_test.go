package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivelle/assetcache/internal/cache"
	"github.com/rivelle/assetcache/internal/metrics"
	"github.com/rivelle/assetcache/internal/policy"
	"github.com/rivelle/assetcache/internal/preload"
	"github.com/rivelle/assetcache/internal/progress"
)

func newTestOrchestrator(t *testing.T, cfg Config, admission *policy.Admission) (*Orchestrator[string], *preload.Scheduler[string]) {
	t.Helper()
	agg := metrics.NewAggregate()
	store := cache.NewStore[string](cache.Options{MaxSizeBytes: 1 << 20}, nil, nil, nil, nil)
	scheduler := preload.NewScheduler(func(_ context.Context, key string) (string, int64, error) {
		return "preloaded:" + key, int64(len(key)), nil
	}, preload.DefaultTierDelays(), nil, agg, nil)
	tracker := progress.NewTracker(nil)
	return New(store, scheduler, tracker, admission, cfg, nil, agg, nil), scheduler
}

func staticLoader(value string, calls *atomic.Int64) LoaderFunc[string] {
	return func(context.Context) (string, int64, error) {
		if calls != nil {
			calls.Add(1)
		}
		return value, int64(len(value)), nil
	}
}

func TestResolveCachesLoaderResult(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Config{}, nil)
	ctx := context.Background()

	var calls atomic.Int64
	opts := ResolveOptions{UseCache: true, TTL: time.Minute}

	got, err := orch.Resolve(ctx, "k", staticLoader("payload", &calls), opts)
	require.NoError(t, err)
	require.Equal(t, "payload", got)

	got, err = orch.Resolve(ctx, "k", staticLoader("payload", &calls), opts)
	require.NoError(t, err)
	require.Equal(t, "payload", got)
	require.Equal(t, int64(1), calls.Load(), "second resolve must hit the cache")

	snap := orch.Metrics()
	require.Equal(t, int64(1), snap.Hits)
	require.Equal(t, int64(1), snap.Misses)
}

func TestResolveUsesPreloadedValue(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, orch.Preload(ctx, preload.Task{
		Priority:     preload.PriorityHigh,
		ResourceKeys: []string{"x"},
	}))

	var calls atomic.Int64
	got, err := orch.Resolve(ctx, "x", staticLoader("from-loader", &calls), ResolveOptions{UsePreload: true})
	require.NoError(t, err)
	require.Equal(t, "preloaded:x", got)
	require.Equal(t, int64(0), calls.Load(), "preload hit must skip the loader")
}

func TestResolveLoaderFailurePropagates(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Config{}, nil)
	ctx := context.Background()

	boom := errors.New("backend down")
	failing := func(context.Context) (string, int64, error) { return "", 0, boom }

	_, err := orch.Resolve(ctx, "k", failing, ResolveOptions{UseProgress: true})
	var loaderErr *LoaderError
	require.ErrorAs(t, err, &loaderErr)
	require.Equal(t, "k", loaderErr.Key)
	require.ErrorIs(t, err, boom)

	snap, ok := orch.Progress("k")
	require.True(t, ok)
	require.Equal(t, progress.StatusError, snap.Status)

	metricsSnap := orch.Metrics()
	require.Equal(t, int64(1), metricsSnap.Errors)
}

func TestResolveProgressCompletesOnSuccess(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Config{}, nil)
	ctx := context.Background()

	_, err := orch.Resolve(ctx, "k", staticLoader("v", nil), ResolveOptions{UseProgress: true})
	require.NoError(t, err)

	snap, ok := orch.Progress("k")
	require.True(t, ok)
	require.Equal(t, progress.StatusLoaded, snap.Status)
	require.Equal(t, 100.0, snap.ProgressPercent)

	orch.RemoveProgress("k")
	_, ok = orch.Progress("k")
	require.False(t, ok)
}

func TestResolveCoalescesConcurrentCallers(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Config{}, nil)
	ctx := context.Background()

	var calls atomic.Int64
	release := make(chan struct{})
	slow := func(context.Context) (string, int64, error) {
		calls.Add(1)
		<-release
		return "shared", 6, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.Resolve(ctx, "same-key", slow, ResolveOptions{UseCache: true, TTL: time.Minute})
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond,
		"exactly one loader invocation should be in flight")
	// Let the remaining callers attach to the in-flight load before it
	// completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), calls.Load(), "concurrent resolves for one key share one loader call")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "shared", results[i])
	}
}

func TestResolveTimeout(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Config{LoadingTimeout: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	stuck := func(context.Context) (string, int64, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", 4, nil
	}

	_, err := orch.Resolve(ctx, "k", stuck, ResolveOptions{UseProgress: true})
	require.ErrorIs(t, err, ErrTimeout)

	snap, ok := orch.Progress("k")
	require.True(t, ok)
	require.Equal(t, progress.StatusError, snap.Status)
}

func TestResolveAdmissionPolicySkipsCaching(t *testing.T) {
	admission, err := policy.Compile("sizeBytes < 5", nil)
	require.NoError(t, err)
	orch, _ := newTestOrchestrator(t, Config{}, admission)
	ctx := context.Background()

	var calls atomic.Int64
	opts := ResolveOptions{UseCache: true, TTL: time.Minute}

	got, err := orch.Resolve(ctx, "big", staticLoader("oversized", &calls), opts)
	require.NoError(t, err)
	require.Equal(t, "oversized", got, "rejected entries still resolve")

	_, err = orch.Resolve(ctx, "big", staticLoader("oversized", &calls), opts)
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load(), "rejected entries are never cached")

	_, err = orch.Resolve(ctx, "tiny", staticLoader("ok", &calls), opts)
	require.NoError(t, err)
	_, err = orch.Resolve(ctx, "tiny", staticLoader("ok", &calls), opts)
	require.NoError(t, err)
	require.Equal(t, int64(3), calls.Load(), "admitted entries cache normally")
}

func TestClearResetsEverything(t *testing.T) {
	orch, scheduler := newTestOrchestrator(t, Config{}, nil)
	ctx := context.Background()

	_, err := orch.Resolve(ctx, "k", staticLoader("v", nil), ResolveOptions{UseCache: true, TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, orch.Preload(ctx, preload.Task{Priority: preload.PriorityHigh, ResourceKeys: []string{"p"}}))

	orch.Clear()

	require.Equal(t, 0, orch.Stats().EntryCount)
	require.False(t, scheduler.IsPreloaded("p"))
	require.Equal(t, metrics.Snapshot{}, orch.Metrics())
}

func TestPreloadRejectsUnknownPriority(t *testing.T) {
	orch, _ := newTestOrchestrator(t, Config{}, nil)
	err := orch.Preload(context.Background(), preload.Task{Priority: "urgent", ResourceKeys: []string{"x"}})
	require.Error(t, err)
}
