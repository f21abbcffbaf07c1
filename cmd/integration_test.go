package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rivelle/assetcache/internal/cache"
	"github.com/rivelle/assetcache/internal/clock"
	"github.com/rivelle/assetcache/internal/config"
	"github.com/rivelle/assetcache/internal/keypath"
	"github.com/rivelle/assetcache/internal/metrics"
	"github.com/rivelle/assetcache/internal/mirror"
	"github.com/rivelle/assetcache/internal/orchestrator"
	"github.com/rivelle/assetcache/internal/policy"
	"github.com/rivelle/assetcache/internal/preload"
	"github.com/rivelle/assetcache/internal/progress"
	"github.com/rivelle/assetcache/internal/server"
)

// fullStack wires the daemon the same way main does, minus process spawning,
// so the admin surface can be exercised end to end.
func fullStack(t *testing.T, root string) (*orchestrator.Orchestrator[[]byte], *httpexpect.Expect) {
	t.Helper()

	cfg := config.DefaultConfig()
	logger := newTestLogger()

	resolver, err := keypath.NewResolver(root, cfg.Content.PathTemplate)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)
	agg := metrics.NewAggregate()

	store := cache.NewStore[[]byte](cache.Options{
		MaxSizeBytes:          cfg.Cache.MaxSizeBytes,
		DefaultTTL:            cfg.Cache.DefaultTTL(),
		EvictionBatchFraction: cfg.Cache.EvictionBatchFraction,
	}, mirror.NewMemory(), clock.System(), logger, recorder)

	scheduler := preload.NewScheduler[[]byte](newFileLoader(resolver), cfg.Preload.Delays(), logger, agg, recorder)
	tracker := progress.NewTracker(clock.System())

	admission, err := policy.Compile("", logger)
	require.NoError(t, err)

	orch := orchestrator.New[[]byte](store, scheduler, tracker, admission, orchestrator.Config{
		LoadingTimeout: cfg.Resolve.LoadingTimeout(),
	}, logger, agg, recorder)

	srv := httptest.NewServer(server.NewAdminHandler(orch, recorder.Handler()))
	t.Cleanup(srv.Close)

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   srv.Client(),
	})
	return orch, expect
}

func TestIntegrationAdminSurface(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.svg"), []byte("<svg/>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.css"), []byte("body{}"), 0o600))

	orch, expect := fullStack(t, root)

	expect.GET("/healthz").Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("status", "ok")

	// Warm the scheduler over HTTP, then let a resolve consume the result.
	expect.POST("/preload").
		WithJSON(map[string]any{
			"tasks": []map[string]any{
				{"priority": "high", "resourceKeys": []string{"logo.svg"}},
			},
		}).
		Expect().
		Status(http.StatusAccepted)

	ctx := context.Background()
	value, err := orch.Resolve(ctx, "logo.svg", func(context.Context) ([]byte, int64, error) {
		t.Fatal("loader should not run for preloaded key")
		return nil, 0, nil
	}, orchestrator.ResolveOptions{UseCache: true, UsePreload: true})
	require.NoError(t, err)
	require.Equal(t, []byte("<svg/>"), value)

	// A cold key goes through the loader and lands in the cache.
	value, err = orch.Resolve(ctx, "app.css", func(ctx context.Context) ([]byte, int64, error) {
		data, err := os.ReadFile(filepath.Join(root, "app.css"))
		return data, int64(len(data)), err
	}, orchestrator.ResolveOptions{UseCache: true, UseProgress: true, EstimatedLoadTime: 50 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, []byte("body{}"), value)

	stats := expect.GET("/stats").Expect().
		Status(http.StatusOK).
		JSON().Object()
	// Only the loader-backed resolve lands in the store; the preload result
	// was consumed directly.
	stats.Value("cache").Object().HasValue("entryCount", 1)

	expect.GET("/progress/app.css").Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("status", "loaded").
		HasValue("progressPercent", 100)

	body := expect.GET("/metrics").Expect().
		Status(http.StatusOK).
		Body()
	body.Contains("assetcache_preload_keys_total")
	body.Contains("assetcache_resolve_requests_total")
}
