package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ResolveSource identifies where a resolved value came from.
type ResolveSource string

const (
	// ResolveSourceCache marks values served from the in-memory cache.
	ResolveSourceCache ResolveSource = "cache"
	// ResolveSourcePreload marks values taken from the preload result cache.
	ResolveSourcePreload ResolveSource = "preload"
	// ResolveSourceLoader marks values produced by the caller's loader.
	ResolveSourceLoader ResolveSource = "loader"
)

// ResolveOutcome captures how a resolve call finished.
type ResolveOutcome string

const (
	// ResolveOutcomeOK indicates a value was returned.
	ResolveOutcomeOK ResolveOutcome = "ok"
	// ResolveOutcomeError indicates the loader failed.
	ResolveOutcomeError ResolveOutcome = "error"
	// ResolveOutcomeTimeout indicates the load exceeded the configured bound.
	ResolveOutcomeTimeout ResolveOutcome = "timeout"
)

// Recorder publishes Prometheus metrics for cache and loader activity. All
// methods are nil-safe so wiring can omit the recorder entirely.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	resolveTotal    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec

	evictedEntries prometheus.Counter
	cacheBytes     prometheus.Gauge
	cacheEntries   prometheus.Gauge

	preloadTasks *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	resolveTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetcache",
		Subsystem: "resolve",
		Name:      "requests_total",
		Help:      "Resolve calls handled by the loading orchestrator.",
	}, []string{"source", "outcome"})

	resolveDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assetcache",
		Subsystem: "resolve",
		Name:      "duration_seconds",
		Help:      "Latency distribution for completed resolve calls.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"source"})

	evictedEntries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assetcache",
		Subsystem: "cache",
		Name:      "evicted_entries_total",
		Help:      "Entries removed by capacity eviction batches.",
	})

	cacheBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "assetcache",
		Subsystem: "cache",
		Name:      "size_bytes",
		Help:      "Bytes currently held by the in-memory cache.",
	})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "assetcache",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Entries currently held by the in-memory cache.",
	})

	preloadTasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetcache",
		Subsystem: "preload",
		Name:      "keys_total",
		Help:      "Preloaded keys by priority tier and result.",
	}, []string{"priority", "result"})

	reg.MustRegister(resolveTotal, resolveDuration, evictedEntries, cacheBytes, cacheEntries, preloadTasks)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		resolveTotal:    resolveTotal,
		resolveDuration: resolveDuration,
		evictedEntries:  evictedEntries,
		cacheBytes:      cacheBytes,
		cacheEntries:    cacheEntries,
		preloadTasks:    preloadTasks,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveResolve records the source, outcome and latency of a resolve call.
func (r *Recorder) ObserveResolve(source ResolveSource, outcome ResolveOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	sourceLabel := normalizeLabel(string(source))
	outcomeLabel := normalizeLabel(string(outcome))
	r.resolveTotal.WithLabelValues(sourceLabel, outcomeLabel).Inc()
	r.resolveDuration.WithLabelValues(sourceLabel).Observe(duration.Seconds())
}

// ObserveEviction records entries removed by one eviction batch.
func (r *Recorder) ObserveEviction(removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.evictedEntries.Add(float64(removed))
}

// SetCacheSize publishes the cache's current byte and entry counts.
func (r *Recorder) SetCacheSize(totalBytes int64, entries int) {
	if r == nil {
		return
	}
	r.cacheBytes.Set(float64(totalBytes))
	r.cacheEntries.Set(float64(entries))
}

// ObservePreload records the result of preloading one key.
func (r *Recorder) ObservePreload(priority string, failed bool) {
	if r == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	r.preloadTasks.WithLabelValues(normalizeLabel(priority), result).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
