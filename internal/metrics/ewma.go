package metrics

import (
	"sync"
	"time"
)

// Snapshot is the pull-based view of the aggregate load statistics.
type Snapshot struct {
	LoadTimeMsEwma   float64 `json:"loadTimeMsEwma"`
	CacheHitRateEwma float64 `json:"cacheHitRateEwma"`
	ErrorRateEwma    float64 `json:"errorRateEwma"`

	Loads  int64 `json:"loads"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// Aggregate keeps exponentially weighted moving averages over load activity.
// Each observation folds in as (old + sample) / 2; the fixed half-life keeps
// results reproducible across runs, which the tests rely on. Construct one per
// process and inject it, there is no package-level instance.
type Aggregate struct {
	mu sync.Mutex

	loadTimeMs float64
	hitRate    float64
	errorRate  float64

	loads  int64
	hits   int64
	misses int64
	errors int64
}

// NewAggregate returns a zeroed aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{}
}

// ObserveLoadTime folds one load duration into the moving average.
func (a *Aggregate) ObserveLoadTime(d time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loads++
	a.loadTimeMs = (a.loadTimeMs + float64(d.Milliseconds())) / 2
}

// ObserveHit folds a cache lookup outcome into the hit-rate average
// (hit = 1, miss = 0).
func (a *Aggregate) ObserveHit(hit bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sample := 0.0
	if hit {
		sample = 1.0
		a.hits++
	} else {
		a.misses++
	}
	a.hitRate = (a.hitRate + sample) / 2
}

// ObserveError folds a load outcome into the error-rate average
// (failure = 1, success = 0).
func (a *Aggregate) ObserveError(failed bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sample := 0.0
	if failed {
		sample = 1.0
		a.errors++
	}
	a.errorRate = (a.errorRate + sample) / 2
}

// Snapshot returns the current averages and counters.
func (a *Aggregate) Snapshot() Snapshot {
	if a == nil {
		return Snapshot{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		LoadTimeMsEwma:   a.loadTimeMs,
		CacheHitRateEwma: a.hitRate,
		ErrorRateEwma:    a.errorRate,
		Loads:            a.loads,
		Hits:             a.hits,
		Misses:           a.misses,
		Errors:           a.errors,
	}
}

// Clear resets every average and counter to zero.
func (a *Aggregate) Clear() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loadTimeMs = 0
	a.hitRate = 0
	a.errorRate = 0
	a.loads = 0
	a.hits = 0
	a.misses = 0
	a.errors = 0
}
