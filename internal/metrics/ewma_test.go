package metrics

import (
	"testing"
	"time"
)

func TestAggregateLoadTimeHalving(t *testing.T) {
	agg := NewAggregate()
	agg.ObserveLoadTime(100 * time.Millisecond)
	agg.ObserveLoadTime(200 * time.Millisecond)

	// (0+100)/2 = 50, (50+200)/2 = 125.
	snap := agg.Snapshot()
	if snap.LoadTimeMsEwma != 125 {
		t.Fatalf("expected load time ewma 125, got %v", snap.LoadTimeMsEwma)
	}
	if snap.Loads != 2 {
		t.Fatalf("expected 2 loads, got %d", snap.Loads)
	}
}

func TestAggregateHitAndErrorRates(t *testing.T) {
	agg := NewAggregate()
	agg.ObserveHit(true)
	agg.ObserveHit(true)
	agg.ObserveHit(false)

	// (0+1)/2 = 0.5, (0.5+1)/2 = 0.75, (0.75+0)/2 = 0.375.
	snap := agg.Snapshot()
	if snap.CacheHitRateEwma != 0.375 {
		t.Fatalf("expected hit rate 0.375, got %v", snap.CacheHitRateEwma)
	}
	if snap.Hits != 2 || snap.Misses != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}

	agg.ObserveError(true)
	snap = agg.Snapshot()
	if snap.ErrorRateEwma != 0.5 {
		t.Fatalf("expected error rate 0.5, got %v", snap.ErrorRateEwma)
	}
	if snap.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", snap.Errors)
	}
}

func TestAggregateClear(t *testing.T) {
	agg := NewAggregate()
	agg.ObserveLoadTime(50 * time.Millisecond)
	agg.ObserveHit(true)
	agg.ObserveError(true)

	agg.Clear()
	snap := agg.Snapshot()
	if snap != (Snapshot{}) {
		t.Fatalf("expected zeroed snapshot, got %+v", snap)
	}
}

func TestAggregateNilSafe(t *testing.T) {
	var agg *Aggregate
	agg.ObserveLoadTime(time.Millisecond)
	agg.ObserveHit(true)
	agg.ObserveError(false)
	agg.Clear()
	if snap := agg.Snapshot(); snap != (Snapshot{}) {
		t.Fatalf("expected zero snapshot from nil aggregate, got %+v", snap)
	}
}
