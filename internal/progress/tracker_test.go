package progress

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivelle/assetcache/internal/clock"
)

func newTestTracker() (*Tracker, *clock.Manual) {
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewTracker(clk), clk
}

func TestTrackerLifecycle(t *testing.T) {
	tracker, clk := newTestTracker()

	handle := tracker.Start("audio:1", 2*time.Second)

	snap, ok := tracker.Query("audio:1")
	require.True(t, ok)
	require.Equal(t, StatusLoading, snap.Status)
	require.Equal(t, 0.0, snap.ProgressPercent)

	handle.Update(40)
	clk.Advance(500 * time.Millisecond)

	snap, _ = tracker.Query("audio:1")
	require.Equal(t, 40.0, snap.ProgressPercent)
	require.Equal(t, 500*time.Millisecond, snap.Elapsed)
	require.Equal(t, 1500*time.Millisecond, snap.EstimatedRemaining)

	handle.Complete()
	snap, _ = tracker.Query("audio:1")
	require.Equal(t, StatusLoaded, snap.Status)
	require.Equal(t, 100.0, snap.ProgressPercent)

	tracker.Remove("audio:1")
	_, ok = tracker.Query("audio:1")
	require.False(t, ok)
}

func TestTrackerUpdateMonotonicAndClamped(t *testing.T) {
	tracker, _ := newTestTracker()
	handle := tracker.Start("k", 0)

	handle.Update(63)
	handle.Update(20)
	snap, _ := tracker.Query("k")
	require.Equal(t, 63.0, snap.ProgressPercent, "decreases are rejected")

	handle.Update(150)
	snap, _ = tracker.Query("k")
	require.Equal(t, 100.0, snap.ProgressPercent, "input clamps to 100")

	handle.Update(-5)
	snap, _ = tracker.Query("k")
	require.Equal(t, 100.0, snap.ProgressPercent)
}

func TestTrackerCompleteIdempotent(t *testing.T) {
	tracker, _ := newTestTracker()
	handle := tracker.Start("k", 0)

	handle.Complete()
	handle.Complete()

	snap, _ := tracker.Query("k")
	require.Equal(t, StatusLoaded, snap.Status)
	require.Equal(t, 100.0, snap.ProgressPercent)
}

func TestTrackerFailKeepsLastPercent(t *testing.T) {
	tracker, _ := newTestTracker()
	handle := tracker.Start("k", 0)

	handle.Update(63)
	failure := errors.New("connection reset")
	handle.Fail(failure)

	snap, _ := tracker.Query("k")
	require.Equal(t, StatusError, snap.Status)
	require.Equal(t, 63.0, snap.ProgressPercent, "a failed load shows where it stalled")
	require.ErrorIs(t, tracker.Err("k"), failure)

	handle.Update(90)
	snap, _ = tracker.Query("k")
	require.Equal(t, 63.0, snap.ProgressPercent, "updates after a terminal state are ignored")
}

func TestTrackerEstimatedRemainingFloorsAtZero(t *testing.T) {
	tracker, clk := newTestTracker()
	tracker.Start("k", time.Second)

	clk.Advance(5 * time.Second)
	snap, _ := tracker.Query("k")
	require.Equal(t, time.Duration(0), snap.EstimatedRemaining)
	require.Equal(t, 5*time.Second, snap.Elapsed)
}

func TestTrackerSubscribe(t *testing.T) {
	tracker, _ := newTestTracker()
	handle := tracker.Start("k", 0)

	var seen []float64
	dispose, ok := tracker.Subscribe("k", func(snap Snapshot) {
		seen = append(seen, snap.ProgressPercent)
	})
	require.True(t, ok)

	handle.Update(25)
	handle.Update(50)
	dispose()
	handle.Update(75)

	require.Equal(t, []float64{0, 25, 50}, seen, "disposer stops further notifications")

	_, ok = tracker.Subscribe("missing", func(Snapshot) {})
	require.False(t, ok)
}

func TestSnapshotMarshalsMilliseconds(t *testing.T) {
	tracker, clk := newTestTracker()
	tracker.Start("video:1", 3*time.Second)
	clk.Advance(1500 * time.Millisecond)

	snap, ok := tracker.Query("video:1")
	require.True(t, ok)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Equal(t, float64(1500), wire["elapsedMs"])
	require.Equal(t, float64(1500), wire["estimatedRemainingMs"])
	require.Equal(t, "loading", wire["status"])
}

func TestTrackerZeroHandleInert(t *testing.T) {
	var handle Handle
	handle.Update(10)
	handle.Complete()
	handle.Fail(errors.New("x"))
}
