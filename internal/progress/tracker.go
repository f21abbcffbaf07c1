// Package progress tracks partially complete loads so UI surfaces can render
// incremental state. Each key owns one state machine: Loading until a terminal
// Loaded or Error, with a monotonically non-decreasing percentage while
// loading. Entries are removed explicitly; the tracker never garbage-collects
// on its own, so callers that start keys are responsible for removing them.
package progress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rivelle/assetcache/internal/clock"
)

// Status enumerates the per-key load states.
type Status string

const (
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// Snapshot is the queryable view of one key's progress.
type Snapshot struct {
	Status             Status
	ProgressPercent    float64
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
}

// MarshalJSON encodes the durations as integer milliseconds so the wire field
// names tell the truth.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status               Status  `json:"status"`
		ProgressPercent      float64 `json:"progressPercent"`
		ElapsedMs            int64   `json:"elapsedMs"`
		EstimatedRemainingMs int64   `json:"estimatedRemainingMs"`
	}{
		Status:               s.Status,
		ProgressPercent:      s.ProgressPercent,
		ElapsedMs:            s.Elapsed.Milliseconds(),
		EstimatedRemainingMs: s.EstimatedRemaining.Milliseconds(),
	})
}

type state struct {
	status         Status
	percent        float64
	startedAt      time.Time
	estimatedTotal time.Duration
	err            error

	observers map[int]func(Snapshot)
	nextObs   int
}

// Tracker owns all per-key progress state. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*state
	clock  clock.Clock
}

// NewTracker builds a tracker; a nil clock falls back to the system clock.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.System()
	}
	return &Tracker{states: make(map[string]*state), clock: clk}
}

// Handle reports progress for one key. The zero Handle is inert.
type Handle struct {
	tracker *Tracker
	key     string
}

// Start creates (or restarts) the Loading state for key and returns its handle.
func (t *Tracker) Start(key string, estimatedTotal time.Duration) Handle {
	t.mu.Lock()
	t.states[key] = &state{
		status:         StatusLoading,
		startedAt:      t.clock.Now(),
		estimatedTotal: estimatedTotal,
		observers:      make(map[int]func(Snapshot)),
	}
	t.mu.Unlock()
	return Handle{tracker: t, key: key}
}

// Update raises the completion percentage. Inputs clamp to [0,100] and
// decreases are ignored; updates after a terminal state are no-ops.
func (h Handle) Update(percent float64) {
	if h.tracker == nil {
		return
	}
	h.tracker.transition(h.key, func(s *state) bool {
		if s.status != StatusLoading {
			return false
		}
		clamped := min(max(percent, 0), 100)
		if clamped <= s.percent {
			return false
		}
		s.percent = clamped
		return true
	})
}

// Complete marks the key Loaded at 100%. Idempotent.
func (h Handle) Complete() {
	if h.tracker == nil {
		return
	}
	h.tracker.transition(h.key, func(s *state) bool {
		if s.status == StatusLoaded {
			return false
		}
		s.status = StatusLoaded
		s.percent = 100
		return true
	})
}

// Fail marks the key Error. The percentage keeps its last value so callers can
// show where the load stalled.
func (h Handle) Fail(err error) {
	if h.tracker == nil {
		return
	}
	h.tracker.transition(h.key, func(s *state) bool {
		if s.status == StatusError {
			return false
		}
		s.status = StatusError
		s.err = err
		return true
	})
}

// Query reports the current snapshot for key.
func (t *Tracker) Query(key string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshotLocked(s), true
}

// Err returns the failure recorded for key, if any.
func (t *Tracker) Err(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[key]; ok {
		return s.err
	}
	return nil
}

// Remove drops the key's state. Callers own cleanup; there is no expiry.
func (t *Tracker) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}

// Subscribe registers fn to run after every state change of key, starting with
// an immediate replay of the current snapshot. The returned disposer must be
// called to unregister; there are no timers to leak, only the observer entry.
func (t *Tracker) Subscribe(key string, fn func(Snapshot)) (func(), bool) {
	t.mu.Lock()
	s, ok := t.states[key]
	if !ok {
		t.mu.Unlock()
		return func() {}, false
	}
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	snap := t.snapshotLocked(s)
	t.mu.Unlock()

	fn(snap)
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if s, ok := t.states[key]; ok {
			delete(s.observers, id)
		}
	}, true
}

// transition applies mutate under the lock and notifies observers outside it
// when the state actually changed.
func (t *Tracker) transition(key string, mutate func(*state) bool) {
	t.mu.Lock()
	s, ok := t.states[key]
	if !ok || !mutate(s) {
		t.mu.Unlock()
		return
	}
	snap := t.snapshotLocked(s)
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	t.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (t *Tracker) snapshotLocked(s *state) Snapshot {
	elapsed := t.clock.Now().Sub(s.startedAt)
	remaining := max(s.estimatedTotal-elapsed, 0)
	return Snapshot{
		Status:             s.status,
		ProgressPercent:    s.percent,
		Elapsed:            elapsed,
		EstimatedRemaining: remaining,
	}
}
