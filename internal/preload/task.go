package preload

import (
	"fmt"
	"time"
)

// Priority orders speculative load tasks. High outranks Medium outranks Low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank maps priorities onto sort order, lowest first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Validate rejects unknown priority labels before they reach the queue.
func (p Priority) Validate() error {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return nil
	default:
		return fmt.Errorf("preload: unknown priority %q", string(p))
	}
}

// Task bundles one or more resource keys to fetch speculatively. Tasks are
// consumed exactly once by the next scheduler pass. Not a wire type; HTTP
// submissions decode through the admin server's own request shape.
type Task struct {
	Priority          Priority
	ResourceKeys      []string
	EstimatedLoadTime time.Duration
}

// TierDelays sets how long each priority tier waits before starting.
type TierDelays struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

// DefaultTierDelays mirrors the shipped scheduler offsets: High runs
// immediately, Medium after 100ms, Low after 500ms.
func DefaultTierDelays() TierDelays {
	return TierDelays{High: 0, Medium: 100 * time.Millisecond, Low: 500 * time.Millisecond}
}

func (d TierDelays) forPriority(p Priority) time.Duration {
	switch p {
	case PriorityHigh:
		return d.High
	case PriorityMedium:
		return d.Medium
	default:
		return d.Low
	}
}
