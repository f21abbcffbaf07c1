package orchestrator

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a resolve that exceeded the configured loading timeout.
// Callers can tell "slow" from "broken" with errors.Is. The underlying loader
// is not aborted; its late result is discarded.
var ErrTimeout = errors.New("orchestrator: load timed out")

// LoaderError wraps a failure from the caller-supplied loader. It is the only
// error the orchestrator propagates besides ErrTimeout; everything else is
// absorbed with logging and metrics.
type LoaderError struct {
	Key string
	Err error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("orchestrator: load %q: %v", e.Key, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }
