package workflow

import (
	"errors"
	"fmt"
)

// ErrUnknownActivity is returned when a workflow invokes an activity name
// that was never registered.
var ErrUnknownActivity = errors.New("unknown activity")

// ErrHistoryDivergence is returned when a replayed workflow invokes a
// different activity than the one recorded at the same position. This
// indicates non-deterministic workflow code.
var ErrHistoryDivergence = errors.New("history divergence")

// ExhaustedError reports that an activity's retry budget ran out.
// It wraps the error from the last attempt.
type ExhaustedError struct {
	Activity string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("activity %s exhausted after %d attempts: %v", e.Activity, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err is an activity exhaustion failure.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}
