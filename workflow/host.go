package workflow

import (
	"context"
	"encoding/json"
	"time"
)

// RetryPolicy bounds the retry behavior of a single activity invocation.
// The interval is fixed; there is no backoff growth.
type RetryPolicy struct {
	// Interval is the delay between attempts.
	Interval time.Duration
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
}

// Host is the capability a workflow function receives from the substrate.
type Host interface {
	// Invoke runs the named activity with the given input under the retry
	// policy, suspending the workflow until a result is available. During
	// replay the recorded output is returned without calling the activity.
	// When the retry budget runs out the returned error is an
	// *ExhaustedError.
	Invoke(ctx context.Context, name string, input json.RawMessage, policy RetryPolicy) (json.RawMessage, error)

	// IsReplaying reports whether the workflow code is currently being
	// re-executed from persisted history rather than making forward
	// progress. Side effects other than activity invocations must be
	// suppressed while this is true.
	IsReplaying() bool
}

// Func is a workflow function body. It must be deterministic; see the
// package documentation.
type Func func(ctx context.Context, h Host, input json.RawMessage) error
