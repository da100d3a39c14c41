// Package workflow provides a durable execution substrate for message
// processing workflows.
//
// # Overview
//
// A workflow is an ordinary Go function that drives a sequence of activity
// invocations through the Host interface. Every completed invocation is
// recorded in an append-only history before the workflow advances, so a
// process crash never loses progress: when the instance is resumed, the
// workflow function is re-executed from the top and recorded results are
// served from history instead of re-invoking the activities.
//
// # Determinism
//
// Because a resumed workflow replays its own code against recorded history,
// the workflow function must be deterministic: given the same sequence of
// activity results it must make exactly the same sequence of Invoke calls.
// Workflow code must not read the wall clock, generate random values, or
// branch on anything that is not either its input or a recorded activity
// result. Anything non-deterministic (IDs, timestamps, remote state) belongs
// inside an activity, whose result is recorded.
//
// # Side effects during replay
//
// Activity invocations are the only side effects the substrate deduplicates.
// Any other externally observable effect in workflow code (telemetry, for
// example) must consult Host.IsReplaying and suppress itself while the
// history is being re-derived.
//
// # Retries
//
// Invoke retries the activity at a fixed interval up to a bounded attempt
// count. When the budget is exhausted the failure surfaces as an
// *ExhaustedError; the individual attempt errors are never seen by the
// workflow. Exhaustion is not recorded in history, so a resumed instance
// gets a fresh retry budget for that activity.
//
// # Example
//
//	reg := workflow.NewRegistry()
//	reg.Register("Greet", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
//	    return json.Marshal("hello")
//	})
//
//	r := workflow.NewRunner(reg, workflow.NewMemoryStore())
//	err := r.Run(ctx, "instance-1", func(ctx context.Context, h workflow.Host, input json.RawMessage) error {
//	    out, err := h.Invoke(ctx, "Greet", input, policy)
//	    ...
//	}, input)
package workflow
