package types

import "context"

// TaskSource enumerates the task definitions the fleet distributes.
//
// Implementations can query various backends:
//   - Static: fixed list, useful for tests and small deployments
//   - NATS KV: keys of a registry bucket (the "root registry path")
//   - Custom: any discovery logic
//
// The Coordinator calls ListTasks exactly once during Start. The task set is
// fixed for the rest of the process lifetime.
type TaskSource interface {
	// ListTasks returns all task definitions.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//
	// Returns:
	//   - []Task: Discovered tasks (empty is a fatal misconfiguration for the caller)
	//   - error: Discovery error (nil on success)
	ListTasks(ctx context.Context) ([]Task, error)
}

// WorkFunc performs one interval of a task's work.
//
// It is called repeatedly, once per work interval, while this instance
// executes the task. Returning an error (or panicking) is treated as a fault:
// the execution stops and leadership of the task is relinquished.
//
// The context is cancelled when leadership of the task is lost or the
// coordinator shuts down. Stop requests from rebalancing are cooperative and
// take effect between intervals.
type WorkFunc func(ctx context.Context, task Task) error
