package types

import "context"

// Hooks defines callbacks for coordinator lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so a slow hook never holds leadership or the shared working-state lock.
// Hooks receive the coordinator's lifecycle context, which is cancelled
// during shutdown.
//
// Hook errors are logged but never change coordination decisions.
//
// Example:
//
//	hooks := &fairlead.Hooks{
//	    OnTaskStarted: func(ctx context.Context, task fairlead.Task) error {
//	        log.Printf("now executing %s", task.ID)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnTaskStarted is called after this instance accepted leadership of a task
	// and started executing it.
	OnTaskStarted func(ctx context.Context, task Task) error

	// OnTaskStopped is called after the task's execution exited and leadership
	// was handed back to the elector.
	OnTaskStopped func(ctx context.Context, task Task, reason StopReason) error

	// OnStateChanged is called when the coordinator lifecycle state changes.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called when a contained fault occurs (work fault, evaluation
	// panic, stuck leadership).
	OnError func(ctx context.Context, err error) error
}
