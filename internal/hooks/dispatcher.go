package hooks

import (
	"context"
	"sync"

	"github.com/arloliu/fairlead/types"
)

// Dispatcher runs hooks in background goroutines so a slow hook never blocks
// a leadership context or the membership watcher.
//
// Hook errors are logged and otherwise ignored.
type Dispatcher struct {
	hooks  types.Hooks
	logger types.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for h. Nil callbacks are skipped.
//
// Parameters:
//   - h: User hooks (may be nil)
//   - logger: Logger for hook errors
//
// Returns:
//   - *Dispatcher: Ready to use dispatcher
func NewDispatcher(h *types.Hooks, logger types.Logger) *Dispatcher {
	d := &Dispatcher{hooks: NewNop(), logger: logger}
	if h == nil {
		return d
	}

	if h.OnTaskStarted != nil {
		d.hooks.OnTaskStarted = h.OnTaskStarted
	}
	if h.OnTaskStopped != nil {
		d.hooks.OnTaskStopped = h.OnTaskStopped
	}
	if h.OnStateChanged != nil {
		d.hooks.OnStateChanged = h.OnStateChanged
	}
	if h.OnError != nil {
		d.hooks.OnError = h.OnError
	}

	return d
}

// TaskStarted fires OnTaskStarted.
func (d *Dispatcher) TaskStarted(ctx context.Context, task types.Task) {
	d.wg.Go(func() {
		if err := d.hooks.OnTaskStarted(ctx, task); err != nil {
			d.logger.Error("task started hook error", "task", task.ID, "error", err)
		}
	})
}

// TaskStopped fires OnTaskStopped.
func (d *Dispatcher) TaskStopped(ctx context.Context, task types.Task, reason types.StopReason) {
	d.wg.Go(func() {
		if err := d.hooks.OnTaskStopped(ctx, task, reason); err != nil {
			d.logger.Error("task stopped hook error", "task", task.ID, "reason", reason, "error", err)
		}
	})
}

// StateChanged fires OnStateChanged.
func (d *Dispatcher) StateChanged(ctx context.Context, from, to types.State) {
	d.wg.Go(func() {
		if err := d.hooks.OnStateChanged(ctx, from, to); err != nil {
			d.logger.Error("state change hook error", "from", from, "to", to, "error", err)
		}
	})
}

// Error fires OnError.
func (d *Dispatcher) Error(ctx context.Context, err error) {
	d.wg.Go(func() {
		if hookErr := d.hooks.OnError(ctx, err); hookErr != nil {
			d.logger.Error("error hook error", "error", hookErr, "reported", err)
		}
	})
}

// Wait blocks until every dispatched hook has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
