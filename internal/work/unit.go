// Package work runs the body of a task while its leadership is held.
//
// A Unit loops the user's WorkFunc once per interval until it is asked to stop,
// the body faults, or its context ends. Stop is cooperative: the flag is only
// observed at iteration boundaries. Whatever ends the loop, the unit clears its
// running flag and sends exactly one signal on the wake channel supplied to
// Init, which is how the blocked leadership context learns it may return.
package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/types"
)

// ExitReason tells the owner of a unit why Execute returned.
type ExitReason int

const (
	// ExitStopped means Stop was observed at an iteration boundary.
	ExitStopped ExitReason = iota + 1

	// ExitFault means the work function returned an error or panicked.
	ExitFault

	// ExitShutdown means the execution context was cancelled.
	ExitShutdown
)

// String returns the string representation of the exit reason.
func (r ExitReason) String() string {
	switch r {
	case ExitStopped:
		return "stopped"
	case ExitFault:
		return "fault"
	case ExitShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Result describes a finished execution.
type Result struct {
	Reason     ExitReason
	Err        error
	Iterations int
}

// Unit executes one task's work loop.
type Unit struct {
	task     types.Task
	fn       types.WorkFunc
	interval time.Duration
	logger   types.Logger
	metrics  types.WorkMetrics

	running atomic.Bool
	stop    atomic.Bool

	mu   sync.Mutex
	wake chan<- struct{}
}

// Option configures a Unit.
type Option func(*Unit)

// WithLogger sets the unit logger.
func WithLogger(logger types.Logger) Option {
	return func(u *Unit) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink for interval timings.
func WithMetrics(m types.WorkMetrics) Option {
	return func(u *Unit) {
		if m != nil {
			u.metrics = m
		}
	}
}

// NewUnit creates a work unit for task.
//
// Parameters:
//   - task: Task whose work this unit runs
//   - fn: Work body executed once per interval
//   - interval: Pause between two executions of fn
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Unit: Idle unit; call Init before Execute
func NewUnit(task types.Task, fn types.WorkFunc, interval time.Duration, opts ...Option) *Unit {
	u := &Unit{
		task:     task,
		fn:       fn,
		interval: interval,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Task returns the task this unit executes.
func (u *Unit) Task() types.Task {
	return u.task
}

// Init prepares the unit for a new execution.
//
// It marks the unit running, clears any stop request left from a previous
// execution and records the wake channel. Callers hold the ledger lock so the
// working count observed by other evaluations includes this unit.
//
// Parameters:
//   - wake: Channel signalled exactly once when the next Execute returns
func (u *Unit) Init(wake chan<- struct{}) {
	u.mu.Lock()
	u.wake = wake
	u.mu.Unlock()

	u.stop.Store(false)
	u.running.Store(true)
}

// Stop requests a cooperative stop.
//
// Stop never signals the wake channel; the running loop does that once it
// observes the flag. Calling Stop again is a no-op.
//
// Returns:
//   - bool: true if this call changed the unit from working to stopping
func (u *Unit) Stop() bool {
	if !u.running.Load() {
		return false
	}

	return u.stop.CompareAndSwap(false, true)
}

// IsWorking reports whether the unit counts toward the working count:
// running and not asked to stop.
func (u *Unit) IsWorking() bool {
	return u.running.Load() && !u.stop.Load()
}

// IsRunning reports whether the loop has not yet exited, stop request or not.
func (u *Unit) IsRunning() bool {
	return u.running.Load()
}

// Execute runs the work loop until stop, fault or cancellation.
//
// On return the running flag is cleared and the wake channel passed to Init
// receives exactly one signal.
//
// Parameters:
//   - ctx: Execution context; cancellation ends the loop with ExitShutdown
//
// Returns:
//   - Result: Why the loop ended and how many iterations ran
func (u *Unit) Execute(ctx context.Context) Result {
	res := u.loop(ctx)

	u.running.Store(false)
	u.signal()

	return res
}

func (u *Unit) loop(ctx context.Context) Result {
	var res Result

	timer := time.NewTimer(u.interval)
	defer timer.Stop()

	for {
		if u.stop.Load() {
			res.Reason = ExitStopped
			return res
		}
		if ctx.Err() != nil {
			res.Reason = ExitShutdown
			return res
		}

		start := time.Now()
		err := u.runOnce(ctx)
		u.metrics.RecordWorkInterval(u.task.ID, time.Since(start).Seconds(), err == nil)
		res.Iterations++

		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				res.Reason = ExitShutdown
				return res
			}

			u.logger.Error("work execution failed", "task", u.task.ID, "iteration", res.Iterations, "error", err)
			res.Reason = ExitFault
			res.Err = fmt.Errorf("%w: task %s: %w", types.ErrWorkFault, u.task.ID, err)

			return res
		}

		timer.Reset(u.interval)
		select {
		case <-ctx.Done():
			res.Reason = ExitShutdown
			return res
		case <-timer.C:
		}
	}
}

func (u *Unit) runOnce(ctx context.Context) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = u.fn(ctx, u.task)
	})
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}

	return err
}

func (u *Unit) signal() {
	u.mu.Lock()
	wake := u.wake
	u.wake = nil
	u.mu.Unlock()

	if wake == nil {
		return
	}

	select {
	case wake <- struct{}{}:
	default:
		u.logger.Warn("wake channel already signalled", "task", u.task.ID)
	}
}
