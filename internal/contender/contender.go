package contender

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/arloliu/fairlead/internal/fairshare"
	"github.com/arloliu/fairlead/internal/hooks"
	"github.com/arloliu/fairlead/internal/ledger"
	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/internal/work"
	"github.com/arloliu/fairlead/types"
)

// Default timings.
const (
	DefaultStuckTimeout = 30 * time.Second
	DefaultReadTimeout  = 5 * time.Second
)

// Config configures a Contender.
type Config struct {
	// Task is the task this contender competes for.
	Task types.Task

	// Unit runs the task's work while leadership is held.
	Unit *work.Unit

	// Ledger is the process-wide working state lock.
	Ledger *ledger.Ledger

	// Membership supplies the live instance count for the task's scope.
	Membership types.Membership

	// StuckTimeout bounds the wait for the wake signal after leadership was revoked.
	StuckTimeout time.Duration

	// ReadTimeout bounds the membership read during evaluation.
	ReadTimeout time.Duration

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *hooks.Dispatcher
}

// Contender competes for leadership of one task.
type Contender struct {
	task       types.Task
	unit       *work.Unit
	ledger     *ledger.Ledger
	membership types.Membership

	stuckTimeout time.Duration
	readTimeout  time.Duration

	logger  types.Logger
	metrics types.MetricsCollector
	hooks   *hooks.Dispatcher

	state  atomic.Int32
	grants atomic.Int64

	mu     sync.Mutex
	handle types.ContenderHandle
}

// Compile-time assertion that Contender is a ledger member.
var _ ledger.Member = (*Contender)(nil)

// New creates a contender in the Idle state and registers it with the ledger.
//
// Parameters:
//   - cfg: Contender configuration; Unit, Ledger and Membership are required
//
// Returns:
//   - *Contender: Idle contender
//   - error: Missing collaborator
func New(cfg Config) (*Contender, error) {
	if cfg.Unit == nil || cfg.Ledger == nil || cfg.Membership == nil {
		return nil, fmt.Errorf("contender %s: unit, ledger and membership are required", cfg.Task.ID)
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = DefaultStuckTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hooks.NewDispatcher(nil, cfg.Logger)
	}

	c := &Contender{
		task:         cfg.Task,
		unit:         cfg.Unit,
		ledger:       cfg.Ledger,
		membership:   cfg.Membership,
		stuckTimeout: cfg.StuckTimeout,
		readTimeout:  cfg.ReadTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		hooks:        cfg.Hooks,
	}
	c.state.Store(int32(types.ContenderIdle))
	cfg.Ledger.Register(c)

	return c, nil
}

// TaskID returns the task ID.
func (c *Contender) TaskID() string {
	return c.task.ID
}

// Task returns the task.
func (c *Contender) Task() types.Task {
	return c.task
}

// State returns the current lifecycle state.
func (c *Contender) State() types.ContenderState {
	return types.ContenderState(c.state.Load())
}

// Grants returns how many times leadership was granted to this contender.
func (c *Contender) Grants() int64 {
	return c.grants.Load()
}

// IsWorking reports whether the task counts toward the working count.
func (c *Contender) IsWorking() bool {
	return c.unit.IsWorking()
}

// Start registers the contender with the elector.
//
// Parameters:
//   - ctx: Contention lifetime; cancelling it withdraws the contender
//   - elector: Leader election capability
//
// Returns:
//   - error: Registration error or a contender that was already started
func (c *Contender) Start(ctx context.Context, elector types.Elector) error {
	if !c.state.CompareAndSwap(int32(types.ContenderIdle), int32(types.ContenderContending)) {
		return fmt.Errorf("contender %s: start in state %s", c.task.ID, c.State())
	}

	handle, err := elector.Contend(ctx, c.task.ID, c.lead)
	if err != nil {
		c.state.Store(int32(types.ContenderIdle))
		return fmt.Errorf("contender %s: register: %w", c.task.ID, err)
	}

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()

	c.logger.Debug("contender registered", "task", c.task.ID)

	return nil
}

// Release asks an executing task to stop so its leadership is relinquished.
//
// Must be called with the ledger lock held. Calling it again, or on a task
// that is not executing, changes nothing.
//
// Returns:
//   - bool: true if the task was executing and is now releasing
func (c *Contender) Release() bool {
	if !c.state.CompareAndSwap(int32(types.ContenderExecuting), int32(types.ContenderReleasing)) {
		return false
	}

	c.unit.Stop()
	c.metrics.RecordTaskReleased(c.task.ID)
	c.logger.Info("releasing task", "task", c.task.ID)

	return true
}

// Close withdraws the contender. It waits for an active leadership callback to
// return. Close is idempotent.
func (c *Contender) Close() error {
	c.state.Store(int32(types.ContenderClosed))

	c.mu.Lock()
	handle := c.handle
	c.handle = nil
	c.mu.Unlock()

	if handle == nil {
		return nil
	}

	if err := handle.Close(); err != nil {
		return fmt.Errorf("contender %s: close: %w", c.task.ID, err)
	}

	return nil
}

// transition moves to state to unless the contender is closed.
func (c *Contender) transition(to types.ContenderState) {
	for {
		cur := c.state.Load()
		if types.ContenderState(cur) == types.ContenderClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// lead is the leadership callback handed to the elector.
func (c *Contender) lead(ctx context.Context) error {
	c.grants.Add(1)
	defer c.transition(types.ContenderContending)

	since := c.ledger.SinceFleetShrink()
	c.metrics.RecordLeadershipAcquired(c.task.ID, since.Seconds())
	c.logger.Info("leadership granted", "task", c.task.ID, "since_fleet_shrink", since)

	wake := make(chan struct{}, 1)
	decision, err := c.evaluate(ctx, wake)
	if err != nil {
		c.metrics.RecordLeadershipDecision("error")
		c.logger.Error("leadership evaluation failed", "task", c.task.ID, "error", err)
		c.hooks.Error(ctx, err)

		return err
	}

	c.metrics.RecordLeadershipDecision(decision.String())
	if decision == fairshare.Abandon {
		return nil
	}

	return c.execute(ctx, wake)
}

// evaluate applies the abandon rule under the ledger lock and, on Execute,
// initializes the unit before the lock is released.
func (c *Contender) evaluate(ctx context.Context, wake chan<- struct{}) (fairshare.Decision, error) {
	decision := fairshare.Abandon

	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() {
		err = c.ledger.Do(func(tx *ledger.Tx) error {
			c.transition(types.ContenderEvaluating)

			// A unit that outlived a revoked leadership still owns the loop.
			if c.unit.IsRunning() {
				c.logger.Warn("previous execution still running, abandoning", "task", c.task.ID)
				return nil
			}

			readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
			defer cancel()

			servers, err := c.membership.Members(readCtx, c.task.ID)
			if err != nil {
				return fmt.Errorf("list members of %s: %w", c.task.ID, err)
			}

			working := tx.WorkingCount()
			decision = fairshare.Evaluate(tx.Total(), len(servers), working)
			c.logger.Info("fair share evaluated",
				"task", c.task.ID,
				"servers", len(servers),
				"working", working,
				"share", fairshare.Share(tx.Total(), len(servers)),
				"decision", decision.String(),
			)

			if decision == fairshare.Execute {
				c.unit.Init(wake)
				c.transition(types.ContenderExecuting)
				c.metrics.RecordWorkingCount(tx.WorkingCount())
			}

			return nil
		})
	})
	if r := pc.Recovered(); r != nil {
		return fairshare.Abandon, fmt.Errorf("%w: task %s: %w", types.ErrEvaluationPanic, c.task.ID, r.AsError())
	}

	return decision, err
}

// execute runs the unit and blocks until it signals the wake channel.
func (c *Contender) execute(ctx context.Context, wake <-chan struct{}) error {
	c.hooks.TaskStarted(ctx, c.task)

	results := make(chan work.Result, 1)
	go func() {
		results <- c.unit.Execute(ctx)
	}()

	revoked := false
	select {
	case <-wake:
	case <-ctx.Done():
		revoked = true
		c.logger.Warn("leadership revoked while executing", "task", c.task.ID, "cause", context.Cause(ctx))
		_ = c.ledger.Do(func(*ledger.Tx) error {
			c.unit.Stop()
			return nil
		})

		if !c.awaitWake(wake) {
			err := fmt.Errorf("%w: task %s after %s", types.ErrStuckLeadership, c.task.ID, c.stuckTimeout)
			c.metrics.RecordStuckLeadership(c.task.ID)
			c.logger.Error("stuck leadership", "task", c.task.ID, "timeout", c.stuckTimeout)
			c.hooks.Error(context.WithoutCancel(ctx), err)

			return err
		}
	}

	res := <-results
	c.metrics.RecordWorkingCount(c.ledger.WorkingCount())

	reason := c.stopReason(res, revoked)
	c.hooks.TaskStopped(context.WithoutCancel(ctx), c.task, reason)
	c.logger.Info("task execution ended",
		"task", c.task.ID,
		"reason", reason,
		"iterations", res.Iterations,
	)

	if res.Reason == work.ExitFault {
		c.hooks.Error(context.WithoutCancel(ctx), res.Err)
		return res.Err
	}

	return nil
}

func (c *Contender) awaitWake(wake <-chan struct{}) bool {
	timer := time.NewTimer(c.stuckTimeout)
	defer timer.Stop()

	select {
	case <-wake:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Contender) stopReason(res work.Result, revoked bool) types.StopReason {
	switch {
	case res.Reason == work.ExitFault:
		return types.StopFault
	case revoked || res.Reason == work.ExitShutdown:
		return types.StopRevoked
	default:
		return types.StopReleased
	}
}
