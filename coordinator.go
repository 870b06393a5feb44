package fairlead

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sourcegraph/conc/pool"

	"github.com/arloliu/fairlead/internal/contender"
	"github.com/arloliu/fairlead/internal/election"
	"github.com/arloliu/fairlead/internal/fairshare"
	"github.com/arloliu/fairlead/internal/hooks"
	"github.com/arloliu/fairlead/internal/kvutil"
	"github.com/arloliu/fairlead/internal/ledger"
	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/membership"
	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/internal/rebalance"
	"github.com/arloliu/fairlead/internal/stableid"
	"github.com/arloliu/fairlead/internal/work"
	"github.com/arloliu/fairlead/types"
)

// Coordinator distributes a fixed set of tasks across a fleet of instances.
//
// Each task has its own leader election. A granted contender accepts the task
// only while this instance holds fewer than its fair share
// (ceil(tasks/instances)), and a membership watcher releases surplus tasks
// when instances join, so ownership converges to an even spread.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Working state is guarded by one process-wide lock shared by every
//     contender and the watcher
//
// Lifecycle:
//   - Create with NewCoordinator()
//   - Call Start() to enumerate tasks, register and begin contending
//   - Use hooks to observe tasks starting and stopping
//   - Call Stop() for graceful shutdown
type Coordinator struct {
	cfg    Config
	conn   *nats.Conn
	source TaskSource
	work   WorkFunc

	elector    Elector
	membership Membership
	hooks      *hooks.Dispatcher
	metrics    MetricsCollector
	logger     Logger

	state      atomic.Int32 // State
	instanceID atomic.Value // string

	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	tasks        []Task
	ledger       *ledger.Ledger
	contenders   map[string]*contender.Contender
	watcher      *rebalance.Watcher
	registration types.Registration
	claimer      *stableid.Claimer
}

// NewCoordinator creates a Coordinator.
//
// A nil conn is allowed when WithCoordination supplies both the elector and
// the membership service; the NATS KV Coordination Service is used otherwise.
//
// Parameters:
//   - cfg: Configuration; zero fields are filled with defaults
//   - conn: NATS connection (nil with WithCoordination)
//   - source: Task registry, enumerated once by Start
//   - work: Work performed once per interval while a task is executed
//   - opts: Optional dependencies (logger, metrics, hooks, coordination)
//
// Returns:
//   - *Coordinator: Coordinator in StateInit
//   - error: Missing dependency or invalid configuration
//
// Example:
//
//	cfg := fairlead.DefaultConfig()
//	src := source.NewStaticIDs("billing", "reports", "cleanup")
//	coord, err := fairlead.NewCoordinator(&cfg, nc, src, func(ctx context.Context, task fairlead.Task) error {
//	    return process(ctx, task.ID)
//	})
func NewCoordinator(cfg *Config, conn *nats.Conn, source TaskSource, work WorkFunc, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if source == nil {
		return nil, ErrTaskSourceRequired
	}
	if work == nil {
		return nil, ErrWorkFuncRequired
	}

	options := &coordinatorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if conn == nil && (options.elector == nil || options.membership == nil) {
		return nil, ErrCoordinationRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	c := &Coordinator{
		cfg:        *cfg,
		conn:       conn,
		source:     source,
		work:       work,
		elector:    options.elector,
		membership: options.membership,
		hooks:      hooks.NewDispatcher(options.hooks, loggerInstance),
		metrics:    metricsCollector,
		logger:     loggerInstance,
	}
	c.state.Store(int32(StateInit))
	c.instanceID.Store("")

	return c, nil
}

// Start enumerates the tasks, joins the fleet and begins contending for
// every task.
//
// Startup order:
//  1. List tasks (none is fatal: ErrNoTasks), validate IDs
//  2. Ensure KV buckets and resolve the instance ID
//  3. Start the membership watcher (snapshot first)
//  4. Register this instance under every task scope
//  5. Start one contender per task
//
// A failed start undoes the steps already taken and leaves the coordinator
// in StateStopped.
//
// Parameters:
//   - ctx: Context bounding startup (StartupTimeout is also applied)
//
// Returns:
//   - error: Startup error, or ErrAlreadyStarted
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.transitionState(StateInit, StateStarting)

	startupCtx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
	defer cancel()

	if err := c.start(startupCtx); err != nil {
		c.logger.Error("coordinator start failed", "error", err)

		cleanupCtx, cleanupCancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
		defer cleanupCancel()
		if cleanupErr := c.teardown(cleanupCtx); cleanupErr != nil {
			c.logger.Warn("cleanup after failed start incomplete", "error", cleanupErr)
		}
		c.transitionState(StateStarting, StateStopped)

		return err
	}

	c.transitionState(StateStarting, StateRunning)

	return nil
}

func (c *Coordinator) start(ctx context.Context) error {
	tasks, err := c.listTasks(ctx)
	if err != nil {
		return err
	}

	var electionKV, membersKV, identityKV jetstream.KeyValue
	if c.conn != nil && (c.elector == nil || c.membership == nil || c.cfg.InstanceID == "") {
		js, err := jetstream.New(c.conn)
		if err != nil {
			return fmt.Errorf("failed to create jetstream context: %w", err)
		}

		buckets, err := kvutil.EnsureBuckets(ctx, js,
			kvutil.BucketSpec{Name: c.cfg.KVBuckets.ElectionBucket, TTL: c.cfg.LeaseTTL},
			kvutil.BucketSpec{Name: c.cfg.KVBuckets.MembersBucket, TTL: c.cfg.MemberTTL},
			kvutil.BucketSpec{Name: c.cfg.KVBuckets.IdentityBucket, TTL: c.cfg.InstanceIDTTL},
		)
		if err != nil {
			return fmt.Errorf("failed to ensure KV buckets: %w", err)
		}
		electionKV = buckets[c.cfg.KVBuckets.ElectionBucket]
		membersKV = buckets[c.cfg.KVBuckets.MembersBucket]
		identityKV = buckets[c.cfg.KVBuckets.IdentityBucket]
	}

	instanceID, err := c.resolveInstanceID(ctx, identityKV)
	if err != nil {
		return err
	}

	if c.elector == nil {
		c.elector, err = election.NewElector(election.Config{
			KV:           electionKV,
			InstanceID:   instanceID,
			LeaseTTL:     c.cfg.LeaseTTL,
			PollInterval: c.cfg.ElectionPollInterval,
			RequeueDelay: c.cfg.RequeueDelay,
			OpTimeout:    c.cfg.OperationTimeout,
			AcquireRate:  c.cfg.AcquireRate,
			AcquireBurst: c.cfg.AcquireBurst,
			Logger:       c.logger,
			Metrics:      c.metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create elector: %w", err)
		}
	}
	if c.membership == nil {
		c.membership, err = membership.New(membership.Config{
			KV:                membersKV,
			HeartbeatInterval: c.cfg.HeartbeatInterval,
			ReconcileInterval: c.cfg.ReconcileInterval,
			OpTimeout:         c.cfg.OperationTimeout,
			Logger:            c.logger,
			Metrics:           c.metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create membership service: %w", err)
		}
	}

	led := ledger.New(len(tasks))
	watcher, err := rebalance.New(rebalance.Config{
		Scope:       tasks[0].ID,
		Ledger:      led,
		Membership:  c.membership,
		Selector:    fairshare.NewSelector(instanceID),
		ReadTimeout: c.cfg.OperationTimeout,
		Logger:      c.logger,
		Metrics:     c.metrics,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tasks = tasks
	c.ledger = led
	c.watcher = watcher
	lifetime := c.ctx
	c.mu.Unlock()

	snapshot, err := watcher.Start(lifetime)
	if err != nil {
		return fmt.Errorf("failed to start membership watcher: %w", err)
	}
	c.logger.Info("fleet observed", "instance_id", instanceID, "members", len(snapshot), "tasks", len(tasks))

	registration, err := c.membership.Register(ctx, instanceID, types.TaskIDs(tasks))
	if err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	c.mu.Lock()
	c.registration = registration
	c.mu.Unlock()

	contenders := make(map[string]*contender.Contender, len(tasks))
	for _, task := range tasks {
		unit := work.NewUnit(task, c.work, c.cfg.WorkInterval,
			work.WithLogger(c.logger),
			work.WithMetrics(c.metrics),
		)
		ct, err := contender.New(contender.Config{
			Task:         task,
			Unit:         unit,
			Ledger:       led,
			Membership:   c.membership,
			StuckTimeout: c.cfg.StuckLeadershipTimeout,
			ReadTimeout:  c.cfg.OperationTimeout,
			Logger:       c.logger,
			Metrics:      c.metrics,
			Hooks:        c.hooks,
		})
		if err != nil {
			return err
		}
		contenders[task.ID] = ct
	}

	c.mu.Lock()
	c.contenders = contenders
	c.mu.Unlock()

	for _, task := range tasks {
		if err := contenders[task.ID].Start(lifetime, c.elector); err != nil {
			return fmt.Errorf("failed to start contender: %w", err)
		}
	}

	return nil
}

// listTasks enumerates and validates the task registry.
func (c *Coordinator) listTasks(ctx context.Context) ([]Task, error) {
	tasks, err := c.source.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		c.logger.Error("no task definitions found, refusing to start")
		return nil, ErrNoTasks
	}

	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[task.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		seen[task.ID] = struct{}{}
	}

	return slices.Clone(tasks), nil
}

// resolveInstanceID uses the configured ID, claims one from the identity
// bucket, or generates a random one when no bucket is available.
func (c *Coordinator) resolveInstanceID(ctx context.Context, identityKV jetstream.KeyValue) (string, error) {
	id := c.cfg.InstanceID
	switch {
	case id != "":
	case identityKV != nil:
		claimer := stableid.NewClaimer(identityKV, c.cfg.InstanceIDPrefix,
			c.cfg.InstanceIDMin, c.cfg.InstanceIDMax, c.cfg.InstanceIDTTL, c.logger)
		claimed, err := claimer.Claim(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to claim instance ID: %w", err)
		}
		if err := claimer.StartRenewal(); err != nil {
			return "", fmt.Errorf("failed to renew instance ID: %w", err)
		}
		c.mu.Lock()
		c.claimer = claimer
		c.mu.Unlock()
		id = claimed
	default:
		id = c.cfg.InstanceIDPrefix + "-" + uuid.NewString()
	}

	c.instanceID.Store(id)

	return id, nil
}

// Stop gracefully shuts down the coordinator.
//
// Every executing task is stopped, leadership is handed back, the
// registration is removed and a claimed instance ID is released. Safe to
// call multiple times: subsequent calls return ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout (ShutdownTimeout applies when it has no deadline)
//
// Returns:
//   - error: Joined shutdown errors or timeout
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.ctx == nil || c.State() != StateRunning {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.transitionState(StateRunning, StateStopping)
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := c.teardown(ctx)
	c.transitionState(StateStopping, StateStopped)

	if err != nil {
		c.logger.Error("coordinator stopped with errors", "error", err)
		return err
	}
	c.logger.Info("coordinator stopped gracefully", "instance_id", c.InstanceID())

	return nil
}

// teardown releases everything start acquired, in reverse order.
func (c *Coordinator) teardown(ctx context.Context) error {
	c.mu.RLock()
	cancel := c.cancel
	contenders := c.contenders
	watcher := c.watcher
	registration := c.registration
	claimer := c.claimer
	c.mu.RUnlock()

	cancel()

	var errs []error

	p := pool.New().WithErrors()
	for _, ct := range contenders {
		p.Go(ct.Close)
	}
	closed := make(chan error, 1)
	go func() { closed <- p.Wait() }()

	select {
	case err := <-closed:
		if err != nil {
			errs = append(errs, fmt.Errorf("contender close failed: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("shutdown timeout waiting for contenders: %w", ctx.Err()))

		// Membership and the claimed ID must still go, or peers keep counting
		// this instance.
		var cancelRest context.CancelFunc
		ctx, cancelRest = context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OperationTimeout)
		defer cancelRest()
	}

	if watcher != nil {
		if err := watcher.Stop(); err != nil && !errors.Is(err, types.ErrWatcherNotStarted) {
			errs = append(errs, fmt.Errorf("watcher stop failed: %w", err))
		}
	}

	if registration != nil {
		if err := registration.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("registration close failed: %w", err))
		}
	}

	if claimer != nil {
		if err := claimer.Release(ctx); err != nil && !errors.Is(err, stableid.ErrNotClaimed) {
			errs = append(errs, fmt.Errorf("instance ID release failed: %w", err))
		}
	}

	hooksDone := make(chan struct{})
	go func() {
		c.hooks.Wait()
		close(hooksDone)
	}()
	select {
	case <-hooksDone:
	case <-ctx.Done():
		c.logger.Warn("shutdown timeout waiting for hooks")
	}

	c.metrics.RecordWorkingCount(0)

	return errors.Join(errs...)
}

// InstanceID returns this instance's fleet identity.
//
// Returns:
//   - string: Instance ID (empty before Start resolved it)
func (c *Coordinator) InstanceID() string {
	if id, ok := c.instanceID.Load().(string); ok {
		return id
	}

	return ""
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Tasks returns the task registry enumerated at Start, in registry order.
func (c *Coordinator) Tasks() []Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.tasks)
}

// WorkingCount returns how many tasks this instance currently executes.
func (c *Coordinator) WorkingCount() int {
	c.mu.RLock()
	led := c.ledger
	c.mu.RUnlock()

	if led == nil {
		return 0
	}

	return led.WorkingCount()
}

// ExecutingTasks returns the IDs of the tasks this instance executes, sorted.
func (c *Coordinator) ExecutingTasks() []string {
	c.mu.RLock()
	led := c.ledger
	c.mu.RUnlock()

	if led == nil {
		return []string{}
	}

	return led.ExecutingIDs()
}

// TaskState returns the leadership lifecycle state of one task on this instance.
//
// Returns:
//   - ContenderState: Current contender state
//   - error: ErrNotStarted before Start, ErrUnknownTask for unregistered IDs
func (c *Coordinator) TaskState(taskID string) (ContenderState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.contenders == nil {
		return ContenderIdle, ErrNotStarted
	}

	ct, ok := c.contenders[taskID]
	if !ok {
		return ContenderIdle, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	return ct.State(), nil
}

// Rebalance runs one release pass immediately, as if an instance had joined.
//
// Returns:
//   - []string: Tasks released by this pass
//   - error: ErrNotStarted, or the membership read error that aborted the pass
func (c *Coordinator) Rebalance(ctx context.Context) ([]string, error) {
	if c.State() != StateRunning {
		return nil, ErrNotStarted
	}

	c.mu.RLock()
	watcher := c.watcher
	c.mu.RUnlock()

	return watcher.Rebalance(ctx)
}

// WaitState waits for the coordinator to reach the expected state.
//
// The returned channel receives exactly one value: nil when the state is
// reached, context.DeadlineExceeded on timeout. It is closed afterwards.
//
// Example:
//
//	if err := <-coord.WaitState(fairlead.StateRunning, 5*time.Second); err != nil {
//	    return err
//	}
func (c *Coordinator) WaitState(expected State, timeout time.Duration) <-chan error {
	return c.waitFor(timeout, func() bool { return c.State() == expected })
}

// WaitWorkingCount waits until this instance executes exactly n tasks.
//
// Example:
//
//	// Three tasks on two instances: one of them settles on two tasks.
//	err := <-coord.WaitWorkingCount(2, 10*time.Second)
func (c *Coordinator) WaitWorkingCount(n int, timeout time.Duration) <-chan error {
	return c.waitFor(timeout, func() bool { return c.WorkingCount() == n })
}

func (c *Coordinator) waitFor(timeout time.Duration, cond func() bool) <-chan error {
	ch := make(chan error, 1)

	go func() {
		defer close(ch)

		if cond() {
			ch <- nil
			return
		}

		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case <-ticker.C:
				if cond() {
					ch <- nil
					return
				}
			case <-timer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// transitionState moves the lifecycle from one state to another and fires hooks.
func (c *Coordinator) transitionState(from, to State) {
	if !isValidTransition(from, to) {
		c.logger.Error("invalid state transition attempted", "from", from.String(), "to", to.String())
		return
	}

	c.state.Store(int32(to)) //nolint:gosec // State values are controlled enum

	c.logger.Info("state transition",
		"from", from.String(),
		"to", to.String(),
		"instance_id", c.InstanceID(),
	)

	c.hooks.StateChanged(context.Background(), from, to)
	c.metrics.RecordStateTransition(from, to)
}

// validTransitions lists the allowed lifecycle moves.
var validTransitions = map[State][]State{
	StateInit:     {StateStarting},
	StateStarting: {StateRunning, StateStopped},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
	StateStopped:  {},
}

func isValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}
