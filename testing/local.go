package testing

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/fairlead/types"
)

// DefaultRequeueDelay is how long a contender that relinquished leadership
// waits before it re-enters the queue of its task.
const DefaultRequeueDelay = 5 * time.Millisecond

// errCoordinationClosed cancels leadership contexts when the coordination
// service itself shuts down.
var errCoordinationClosed = errors.New("local coordination closed")

// LocalCoordination is an in-process coordination service.
//
// Each task keeps a FIFO queue of contenders. The head of the queue is granted
// leadership; when its callback returns it is appended to the tail again after
// the requeue delay, so every other queued contender gets a turn first.
// Membership is an in-memory set per scope; watchers receive events in the
// order the changes were applied.
//
// A single LocalCoordination is shared by all simulated instances of a test.
// Each instance obtains its own Elector view through Elector(instanceID).
type LocalCoordination struct {
	requeueDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	tasks      map[string]*localTask
	scopes     map[string]map[string]struct{}
	watchers   map[string]map[*localWatch]struct{}
	contenders map[string][]*localContender
	membersErr error
}

// LocalOption configures a LocalCoordination.
type LocalOption func(*LocalCoordination)

// WithRequeueDelay sets the delay before a relinquishing contender re-enters
// its task queue.
func WithRequeueDelay(d time.Duration) LocalOption {
	return func(lc *LocalCoordination) {
		lc.requeueDelay = d
	}
}

// NewLocalCoordination creates an in-process coordination service that is
// closed when the test completes.
//
// Parameters:
//   - t: Testing context for cleanup
//   - opts: Optional settings
//
// Returns:
//   - *LocalCoordination: Ready to use coordination service
func NewLocalCoordination(t testing.TB, opts ...LocalOption) *LocalCoordination {
	ctx, cancel := context.WithCancel(context.Background())
	lc := &LocalCoordination{
		requeueDelay: DefaultRequeueDelay,
		ctx:          ctx,
		cancel:       cancel,
		tasks:        make(map[string]*localTask),
		scopes:       make(map[string]map[string]struct{}),
		watchers:     make(map[string]map[*localWatch]struct{}),
		contenders:   make(map[string][]*localContender),
	}
	for _, opt := range opts {
		opt(lc)
	}

	t.Cleanup(lc.Close)

	return lc
}

// Close cancels every active leadership and stops the task runners.
func (lc *LocalCoordination) Close() {
	lc.cancel()
	lc.wg.Wait()
}

// Elector returns the election view of one simulated instance.
func (lc *LocalCoordination) Elector(instanceID string) types.Elector {
	return &localElector{lc: lc, instanceID: instanceID}
}

// Membership returns the shared membership service.
func (lc *LocalCoordination) Membership() types.Membership {
	return &localMembership{lc: lc}
}

// Leader returns the instance currently holding leadership of taskID, or ""
// if none does.
func (lc *LocalCoordination) Leader(taskID string) string {
	task := lc.lookupTask(taskID)
	if task == nil {
		return ""
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	if task.holder == nil {
		return ""
	}

	return task.holder.instanceID
}

// Grants returns how many times leadership of taskID has been granted.
func (lc *LocalCoordination) Grants(taskID string) int {
	task := lc.lookupTask(taskID)
	if task == nil {
		return 0
	}

	task.mu.Lock()
	defer task.mu.Unlock()

	return task.grants
}

// Revoke cancels the active leadership of taskID, simulating a lost lease.
//
// Returns:
//   - bool: true if a leadership was active
func (lc *LocalCoordination) Revoke(taskID string) bool {
	task := lc.lookupTask(taskID)
	if task == nil {
		return false
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	if task.holderCancel == nil {
		return false
	}
	task.holderCancel(types.ErrLeadershipLost)

	return true
}

// Crash simulates an abrupt instance failure: its registrations disappear and
// all its contenders are withdrawn without waiting for their callbacks.
func (lc *LocalCoordination) Crash(instanceID string) {
	lc.mu.Lock()
	contenders := lc.contenders[instanceID]
	delete(lc.contenders, instanceID)
	lc.mu.Unlock()

	for _, c := range contenders {
		c.withdraw()
	}

	lc.removeMember(instanceID, nil)
}

// FailMembers makes membership reads fail with err until called with nil.
func (lc *LocalCoordination) FailMembers(err error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.membersErr = err
}

func (lc *LocalCoordination) lookupTask(taskID string) *localTask {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.tasks[taskID]
}

// task returns the queue of taskID, starting its runner on first use.
func (lc *LocalCoordination) task(taskID string) *localTask {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if t, ok := lc.tasks[taskID]; ok {
		return t
	}

	t := &localTask{id: taskID, notify: make(chan struct{}, 1)}
	lc.tasks[taskID] = t
	lc.wg.Go(func() { lc.run(t) })

	return t
}

// run grants leadership of one task to the head of its queue, one at a time.
func (lc *LocalCoordination) run(task *localTask) {
	for {
		c := task.next(lc.ctx)
		if c == nil {
			return
		}

		if !lc.grant(task, c) {
			continue
		}

		time.AfterFunc(lc.requeueDelay, func() {
			if lc.ctx.Err() == nil {
				task.enqueue(c)
			}
		})
	}
}

// grant runs the callback of c; it returns false when c was withdrawn.
func (lc *LocalCoordination) grant(task *localTask, c *localContender) bool {
	c.mu.Lock()
	if c.closed || c.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	active := make(chan struct{})
	c.active = active
	c.mu.Unlock()

	ctx, cancel := context.WithCancelCause(c.ctx)
	stop := context.AfterFunc(lc.ctx, func() { cancel(errCoordinationClosed) })

	task.mu.Lock()
	task.holder = c
	task.holderCancel = cancel
	task.grants++
	task.mu.Unlock()

	_ = c.fn(ctx)

	stop()
	cancel(nil)

	task.mu.Lock()
	task.holder = nil
	task.holderCancel = nil
	task.mu.Unlock()

	c.mu.Lock()
	c.active = nil
	closed := c.closed
	c.mu.Unlock()
	close(active)

	return !closed
}

func (lc *LocalCoordination) addMember(instanceID string, scopes []string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	for _, scope := range scopes {
		members, ok := lc.scopes[scope]
		if !ok {
			members = make(map[string]struct{})
			lc.scopes[scope] = members
		}
		if _, exists := members[instanceID]; exists {
			continue
		}
		members[instanceID] = struct{}{}

		for w := range lc.watchers[scope] {
			w.push(types.MemberEvent{Kind: types.MemberAdded, ID: instanceID})
		}
	}
}

// removeMember removes instanceID from scopes, or from every scope if nil.
func (lc *LocalCoordination) removeMember(instanceID string, scopes []string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if scopes == nil {
		for scope := range lc.scopes {
			scopes = append(scopes, scope)
		}
		sort.Strings(scopes)
	}

	for _, scope := range scopes {
		members := lc.scopes[scope]
		if _, exists := members[instanceID]; !exists {
			continue
		}
		delete(members, instanceID)

		for w := range lc.watchers[scope] {
			w.push(types.MemberEvent{Kind: types.MemberRemoved, ID: instanceID})
		}
	}
}

type localTask struct {
	id     string
	notify chan struct{}

	mu           sync.Mutex
	queue        []*localContender
	holder       *localContender
	holderCancel context.CancelCauseFunc
	grants       int
}

func (t *localTask) enqueue(c *localContender) {
	t.mu.Lock()
	t.queue = append(t.queue, c)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *localTask) remove(c *localContender) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queue = slices.DeleteFunc(t.queue, func(q *localContender) bool { return q == c })
}

// next pops the first live contender, blocking until one is queued.
func (t *localTask) next(ctx context.Context) *localContender {
	for {
		t.mu.Lock()
		for len(t.queue) > 0 {
			c := t.queue[0]
			t.queue = t.queue[1:]
			if c.live() {
				t.mu.Unlock()
				return c
			}
		}
		t.mu.Unlock()

		select {
		case <-t.notify:
		case <-ctx.Done():
			return nil
		}
	}
}

type localElector struct {
	lc         *LocalCoordination
	instanceID string
}

// Contend queues a contender at the tail of the task's queue.
func (e *localElector) Contend(ctx context.Context, taskID string, onGranted types.LeadershipFunc) (types.ContenderHandle, error) {
	if onGranted == nil {
		return nil, errors.New("leadership callback is required")
	}

	cctx, cancel := context.WithCancelCause(ctx)
	task := e.lc.task(taskID)
	c := &localContender{
		instanceID: e.instanceID,
		task:       task,
		fn:         onGranted,
		ctx:        cctx,
		cancel:     cancel,
	}

	e.lc.mu.Lock()
	e.lc.contenders[e.instanceID] = append(e.lc.contenders[e.instanceID], c)
	e.lc.mu.Unlock()

	task.enqueue(c)

	return c, nil
}

type localContender struct {
	instanceID string
	task       *localTask
	fn         types.LeadershipFunc
	ctx        context.Context
	cancel     context.CancelCauseFunc

	mu     sync.Mutex
	closed bool
	active chan struct{}
}

func (c *localContender) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.closed && c.ctx.Err() == nil
}

// withdraw marks the contender closed and cancels its leadership; it returns
// the channel closed when an active callback returns, if any.
func (c *localContender) withdraw() <-chan struct{} {
	c.mu.Lock()
	c.closed = true
	active := c.active
	c.mu.Unlock()

	c.cancel(types.ErrContenderClosed)
	c.task.remove(c)

	return active
}

// Close withdraws the contender and waits for an active callback to return.
func (c *localContender) Close() error {
	if active := c.withdraw(); active != nil {
		<-active
	}

	return nil
}

type localMembership struct {
	lc *LocalCoordination
}

func (m *localMembership) Members(ctx context.Context, scope string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.lc.mu.Lock()
	defer m.lc.mu.Unlock()

	if m.lc.membersErr != nil {
		return nil, m.lc.membersErr
	}

	return sortedKeys(m.lc.scopes[scope]), nil
}

func (m *localMembership) Watch(ctx context.Context, scope string) (types.MemberWatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &localWatch{
		lc:     m.lc,
		scope:  scope,
		out:    make(chan types.MemberEvent),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.lc.mu.Lock()
	w.snapshot = sortedKeys(m.lc.scopes[scope])
	if m.lc.watchers[scope] == nil {
		m.lc.watchers[scope] = make(map[*localWatch]struct{})
	}
	m.lc.watchers[scope][w] = struct{}{}
	m.lc.mu.Unlock()

	go w.pump()

	return w, nil
}

func (m *localMembership) Register(ctx context.Context, instanceID string, scopes []string) (types.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !types.ValidateIdentifier(instanceID) {
		return nil, types.ErrInvalidInstanceID
	}

	m.lc.addMember(instanceID, scopes)

	return &localRegistration{lc: m.lc, instanceID: instanceID, scopes: slices.Clone(scopes)}, nil
}

type localRegistration struct {
	lc         *LocalCoordination
	instanceID string
	scopes     []string
	once       sync.Once
}

func (r *localRegistration) Close(_ context.Context) error {
	r.once.Do(func() {
		r.lc.removeMember(r.instanceID, r.scopes)
	})

	return nil
}

// localWatch delivers events through an unbounded queue so membership changes
// never block on a slow consumer.
type localWatch struct {
	lc       *LocalCoordination
	scope    string
	snapshot []string
	out      chan types.MemberEvent
	signal   chan struct{}
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending []types.MemberEvent
}

func (w *localWatch) Snapshot() []string {
	return slices.Clone(w.snapshot)
}

func (w *localWatch) Events() <-chan types.MemberEvent {
	return w.out
}

func (w *localWatch) Stop() error {
	w.once.Do(func() {
		close(w.done)

		w.lc.mu.Lock()
		delete(w.lc.watchers[w.scope], w)
		w.lc.mu.Unlock()
	})

	return nil
}

func (w *localWatch) push(ev types.MemberEvent) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *localWatch) pump() {
	defer close(w.out)

	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			select {
			case <-w.signal:
				continue
			case <-w.done:
				return
			case <-w.lc.ctx.Done():
				return
			}
		}
		ev := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		select {
		case w.out <- ev:
		case <-w.done:
			return
		case <-w.lc.ctx.Done():
			return
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
