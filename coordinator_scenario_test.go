package fairlead

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/fairlead/source"
	fltest "github.com/arloliu/fairlead/testing"
)

// fleet runs several coordinators against one in-process coordination service.
type fleet struct {
	t     *testing.T
	lc    *fltest.LocalCoordination
	tasks []string
}

// instance is one coordinator plus what its hooks observed.
type instance struct {
	*Coordinator

	mu      sync.Mutex
	stopped map[StopReason]int
	started atomic.Int64
}

func (in *instance) stops(reason StopReason) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.stopped[reason]
}

func newFleet(t *testing.T, tasks ...string) *fleet {
	t.Helper()

	return &fleet{
		t:     t,
		lc:    fltest.NewLocalCoordination(t, fltest.WithRequeueDelay(5*time.Millisecond)),
		tasks: tasks,
	}
}

func (f *fleet) newInstance(id string) *instance {
	f.t.Helper()

	in := &instance{stopped: make(map[StopReason]int)}
	hooks := &Hooks{
		OnTaskStarted: func(context.Context, Task) error {
			in.started.Add(1)
			return nil
		},
		OnTaskStopped: func(_ context.Context, _ Task, reason StopReason) error {
			in.mu.Lock()
			in.stopped[reason]++
			in.mu.Unlock()

			return nil
		},
	}

	cfg := TestConfig()
	cfg.InstanceID = id
	cfg.WorkInterval = 10 * time.Millisecond

	c, err := NewCoordinator(&cfg, nil, source.NewStaticIDs(f.tasks...), noopWork,
		WithCoordination(f.lc.Elector(id), f.lc.Membership()),
		WithHooks(hooks),
		WithLogger(fltest.NewTestLogger(f.t)),
	)
	require.NoError(f.t, err)
	in.Coordinator = c

	f.t.Cleanup(func() {
		if c.State() == StateRunning {
			_ = c.Stop(context.Background())
		}
	})

	return in
}

func (f *fleet) start(id string) *instance {
	f.t.Helper()

	in := f.newInstance(id)
	require.NoError(f.t, in.Start(f.t.Context()))

	return in
}

// requireDisjointCover checks every task is executed by exactly one instance.
func (f *fleet) requireDisjointCover(instances ...*instance) {
	f.t.Helper()

	owners := make(map[string]int)
	for _, in := range instances {
		for _, id := range in.ExecutingTasks() {
			owners[id]++
		}
	}
	for _, id := range f.tasks {
		require.Equal(f.t, 1, owners[id], "task %s owners", id)
	}
}

func waitWorking(t *testing.T, in *instance, n int) {
	t.Helper()
	require.NoError(t, <-in.WaitWorkingCount(n, 5*time.Second),
		"%s expected %d tasks, has %v", in.InstanceID(), n, in.ExecutingTasks())
}

// A single instance executes every task.
func TestFleet_SingleInstanceTakesAll(t *testing.T) {
	f := newFleet(t, "t1", "t2", "t3", "t4")
	a := f.start("node-a")

	waitWorking(t, a, 4)
	require.Equal(t, []string{"t1", "t2", "t3", "t4"}, a.ExecutingTasks())

	for _, id := range f.tasks {
		state, err := a.TaskState(id)
		require.NoError(t, err)
		require.Equal(t, ContenderExecuting, state)
		require.Equal(t, "node-a", f.lc.Leader(id))
	}

	_, err := a.TaskState("missing")
	require.ErrorIs(t, err, ErrUnknownTask)
}

// Two identical instances started together split the tasks evenly.
func TestFleet_TwoInstancesSplitEvenly(t *testing.T) {
	f := newFleet(t, "t1", "t2", "t3", "t4")
	a := f.newInstance("node-a")
	b := f.newInstance("node-b")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, in := range []*instance{a, b} {
		wg.Go(func() {
			errs[i] = in.Start(t.Context())
		})
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	waitWorking(t, a, 2)
	waitWorking(t, b, 2)
	f.requireDisjointCover(a, b)
}

// A join makes the loaded instance release exactly its surplus.
func TestFleet_JoinReleasesSurplus(t *testing.T) {
	f := newFleet(t, "t1", "t2", "t3", "t4")
	a := f.start("node-a")
	waitWorking(t, a, 4)

	b := f.start("node-b")
	waitWorking(t, a, 2)
	waitWorking(t, b, 2)
	f.requireDisjointCover(a, b)

	require.Eventually(t, func() bool { return a.stops(StopReleased) == 2 }, 2*time.Second, 10*time.Millisecond)

	// The fleet is settled: nothing else is released.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 2, a.stops(StopReleased))
	require.Equal(t, 0, b.stops(StopReleased))
	require.Equal(t, 2, a.WorkingCount())
	require.Equal(t, 2, b.WorkingCount())
}

// An idle instance leaving changes nothing but the timing clock.
func TestFleet_IdleLeaveOnlyResetsClock(t *testing.T) {
	f := newFleet(t, "t1")
	a := f.start("node-a")
	waitWorking(t, a, 1)

	b := f.start("node-b")
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 0, b.WorkingCount())

	grants := f.lc.Grants("t1")
	require.Greater(t, a.ledger.SinceFleetShrink(), 100*time.Millisecond)

	require.NoError(t, b.Stop(t.Context()))

	require.Eventually(t, func() bool {
		return a.ledger.SinceFleetShrink() < 100*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, a.WorkingCount())
	require.Equal(t, "node-a", f.lc.Leader("t1"))
	require.Equal(t, grants, f.lc.Grants("t1"), "leadership was not handed over")
	require.Equal(t, 0, a.stops(StopReleased)+a.stops(StopRevoked)+a.stops(StopFault))
}

func TestCoordinator_LeaveHandsOverTasks(t *testing.T) {
	f := newFleet(t, "t1", "t2", "t3", "t4")
	a := f.start("node-a")
	b := f.start("node-b")
	waitWorking(t, a, 2)
	waitWorking(t, b, 2)

	require.NoError(t, b.Stop(t.Context()))
	require.ErrorIs(t, b.Stop(t.Context()), ErrNotStarted)
	require.Equal(t, StateStopped, b.State())
	require.Equal(t, 2, b.stops(StopRevoked))

	waitWorking(t, a, 4)
}

func TestCoordinator_StopTimeoutStillLeavesFleet(t *testing.T) {
	lc := fltest.NewLocalCoordination(t, fltest.WithRequeueDelay(5*time.Millisecond))

	unblock := make(chan struct{})
	stubborn := func(context.Context, Task) error {
		<-unblock
		return nil
	}

	cfg := TestConfig()
	cfg.InstanceID = "node-a"
	cfg.StuckLeadershipTimeout = 5 * time.Second
	c, err := NewCoordinator(&cfg, nil, source.NewStaticIDs("t1"), stubborn,
		WithCoordination(lc.Elector("node-a"), lc.Membership()),
		WithLogger(fltest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { close(unblock) })

	require.NoError(t, c.Start(t.Context()))
	require.NoError(t, <-c.WaitWorkingCount(1, 5*time.Second))

	members, err := lc.Membership().Members(t.Context(), "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"node-a"}, members)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	err = c.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StateStopped, c.State())

	// The registration is gone even though the work never returned.
	members, err = lc.Membership().Members(t.Context(), "t1")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestCoordinator_CrashedInstanceTasksAreTakenOver(t *testing.T) {
	f := newFleet(t, "t1", "t2", "t3")
	a := f.start("node-a")
	b := f.start("node-b")

	require.Eventually(t, func() bool {
		return a.WorkingCount()+b.WorkingCount() == 3
	}, 5*time.Second, 10*time.Millisecond)
	require.LessOrEqual(t, a.WorkingCount(), 2)
	require.LessOrEqual(t, b.WorkingCount(), 2)

	f.lc.Crash("node-b")
	waitWorking(t, a, 3)
}

func TestCoordinator_NoOvershootUnderConcurrentGrants(t *testing.T) {
	tasks := make([]string, 10)
	for i := range tasks {
		tasks[i] = "task-" + string(rune('a'+i))
	}
	f := newFleet(t, tasks...)

	// node-b is registered before any contender of node-a runs, so every
	// grant sees two members and a share of five.
	reg, err := f.lc.Membership().Register(t.Context(), "node-b", tasks)
	require.NoError(t, err)

	a := f.start("node-a")
	waitWorking(t, a, 5)

	for range 20 {
		require.LessOrEqual(t, a.WorkingCount(), 5)
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 5, a.WorkingCount())

	require.NoError(t, reg.Close(t.Context()))
	waitWorking(t, a, 10)
}

func TestCoordinator_WorkFaultRecontends(t *testing.T) {
	lc := fltest.NewLocalCoordination(t, fltest.WithRequeueDelay(5*time.Millisecond))

	var calls atomic.Int64
	faulty := func(context.Context, Task) error {
		if calls.Add(1) == 1 {
			return context.DeadlineExceeded
		}

		return nil
	}

	var reported, faults atomic.Int64
	cfg := TestConfig()
	cfg.InstanceID = "node-a"
	cfg.WorkInterval = 10 * time.Millisecond
	c, err := NewCoordinator(&cfg, nil, source.NewStaticIDs("t1"), faulty,
		WithCoordination(lc.Elector("node-a"), lc.Membership()),
		WithHooks(&Hooks{
			OnError: func(context.Context, error) error {
				reported.Add(1)
				return nil
			},
			OnTaskStopped: func(_ context.Context, _ Task, reason StopReason) error {
				if reason == StopFault {
					faults.Add(1)
				}
				return nil
			},
		}),
		WithLogger(fltest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start(t.Context()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	require.Eventually(t, func() bool { return lc.Grants("t1") >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, <-c.WaitWorkingCount(1, 5*time.Second))
	require.Eventually(t, func() bool {
		return reported.Load() >= 1 && faults.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Greater(t, calls.Load(), int64(1))
}

func TestCoordinator_Rebalance(t *testing.T) {
	f := newFleet(t, "t1", "t2", "t3", "t4")
	a := f.start("node-a")
	waitWorking(t, a, 4)

	released, err := a.Rebalance(t.Context())
	require.NoError(t, err)
	require.Empty(t, released, "alone in the fleet, nothing is surplus")

	// A member that registers without running a coordinator makes half of
	// the tasks surplus; the watcher may already have released them.
	reg, err := f.lc.Membership().Register(t.Context(), "node-z", f.tasks)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	_, err = a.Rebalance(t.Context())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.WorkingCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return a.stops(StopReleased) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Released tasks stay unexecuted: node-z never contends.
	require.Len(t, slices.DeleteFunc(slices.Clone(f.tasks), func(id string) bool {
		return slices.Contains(a.ExecutingTasks(), id)
	}), 2)
}

func TestCoordinator_StateHooks(t *testing.T) {
	lc := fltest.NewLocalCoordination(t)

	var mu sync.Mutex
	var seen []State
	cfg := TestConfig()
	cfg.InstanceID = "node-a"
	c, err := NewCoordinator(&cfg, nil, source.NewStaticIDs("t1"), noopWork,
		WithCoordination(lc.Elector("node-a"), lc.Membership()),
		WithHooks(&Hooks{OnStateChanged: func(_ context.Context, _, to State) error {
			mu.Lock()
			seen = append(seen, to)
			mu.Unlock()

			return nil
		}}),
	)
	require.NoError(t, err)

	require.NoError(t, c.Start(t.Context()))
	require.Equal(t, StateRunning, c.State())
	require.Equal(t, "node-a", c.InstanceID())
	require.Equal(t, []Task{{ID: "t1"}}, c.Tasks())
	require.NoError(t, c.Stop(t.Context()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) == 4
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, seen)
}

func TestFleet_Churn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping churn test in short mode")
	}

	tasks := make([]string, 24)
	for i := range tasks {
		tasks[i] = "task-" + string(rune('a'+i))
	}
	f := newFleet(t, tasks...)

	ids := []string{"node-a", "node-b", "node-c", "node-d", "node-e"}
	live := make([]*instance, 0, len(ids))
	settled := func() bool {
		share := (len(tasks) + len(live) - 1) / len(live)
		total := 0
		for _, in := range live {
			n := in.WorkingCount()
			if n > share {
				return false
			}
			total += n
		}

		return total == len(tasks)
	}

	for _, id := range ids {
		live = append(live, f.start(id))
		require.Eventually(t, settled, 10*time.Second, 20*time.Millisecond, "after %s joined", id)
	}
	f.requireDisjointCover(live...)

	// Leave one by one, alternating graceful stops and crashes.
	for i := 0; len(live) > 1; i++ {
		gone := live[0]
		live = live[1:]
		if i%2 == 0 {
			require.NoError(t, gone.Stop(t.Context()))
		} else {
			f.lc.Crash(gone.InstanceID())
			require.NoError(t, gone.Stop(t.Context()))
		}
		require.Eventually(t, settled, 10*time.Second, 20*time.Millisecond, "after %s left", gone.InstanceID())
	}

	require.Equal(t, len(tasks), live[0].WorkingCount())
}
