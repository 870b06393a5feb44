package rebalance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/fairlead/internal/fairshare"
	"github.com/arloliu/fairlead/internal/ledger"
	"github.com/arloliu/fairlead/internal/logging"
	fltest "github.com/arloliu/fairlead/testing"
	"github.com/arloliu/fairlead/types"
)

// stubMember is only touched with the ledger lock held.
type stubMember struct {
	id      string
	working bool
}

func (s *stubMember) TaskID() string  { return s.id }
func (s *stubMember) IsWorking() bool { return s.working }
func (s *stubMember) Release() bool {
	if !s.working {
		return false
	}
	s.working = false

	return true
}

type fixture struct {
	lc      *fltest.LocalCoordination
	ledger  *ledger.Ledger
	watcher *Watcher
	tasks   []string
}

func newFixture(t *testing.T, total, working int) *fixture {
	t.Helper()

	f := &fixture{
		lc:     fltest.NewLocalCoordination(t),
		ledger: ledger.New(total),
	}
	for i := range total {
		id := fmt.Sprintf("task-%d", i)
		f.tasks = append(f.tasks, id)
		f.ledger.Register(&stubMember{id: id, working: i < working})
	}

	w, err := New(Config{
		Scope:      f.tasks[0],
		Ledger:     f.ledger,
		Membership: f.lc.Membership(),
		Selector:   fairshare.NewSelector("a"),
		Logger:     logging.NewTest(t),
	})
	require.NoError(t, err)
	f.watcher = w

	return f
}

func (f *fixture) register(t *testing.T, instanceID string) types.Registration {
	t.Helper()

	reg, err := f.lc.Membership().Register(t.Context(), instanceID, f.tasks)
	require.NoError(t, err)

	return reg
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestWatcher_Lifecycle(t *testing.T) {
	f := newFixture(t, 2, 0)

	require.ErrorIs(t, f.watcher.Stop(), types.ErrWatcherNotStarted)

	f.register(t, "a")
	snapshot, err := f.watcher.Start(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, snapshot)

	_, err = f.watcher.Start(t.Context())
	require.ErrorIs(t, err, types.ErrWatcherAlreadyStarted)

	require.NoError(t, f.watcher.Stop())
	require.NoError(t, f.watcher.Stop())

	_, err = f.watcher.Start(t.Context())
	require.ErrorIs(t, err, types.ErrWatcherAlreadyStopped)
}

func TestWatcher_JoinReleasesExcess(t *testing.T) {
	f := newFixture(t, 6, 6)
	f.register(t, "a")

	_, err := f.watcher.Start(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.watcher.Stop() })

	f.register(t, "b") // share drops to 3

	require.Eventually(t, func() bool { return f.ledger.WorkingCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(3), f.watcher.Released())

	// The selector decides which tasks go, highest rank first.
	sel := fairshare.NewSelector("a")
	exclude := map[string]struct{}{}
	for range 3 {
		id, ok := sel.Pick(f.tasks, exclude)
		require.True(t, ok)
		exclude[id] = struct{}{}
	}
	for _, id := range f.ledger.ExecutingIDs() {
		require.NotContains(t, exclude, id)
	}

	f.register(t, "c") // share drops to 2
	require.Eventually(t, func() bool { return f.ledger.WorkingCount() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_LeaveOnlyResetsClock(t *testing.T) {
	f := newFixture(t, 4, 2)
	f.register(t, "a")
	regB := f.register(t, "b")

	_, err := f.watcher.Start(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.watcher.Stop() })

	time.Sleep(20 * time.Millisecond)
	before := f.ledger.SinceFleetShrink()
	require.GreaterOrEqual(t, before, 20*time.Millisecond)

	require.NoError(t, regB.Close(t.Context()))
	require.Eventually(t, func() bool { return f.ledger.SinceFleetShrink() < before }, 2*time.Second, 2*time.Millisecond)

	require.Equal(t, 2, f.ledger.WorkingCount())
	require.Zero(t, f.watcher.Released())
}

func TestWatcher_RebalanceWithinShareIsNoop(t *testing.T) {
	f := newFixture(t, 6, 3)
	f.register(t, "a")
	f.register(t, "b")

	released, err := f.watcher.Rebalance(t.Context())
	require.NoError(t, err)
	require.Empty(t, released)
	require.Equal(t, 3, f.ledger.WorkingCount())
}

func TestWatcher_MembershipErrorAbortsPass(t *testing.T) {
	f := newFixture(t, 4, 4)
	f.register(t, "a")
	f.register(t, "b")
	f.lc.FailMembers(types.ErrConnectivity)

	released, err := f.watcher.Rebalance(t.Context())
	require.ErrorIs(t, err, types.ErrConnectivity)
	require.Empty(t, released)
	require.Equal(t, 4, f.ledger.WorkingCount())

	f.lc.FailMembers(nil)
	released, err = f.watcher.Rebalance(context.Background())
	require.NoError(t, err)
	require.Len(t, released, 2)
	require.Equal(t, int64(2), f.watcher.Passes())
}
