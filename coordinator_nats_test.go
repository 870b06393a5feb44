package fairlead

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/fairlead/source"
	fltest "github.com/arloliu/fairlead/testing"
)

func startNATSCoordinator(t *testing.T, nc *nats.Conn, tasks ...string) *Coordinator {
	t.Helper()

	cfg := TestConfig()
	cfg.WorkInterval = 20 * time.Millisecond

	c, err := NewCoordinator(&cfg, nc, source.NewStaticIDs(tasks...), noopWork,
		WithLogger(fltest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start(t.Context()))

	t.Cleanup(func() {
		if c.State() == StateRunning {
			_ = c.Stop(context.Background())
		}
	})

	return c
}

func TestCoordinator_NATS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NATS integration test in short mode")
	}

	srv, ncA := fltest.StartEmbeddedNATS(t)
	ncB := fltest.Connect(t, srv)
	tasks := []string{"t1", "t2", "t3", "t4"}

	a := startNATSCoordinator(t, ncA, tasks...)
	require.Equal(t, "node-0", a.InstanceID())
	require.NoError(t, <-a.WaitWorkingCount(4, 10*time.Second))

	b := startNATSCoordinator(t, ncB, tasks...)
	require.Equal(t, "node-1", b.InstanceID())

	require.NoError(t, <-a.WaitWorkingCount(2, 10*time.Second))
	require.NoError(t, <-b.WaitWorkingCount(2, 10*time.Second))

	// Reads of the two instances are not atomic, so a handover may briefly
	// show one task on both; the settled fleet never does.
	require.Eventually(t, func() bool {
		seen := make(map[string]int)
		for _, c := range []*Coordinator{a, b} {
			for _, id := range c.ExecutingTasks() {
				seen[id]++
			}
		}
		for _, id := range tasks {
			if seen[id] != 1 {
				return false
			}
		}

		return true
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, b.Stop(t.Context()))
	require.NoError(t, <-a.WaitWorkingCount(4, 10*time.Second))

	// The released identity is claimable again.
	c := startNATSCoordinator(t, ncB, tasks...)
	require.Equal(t, "node-1", c.InstanceID())
}
