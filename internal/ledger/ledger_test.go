package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id      string
	working bool
}

func (f *fakeMember) TaskID() string  { return f.id }
func (f *fakeMember) IsWorking() bool { return f.working }
func (f *fakeMember) Release() bool {
	if !f.working {
		return false
	}
	f.working = false

	return true
}

func TestLedger_WorkingCount(t *testing.T) {
	l := New(3)
	a := &fakeMember{id: "a", working: true}
	b := &fakeMember{id: "b"}
	c := &fakeMember{id: "c", working: true}
	l.Register(a)
	l.Register(b)
	l.Register(c)

	require.Equal(t, 3, l.Total())
	require.Equal(t, 2, l.WorkingCount())
	require.Equal(t, []string{"a", "c"}, l.ExecutingIDs())

	err := l.Do(func(tx *Tx) error {
		m, ok := tx.Member("a")
		require.True(t, ok)
		require.True(t, m.Release())
		require.False(t, m.Release())
		require.Equal(t, 1, tx.WorkingCount())

		_, ok = tx.Member("missing")
		require.False(t, ok)

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, l.ExecutingIDs())
}

func TestLedger_DoReleasesLockOnErrorAndPanic(t *testing.T) {
	l := New(1)
	boom := errors.New("boom")

	require.ErrorIs(t, l.Do(func(*Tx) error { return boom }), boom)

	require.Panics(t, func() {
		_ = l.Do(func(*Tx) error { panic("evaluation failed") })
	})

	// The lock must be free again.
	done := make(chan struct{})
	go func() {
		_ = l.Do(func(*Tx) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ledger lock leaked")
	}
}

func TestLedger_Serializes(t *testing.T) {
	l := New(0)
	counter := 0

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			_ = l.Do(func(*Tx) error {
				counter++
				return nil
			})
		})
	}
	wg.Wait()

	require.Equal(t, 50, counter)
}

func TestLedger_FleetShrinkClock(t *testing.T) {
	l := New(1)
	base := time.Unix(1000, 0)
	l.now = func() time.Time { return base }
	l.MarkFleetShrink()

	l.now = func() time.Time { return base.Add(3 * time.Second) }
	require.Equal(t, 3*time.Second, l.SinceFleetShrink())

	l.MarkFleetShrink()
	require.Zero(t, l.SinceFleetShrink())
}
