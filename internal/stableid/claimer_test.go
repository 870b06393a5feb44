package stableid

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fltest "github.com/arloliu/fairlead/testing"
)

func TestClaimer_WithoutClaim(t *testing.T) {
	t.Parallel()

	c := NewClaimer(nil, "node", 0, 9, time.Second, nil) // kv is never touched on these paths
	require.Empty(t, c.InstanceID())
	require.ErrorIs(t, c.StartRenewal(), ErrNotClaimed)
	require.ErrorIs(t, c.Release(t.Context()), ErrNotClaimed)
}

func TestClaimer_ClaimLowestFree(t *testing.T) {
	_, nc := fltest.StartEmbeddedNATS(t)
	kv := fltest.CreateJetStreamKV(t, nc, "ids-lowest", time.Minute)
	ctx := t.Context()

	first := NewClaimer(kv, "node", 0, 2, time.Minute, nil)
	id, err := first.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-0", id)

	again, err := first.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-0", again, "second claim returns the held ID")

	second := NewClaimer(kv, "node", 0, 2, time.Minute, nil)
	id, err = second.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-1", id)

	require.NoError(t, first.Release(ctx))

	third := NewClaimer(kv, "node", 0, 2, time.Minute, nil)
	id, err = third.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-0", id, "released ID is reused first")
}

func TestClaimer_PoolExhausted(t *testing.T) {
	_, nc := fltest.StartEmbeddedNATS(t)
	kv := fltest.CreateJetStreamKV(t, nc, "ids-exhausted", time.Minute)
	ctx := t.Context()

	_, err := NewClaimer(kv, "node", 0, 0, time.Minute, nil).Claim(ctx)
	require.NoError(t, err)

	_, err = NewClaimer(kv, "node", 0, 0, time.Minute, nil).Claim(ctx)
	require.ErrorIs(t, err, ErrNoAvailableID)
}

func TestClaimer_ConcurrentClaimsAreUnique(t *testing.T) {
	_, nc := fltest.StartEmbeddedNATS(t)
	kv := fltest.CreateJetStreamKV(t, nc, "ids-concurrent", time.Minute)
	ctx := t.Context()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			id, err := NewClaimer(kv, "node", 0, n-1, time.Minute, nil).Claim(ctx)
			if err == nil {
				ids[i] = id
			}
		})
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		require.NotEmpty(t, id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, n)
}

func TestClaimer_RenewalKeepsClaimAlive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping TTL test in short mode")
	}

	_, nc := fltest.StartEmbeddedNATS(t)
	kv := fltest.CreateJetStreamKV(t, nc, "ids-renewal", time.Second)
	ctx := t.Context()

	c := NewClaimer(kv, "node", 0, 0, time.Second, fltest.NewTestLogger(t))
	_, err := c.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, c.StartRenewal())
	require.NoError(t, c.StartRenewal(), "starting renewal twice is a no-op")

	time.Sleep(2500 * time.Millisecond)

	_, err = NewClaimer(kv, "node", 0, 0, time.Second, nil).Claim(ctx)
	require.ErrorIs(t, err, ErrNoAvailableID, "renewed claim must not expire")

	require.NoError(t, c.Release(ctx))
	require.ErrorIs(t, c.Release(ctx), ErrNotClaimed)
}

func TestClaimer_ExpiredClaimIsReclaimable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping TTL test in short mode")
	}

	_, nc := fltest.StartEmbeddedNATS(t)
	kv := fltest.CreateJetStreamKV(t, nc, "ids-expiry", time.Second)
	ctx := t.Context()

	// Claimed without renewal: behaves like a crashed instance.
	crashed := NewClaimer(kv, "node", 0, 0, time.Second, nil)
	_, err := crashed.Claim(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		id, err := NewClaimer(kv, "node", 0, 0, time.Second, nil).Claim(ctx)
		return err == nil && id == "node-0"
	}, 5*time.Second, 200*time.Millisecond)
}

func TestClaimer_CloseKeepsClaim(t *testing.T) {
	_, nc := fltest.StartEmbeddedNATS(t)
	kv := fltest.CreateJetStreamKV(t, nc, "ids-close", time.Minute)
	ctx := t.Context()

	c := NewClaimer(kv, "node", 0, 0, time.Minute, nil)
	_, err := c.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, c.StartRenewal())

	c.Close()
	c.Close()
	require.ErrorIs(t, c.StartRenewal(), ErrAlreadyClosed)
	require.Equal(t, "node-0", c.InstanceID(), "close does not delete the claim")

	_, err = kv.Get(ctx, "node-0")
	require.NoError(t, err)

	_, err = c.Claim(ctx)
	require.ErrorIs(t, err, ErrAlreadyClosed)
}
