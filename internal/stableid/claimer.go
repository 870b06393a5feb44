// Package stableid claims a stable instance identity from a bounded pool.
//
// Instances that are not given an explicit ID claim the first free
// "<prefix>-<n>" key in an identity bucket with an atomic Create. The claim is
// kept alive by revision-checked renewal well inside the bucket TTL, so a
// crashed instance's identity becomes reusable once the TTL elapses and a
// restarted instance tends to land on the same low-numbered ID.
package stableid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/natsutil"
	"github.com/arloliu/fairlead/types"
)

// Claimer errors.
var (
	ErrNoAvailableID = errors.New("no available instance ID in pool")
	ErrNotClaimed    = errors.New("instance ID not claimed")
	ErrAlreadyClosed = errors.New("claimer already closed")
	ErrClaimLost     = errors.New("instance ID claim lost")
)

const releaseWait = 5 * time.Second

// Claimer claims and renews one instance ID.
type Claimer struct {
	kv     jetstream.KeyValue
	prefix string
	minID  int
	maxID  int
	ttl    time.Duration
	logger types.Logger

	mu       sync.Mutex
	id       string
	revision uint64
	closed   bool
	renewing bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewClaimer creates a claimer over the pool prefix-minID .. prefix-maxID.
//
// Parameters:
//   - kv: Identity bucket; its TTL is the reclaim window for crashed instances
//   - prefix: ID prefix (e.g., "node")
//   - minID: First pool number (inclusive)
//   - maxID: Last pool number (inclusive)
//   - ttl: Claim TTL; renewal runs every ttl/3
//   - logger: Logger (nil for no logging)
//
// Returns:
//   - *Claimer: Unclaimed claimer
//
// Example:
//
//	claimer := stableid.NewClaimer(kv, "node", 0, 63, 30*time.Second, logger)
//	id, err := claimer.Claim(ctx)
func NewClaimer(kv jetstream.KeyValue, prefix string, minID, maxID int, ttl time.Duration, logger types.Logger) *Claimer {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Claimer{
		kv:     kv,
		prefix: prefix,
		minID:  minID,
		maxID:  maxID,
		ttl:    ttl,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Claim takes the lowest free ID in the pool.
//
// Returns:
//   - string: Claimed ID (e.g., "node-3")
//   - error: ErrNoAvailableID when every ID is held, or a KV/context error
func (c *Claimer) Claim(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrAlreadyClosed
	}
	if c.id != "" {
		return c.id, nil
	}

	for n := c.minID; n <= c.maxID; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id := fmt.Sprintf("%s-%d", c.prefix, n)
		rev, err := c.kv.Create(ctx, id, claimValue())
		if err == nil {
			c.id = id
			c.revision = rev
			c.logger.Info("instance ID claimed", "instance_id", id, "revision", rev)

			return id, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return "", fmt.Errorf("failed to claim %s: %w", id, err)
		}
	}

	c.logger.Error("instance ID pool exhausted", "prefix", c.prefix, "pool_size", c.maxID-c.minID+1)

	return "", ErrNoAvailableID
}

// StartRenewal starts background renewal of the claimed ID every ttl/3.
func (c *Claimer) StartRenewal() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrAlreadyClosed
	case c.id == "":
		return ErrNotClaimed
	case c.renewing:
		return nil
	}
	c.renewing = true

	go c.renewLoop()

	return nil
}

func (c *Claimer) renewLoop() {
	defer close(c.doneCh)

	interval := c.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := c.renew(ctx)
			cancel()
			if err != nil {
				c.logger.Warn("instance ID renewal failed", "instance_id", c.InstanceID(), "error", err)
			}
		}
	}
}

// renew refreshes the claim with the last known revision. A revision
// mismatch means the key expired and was taken by someone else.
func (c *Claimer) renew(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.id == "" {
		return ErrNotClaimed
	}

	rev, err := c.kv.Update(ctx, c.id, claimValue(), c.revision)
	if err == nil {
		c.revision = rev
		return nil
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		// Expired while we were disconnected; take it back if still free.
		if rev, err = c.kv.Create(ctx, c.id, claimValue()); err == nil {
			c.revision = rev
			return nil
		}
	}
	if errors.Is(err, jetstream.ErrKeyExists) || natsutil.IsWrongSequence(err) {
		return fmt.Errorf("%w: %s", ErrClaimLost, c.id)
	}

	return fmt.Errorf("failed to renew %s: %w", c.id, err)
}

// Close stops renewal without deleting the claim, leaving it to expire.
func (c *Claimer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	renewing := c.renewing
	close(c.stopCh)
	c.mu.Unlock()

	if renewing {
		<-c.doneCh
	}
}

// Release stops renewal and deletes the claim so the ID is immediately reusable.
func (c *Claimer) Release(ctx context.Context) error {
	c.mu.Lock()
	id := c.id
	c.mu.Unlock()

	if id == "" {
		return ErrNotClaimed
	}

	c.mu.Lock()
	renewing := c.renewing
	if !c.closed {
		c.closed = true
		close(c.stopCh)
	}
	c.mu.Unlock()

	if renewing {
		select {
		case <-c.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(releaseWait):
		}
	}

	c.mu.Lock()
	rev := c.revision
	c.id = ""
	c.mu.Unlock()

	if err := c.kv.Delete(ctx, id, jetstream.LastRevision(rev)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		if natsutil.IsWrongSequence(err) {
			return fmt.Errorf("%w: %s", ErrClaimLost, id)
		}

		return fmt.Errorf("failed to release %s: %w", id, err)
	}
	c.logger.Info("instance ID released", "instance_id", id)

	return nil
}

// InstanceID returns the claimed ID, or "" when nothing is claimed.
func (c *Claimer) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.id
}

func claimValue() []byte {
	return []byte(time.Now().UTC().Format(time.RFC3339Nano))
}
