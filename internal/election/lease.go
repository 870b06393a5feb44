package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/internal/natsutil"
	"github.com/arloliu/fairlead/types"
)

// ErrNotLeader is returned when an operation requires a held lease.
var ErrNotLeader = errors.New("not the leader")

// LeaseRecord is the value stored under a task's election key.
type LeaseRecord struct {
	InstanceID string    `json:"instance_id"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
}

// Lease is one instance's claim on one task's election key.
//
// All fields are protected by mu for thread-safe concurrent access.
type Lease struct {
	kv         jetstream.KeyValue
	key        string
	instanceID string
	metrics    types.CoordinatorMetrics

	mu       sync.RWMutex
	held     bool
	revision uint64
	record   LeaseRecord
}

// NewLease creates a lease handle for taskID.
//
// Parameters:
//   - kv: Election bucket; its TTL is the lease duration
//   - taskID: Task whose key is claimed
//   - instanceID: Identity written into the lease
//
// Returns:
//   - *Lease: Lease handle, not yet held
func NewLease(kv jetstream.KeyValue, taskID, instanceID string) *Lease {
	return &Lease{
		kv:         kv,
		key:        taskID,
		instanceID: instanceID,
		metrics:    metrics.NewNop(),
	}
}

// Key returns the election key of the lease.
func (l *Lease) Key() string {
	return l.key
}

// Acquire tries to create the election key.
//
// Returns:
//   - bool: true if the lease is now held, false if another instance holds it
//   - error: KV error other than an existing key
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	now := time.Now()
	record := LeaseRecord{
		InstanceID: l.instanceID,
		Token:      uuid.NewString(),
		AcquiredAt: now,
		RenewedAt:  now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to encode lease: %w", err)
	}

	start := time.Now()
	revision, err := l.kv.Create(ctx, l.key, data)
	l.metrics.RecordKVOperationDuration("create", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create lease key %s: %w", l.key, err)
	}

	l.mu.Lock()
	l.held = true
	l.revision = revision
	l.record = record
	l.mu.Unlock()

	return true, nil
}

// Renew rewrites the key with the held revision, restarting its TTL.
//
// Returns:
//   - error: ErrNotLeader if not held, types.ErrLeadershipLost if the key
//     changed or vanished, nil on success
func (l *Lease) Renew(ctx context.Context) error {
	l.mu.RLock()
	held, revision, record := l.held, l.revision, l.record
	l.mu.RUnlock()

	if !held {
		return ErrNotLeader
	}

	record.RenewedAt = time.Now()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode lease: %w", err)
	}

	start := time.Now()
	newRevision, err := l.kv.Update(ctx, l.key, data, revision)
	l.metrics.RecordKVOperationDuration("update", time.Since(start).Seconds())
	if err != nil {
		l.clear()
		return fmt.Errorf("%w: %w", types.ErrLeadershipLost, err)
	}

	l.mu.Lock()
	l.revision = newRevision
	l.record = record
	l.mu.Unlock()

	return nil
}

// Release deletes the key if it still carries the held revision.
//
// A key that was already taken over or expired is left alone.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.RLock()
	held, revision := l.held, l.revision
	l.mu.RUnlock()

	if !held {
		return ErrNotLeader
	}
	l.clear()

	start := time.Now()
	err := l.kv.Delete(ctx, l.key, jetstream.LastRevision(revision))
	l.metrics.RecordKVOperationDuration("delete", time.Since(start).Seconds())
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) && !natsutil.IsWrongSequence(err) {
		return fmt.Errorf("failed to delete lease key %s: %w", l.key, err)
	}

	return nil
}

// Verify checks that the key still carries the held revision.
func (l *Lease) Verify(ctx context.Context) (bool, error) {
	l.mu.RLock()
	held, revision := l.held, l.revision
	l.mu.RUnlock()

	if !held {
		return false, nil
	}

	entry, err := l.kv.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			l.clear()
			return false, nil
		}

		return false, fmt.Errorf("failed to get lease key %s: %w", l.key, err)
	}

	if entry.Revision() != revision {
		l.clear()
		return false, nil
	}

	return true, nil
}

// Held reports whether this handle believes it holds the lease.
func (l *Lease) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.held
}

// Token returns the per-acquisition token of the held lease.
func (l *Lease) Token() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.record.Token
}

func (l *Lease) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

// Holder reads the instance currently holding taskID's key.
//
// Returns:
//   - string: Holder instance ID, empty if the key does not exist
//   - error: KV or decode error
func Holder(ctx context.Context, kv jetstream.KeyValue, taskID string) (string, error) {
	entry, err := kv.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("failed to get lease key %s: %w", taskID, err)
	}

	var record LeaseRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return "", fmt.Errorf("failed to decode lease %s: %w", taskID, err)
	}

	return record.InstanceID, nil
}
