package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fairlead/types"
)

// TaskRecord is the value stored under each registry key.
type TaskRecord struct {
	ID      string    `json:"id"`
	AddedAt time.Time `json:"added_at"`
}

// KV is a task registry kept in a NATS KV bucket: one key per task ID.
//
// ListTasks returns tasks sorted by ID so every instance agrees on the
// registry order, including which task is first.
type KV struct {
	kv jetstream.KeyValue
}

var _ types.TaskSource = (*KV)(nil)

// NewKV creates a registry over an existing bucket.
//
// Parameters:
//   - kv: Registry bucket (no TTL)
//
// Returns:
//   - *KV: Registry source
func NewKV(kv jetstream.KeyValue) *KV {
	return &KV{kv: kv}
}

// ListTasks enumerates the registered tasks.
func (s *KV) ListTasks(ctx context.Context) ([]types.Task, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return []types.Task{}, nil
		}

		return nil, fmt.Errorf("failed to list registry keys: %w", err)
	}

	ids := []string{}
	for key := range lister.Keys() {
		ids = append(ids, key)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to list registry keys: %w", err)
	}
	sort.Strings(ids)

	tasks := make([]types.Task, len(ids))
	for i, id := range ids {
		tasks[i] = types.Task{ID: id}
	}

	return tasks, nil
}

// Add registers a task.
//
// Returns:
//   - error: ErrInvalidTaskID, ErrDuplicateTask if already registered, or a KV error
func (s *KV) Add(ctx context.Context, task types.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(TaskRecord{ID: task.ID, AddedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}

	if _, err := s.kv.Create(ctx, task.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s", types.ErrDuplicateTask, task.ID)
		}

		return fmt.Errorf("failed to register task %s: %w", task.ID, err)
	}

	return nil
}

// Remove unregisters a task. Running coordinators keep their task set until restart.
//
// Returns:
//   - error: ErrUnknownTask if not registered, or a KV error
func (s *KV) Remove(ctx context.Context, taskID string) error {
	entry, err := s.kv.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", types.ErrUnknownTask, taskID)
		}

		return fmt.Errorf("failed to read task %s: %w", taskID, err)
	}

	if err := s.kv.Delete(ctx, taskID, jetstream.LastRevision(entry.Revision())); err != nil {
		return fmt.Errorf("failed to remove task %s: %w", taskID, err)
	}

	return nil
}

// Get returns the stored record of one task.
func (s *KV) Get(ctx context.Context, taskID string) (TaskRecord, error) {
	entry, err := s.kv.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return TaskRecord{}, fmt.Errorf("%w: %s", types.ErrUnknownTask, taskID)
		}

		return TaskRecord{}, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}

	var rec TaskRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return TaskRecord{}, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}

	return rec, nil
}
