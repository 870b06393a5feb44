package source

import (
	"context"
	"slices"

	"github.com/arloliu/fairlead/types"
)

// Static implements a task source with a fixed list of tasks.
type Static struct {
	tasks []types.Task
}

var _ types.TaskSource = (*Static)(nil)

// NewStatic creates a static task source.
//
// Parameters:
//   - tasks: Fixed list of tasks, returned in this order
//
// Returns:
//   - *Static: Initialized static source
//
// Example:
//
//	src := source.NewStatic(types.Task{ID: "billing"}, types.Task{ID: "reports"})
//	coord, err := fairlead.NewCoordinator(&cfg, nc, src, work)
func NewStatic(tasks ...types.Task) *Static {
	return &Static{tasks: slices.Clone(tasks)}
}

// NewStaticIDs creates a static task source from task IDs.
func NewStaticIDs(ids ...string) *Static {
	tasks := make([]types.Task, len(ids))
	for i, id := range ids {
		tasks[i] = types.Task{ID: id}
	}

	return &Static{tasks: tasks}
}

// ListTasks returns a copy of the fixed task list.
func (s *Static) ListTasks(_ context.Context) ([]types.Task, error) {
	return slices.Clone(s.tasks), nil
}
