// Package hooks provides default and asynchronous dispatch for lifecycle hooks.
package hooks

import (
	"context"

	"github.com/arloliu/fairlead/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.Task) error                   = (*NopHooks)(nil).OnTaskStarted
	_ func(context.Context, types.Task, types.StopReason) error = (*NopHooks)(nil).OnTaskStopped
	_ func(context.Context, types.State, types.State) error     = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, error) error                        = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnTaskStarted:  h.OnTaskStarted,
		OnTaskStopped:  h.OnTaskStopped,
		OnStateChanged: h.OnStateChanged,
		OnError:        h.OnError,
	}
}

// OnTaskStarted is a no-op implementation.
func (h *NopHooks) OnTaskStarted(_ context.Context, _ types.Task) error {
	return nil
}

// OnTaskStopped is a no-op implementation.
func (h *NopHooks) OnTaskStopped(_ context.Context, _ types.Task, _ types.StopReason) error {
	return nil
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
