package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the fairlead library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Coordinator errors - Public API errors returned by the Coordinator.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCoordinationRequired is returned when neither a NATS connection nor a
	// coordination service was supplied.
	ErrCoordinationRequired = errors.New("NATS connection or coordination service is required")

	// ErrTaskSourceRequired is returned when the task source is nil.
	ErrTaskSourceRequired = errors.New("task source is required")

	// ErrWorkFuncRequired is returned when the work function is nil.
	ErrWorkFuncRequired = errors.New("work function is required")

	// ErrAlreadyStarted is returned when Start is called on a running coordinator.
	ErrAlreadyStarted = errors.New("coordinator already started")

	// ErrNotStarted is returned when operations require a started coordinator.
	ErrNotStarted = errors.New("coordinator not started")

	// ErrNoTasks is returned when the task source yields no task definitions.
	ErrNoTasks = errors.New("no task definitions found")

	// ErrInvalidTaskID is returned when a task ID cannot be used as a coordination key.
	ErrInvalidTaskID = errors.New("invalid task ID")

	// ErrDuplicateTask is returned when the task source yields the same ID twice.
	ErrDuplicateTask = errors.New("duplicate task ID")

	// ErrUnknownTask is returned when a task ID is not in the registry.
	ErrUnknownTask = errors.New("unknown task")

	// ErrInvalidInstanceID is returned when an instance ID cannot be used as a key token.
	ErrInvalidInstanceID = errors.New("invalid instance ID")

	// ErrConnectivity indicates a NATS/KV connectivity issue.
	// Connectivity problems are treated as an absence of events, never as fatal.
	ErrConnectivity = errors.New("connectivity issue")
)

// Leadership errors - Contender and elector errors.
var (
	// ErrLeadershipLost is returned when a held lease could not be renewed.
	ErrLeadershipLost = errors.New("leadership was lost")

	// ErrStuckLeadership is reported when a leadership context is never woken
	// after its execution was asked to stop.
	ErrStuckLeadership = errors.New("stuck leadership: execution never signalled completion")

	// ErrEvaluationPanic is reported when the fair-share evaluation panicked.
	ErrEvaluationPanic = errors.New("leadership evaluation panicked")

	// ErrWorkFault is reported when a work function failed or panicked.
	ErrWorkFault = errors.New("work execution fault")

	// ErrContenderClosed is returned when an operation targets a withdrawn contender.
	ErrContenderClosed = errors.New("contender closed")
)

// Watcher errors - Membership watcher lifecycle errors.
var (
	// ErrWatcherAlreadyStarted is returned when Start is called on a running watcher.
	ErrWatcherAlreadyStarted = errors.New("membership watcher already started")

	// ErrWatcherAlreadyStopped is returned when Start is called on a stopped watcher.
	ErrWatcherAlreadyStopped = errors.New("membership watcher already stopped")

	// ErrWatcherNotStarted is returned when Stop is called before Start.
	ErrWatcherNotStarted = errors.New("membership watcher not started")

	// ErrWatchFailed is returned when NATS KV watch operations fail.
	ErrWatchFailed = errors.New("watch operation failed")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
