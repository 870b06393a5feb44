package types

// State represents the coordinator lifecycle state.
//
// States follow a defined progression:
//
//	StateInit → StateStarting → StateRunning → StateStopping → StateStopped
//
// A failed start moves straight from StateStarting to StateStopped.
type State int

const (
	// StateInit is the initial state before any operations.
	StateInit State = iota

	// StateStarting indicates tasks are being discovered and contenders registered.
	StateStarting

	// StateRunning indicates all contenders are registered and the watcher is active.
	StateRunning

	// StateStopping indicates graceful shutdown is in progress.
	StateStopping

	// StateStopped is terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ContenderState represents the leadership lifecycle of one task on this instance.
//
// The lifecycle is:
//
//	Idle → Contending → Evaluating → Executing → Releasing → Contending
//	                               ↘ Contending (abandoned)
//
// Closed is terminal and entered on shutdown.
type ContenderState int

const (
	// ContenderIdle is the state before registering with the elector.
	ContenderIdle ContenderState = iota

	// ContenderContending means the contender waits for the elector to grant leadership.
	ContenderContending

	// ContenderEvaluating means leadership was granted and the fair-share decision is being made.
	ContenderEvaluating

	// ContenderExecuting means this instance runs the task's work.
	ContenderExecuting

	// ContenderReleasing means a stop was requested and the work has not exited yet.
	ContenderReleasing

	// ContenderClosed means the contender was withdrawn from the election.
	ContenderClosed
)

// String returns the string representation of the contender state.
func (s ContenderState) String() string {
	switch s {
	case ContenderIdle:
		return "Idle"
	case ContenderContending:
		return "Contending"
	case ContenderEvaluating:
		return "Evaluating"
	case ContenderExecuting:
		return "Executing"
	case ContenderReleasing:
		return "Releasing"
	case ContenderClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StopReason describes why a task's execution ended.
type StopReason string

const (
	// StopReleased means the task was released to rebalance the fleet.
	StopReleased StopReason = "released"

	// StopFault means the work function returned an error or panicked.
	StopFault StopReason = "fault"

	// StopRevoked means leadership was lost or the coordinator is shutting down.
	StopRevoked StopReason = "revoked"
)
