package fairlead

import "github.com/arloliu/fairlead/types"

// Re-export types from the types package.
//
// Internal packages depend on types without importing the root package,
// while users get fairlead.Task, fairlead.Logger and so on.
type (
	State          = types.State
	ContenderState = types.ContenderState
	StopReason     = types.StopReason
	Task           = types.Task
	WorkFunc       = types.WorkFunc
	MemberEvent    = types.MemberEvent
)

// Re-export interfaces from the types package for convenience.
type (
	TaskSource       = types.TaskSource
	Elector          = types.Elector
	Membership       = types.Membership
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export State constants.
const (
	StateInit     = types.StateInit
	StateStarting = types.StateStarting
	StateRunning  = types.StateRunning
	StateStopping = types.StateStopping
	StateStopped  = types.StateStopped
)

// Re-export ContenderState constants.
const (
	ContenderIdle       = types.ContenderIdle
	ContenderContending = types.ContenderContending
	ContenderEvaluating = types.ContenderEvaluating
	ContenderExecuting  = types.ContenderExecuting
	ContenderReleasing  = types.ContenderReleasing
	ContenderClosed     = types.ContenderClosed
)

// Re-export StopReason constants.
const (
	StopReleased = types.StopReleased
	StopFault    = types.StopFault
	StopRevoked  = types.StopRevoked
)
