package fairlead

import "github.com/arloliu/fairlead/types"

// Sentinel errors re-exported from the types package.
var (
	ErrInvalidConfig        = types.ErrInvalidConfig
	ErrCoordinationRequired = types.ErrCoordinationRequired
	ErrTaskSourceRequired   = types.ErrTaskSourceRequired
	ErrWorkFuncRequired     = types.ErrWorkFuncRequired
	ErrAlreadyStarted       = types.ErrAlreadyStarted
	ErrNotStarted           = types.ErrNotStarted
	ErrNoTasks              = types.ErrNoTasks
	ErrInvalidTaskID        = types.ErrInvalidTaskID
	ErrDuplicateTask        = types.ErrDuplicateTask
	ErrUnknownTask          = types.ErrUnknownTask
	ErrInvalidInstanceID    = types.ErrInvalidInstanceID
	ErrConnectivity         = types.ErrConnectivity
	ErrLeadershipLost       = types.ErrLeadershipLost
	ErrStuckLeadership      = types.ErrStuckLeadership
	ErrWorkFault            = types.ErrWorkFault
)
