package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	CoordinatorMetrics
	LeadershipMetrics
	MembershipMetrics
	WorkMetrics
}

// CoordinatorMetrics defines metrics for coordinator-level operations.
type CoordinatorMetrics interface {
	// RecordStateTransition records a coordinator state transition.
	RecordStateTransition(from, to State)

	// RecordKVOperationDuration records NATS KV operation latency.
	//
	// Parameters:
	//   - operation: Operation type ("create", "update", "delete", "keys", "put")
	//   - duration: Time taken in seconds
	RecordKVOperationDuration(operation string, duration float64)
}

// LeadershipMetrics defines metrics for per-task leadership decisions.
type LeadershipMetrics interface {
	// RecordLeadershipAcquired records a granted leadership.
	//
	// Parameters:
	//   - taskID: Task whose leadership was granted
	//   - sinceFleetChange: Seconds since the last member departure (or startup)
	RecordLeadershipAcquired(taskID string, sinceFleetChange float64)

	// RecordLeadershipDecision records the outcome of a fair-share evaluation.
	//
	// Parameters:
	//   - decision: "execute", "abandon" or "error"
	RecordLeadershipDecision(decision string)

	// RecordTaskReleased records a task released to rebalance the fleet.
	RecordTaskReleased(taskID string)

	// RecordStuckLeadership records a leadership context that was never woken.
	RecordStuckLeadership(taskID string)
}

// MembershipMetrics defines metrics for fleet membership observation.
type MembershipMetrics interface {
	// RecordActiveMembers sets the current live instance count (gauge metric).
	RecordActiveMembers(count int)

	// RecordMembershipChange records an observed join or leave.
	//
	// Parameters:
	//   - kind: "added" or "removed"
	RecordMembershipChange(kind string)

	// RecordHeartbeat records a registration renewal.
	//
	// Parameters:
	//   - instanceID: The instance publishing the registration
	//   - success: true if the registration was published
	RecordHeartbeat(instanceID string, success bool)
}

// WorkMetrics defines metrics for task execution.
type WorkMetrics interface {
	// RecordWorkingCount sets the number of tasks this instance executes (gauge metric).
	RecordWorkingCount(count int)

	// RecordWorkInterval records one completed work interval.
	//
	// Parameters:
	//   - taskID: Task that ran
	//   - duration: Time taken in seconds
	//   - success: false when the work function faulted
	RecordWorkInterval(taskID string, duration float64, success bool)
}
