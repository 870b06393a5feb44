package fairshare

// Decision is the outcome of evaluating a freshly granted leadership.
type Decision int

const (
	// Execute starts the task's work under the granted leadership.
	Execute Decision = iota

	// Abandon declines the leadership so another instance can take the task.
	Abandon
)

// String returns the metric label of the decision.
func (d Decision) String() string {
	switch d {
	case Execute:
		return "execute"
	case Abandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// Share returns the per-instance target ceil(total/servers).
//
// A servers value below 1 is clamped to 1: the evaluating instance is alive
// even if its own registration has not been observed yet.
//
// Parameters:
//   - total: Number of task definitions
//   - servers: Number of live instances
//
// Returns:
//   - int: Target number of executing tasks per instance
func Share(total, servers int) int {
	if servers < 1 {
		servers = 1
	}
	if total <= 0 {
		return 0
	}

	return (total + servers - 1) / servers
}

// ShouldAbandon reports whether a newly granted leadership must be declined.
//
// The instance abandons when it already executes at least its share.
func ShouldAbandon(total, servers, working int) bool {
	return Share(total, servers) <= working
}

// ShouldRelease reports whether the instance holds more than its share.
//
// Equality is not an excess: an instance exactly at its share keeps all tasks.
func ShouldRelease(total, servers, working int) bool {
	return Share(total, servers) < working
}

// Evaluate maps ShouldAbandon onto a Decision.
func Evaluate(total, servers, working int) Decision {
	if ShouldAbandon(total, servers, working) {
		return Abandon
	}

	return Execute
}
