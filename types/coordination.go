package types

import "context"

// LeadershipFunc is invoked each time this instance is granted leadership of a task.
//
// Leadership is held for as long as the function runs; returning relinquishes it.
// The context is cancelled when leadership is lost (lease expired, connectivity
// lost) or the contention is withdrawn, and implementations must return promptly
// once they observe that.
type LeadershipFunc func(ctx context.Context) error

// Elector is the leader election capability of the coordination service.
//
// Implementations can use:
//   - NATS KV (built-in, internal/election)
//   - In-process queues (testing.LocalCoordination)
//   - External agents (Consul, etcd, Zookeeper)
//
// An Elector must guarantee mutual exclusion per task: at most one contender
// across the fleet runs its LeadershipFunc for a given task at any instant.
type Elector interface {
	// Contend registers a contender for leadership of taskID.
	//
	// onGranted may be invoked repeatedly over the handle's lifetime. When it
	// returns, the elector releases leadership and automatically re-queues the
	// contender for the next round.
	//
	// Parameters:
	//   - ctx: Lifetime context; cancelling it withdraws the contender
	//   - taskID: Task to contend for
	//   - onGranted: Leadership callback
	//
	// Returns:
	//   - ContenderHandle: Handle used to withdraw the contender
	//   - error: Registration error (nil on success)
	Contend(ctx context.Context, taskID string, onGranted LeadershipFunc) (ContenderHandle, error)
}

// ContenderHandle withdraws a registered contender.
type ContenderHandle interface {
	// Close withdraws the contender, cancels an active leadership callback and
	// waits for it to return.
	Close() error
}

// MemberEventKind tags a membership change.
type MemberEventKind int

const (
	// MemberAdded is emitted when a new instance registers under the watched scope.
	MemberAdded MemberEventKind = iota + 1

	// MemberRemoved is emitted when an instance's registration disappears.
	MemberRemoved
)

// String returns the string representation of the event kind.
func (k MemberEventKind) String() string {
	switch k {
	case MemberAdded:
		return "added"
	case MemberRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// MemberEvent is one change of the live instance set under a scope.
type MemberEvent struct {
	Kind MemberEventKind
	ID   string
}

// MemberWatch is a subscription to membership changes under one scope.
type MemberWatch interface {
	// Snapshot returns the live set observed when the watch was established.
	Snapshot() []string

	// Events delivers changes after the snapshot in order. The channel is closed
	// when the watch stops.
	Events() <-chan MemberEvent

	// Stop ends the subscription.
	Stop() error
}

// Registration is this instance's own ephemeral membership record.
type Registration interface {
	// Close removes the registration so other instances observe the departure.
	Close(ctx context.Context) error
}

// Membership is the ephemeral membership capability of the coordination service.
type Membership interface {
	// Members lists the live instance IDs registered under scope.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - scope: Membership scope (a task ID)
	//
	// Returns:
	//   - []string: Live instance IDs
	//   - error: Read error (nil on success)
	Members(ctx context.Context, scope string) ([]string, error)

	// Watch subscribes to membership changes under scope, starting with a
	// consistent snapshot.
	Watch(ctx context.Context, scope string) (MemberWatch, error)

	// Register records instanceID as alive under each scope until the returned
	// Registration is closed or the instance disappears.
	Register(ctx context.Context, instanceID string, scopes []string) (Registration, error)
}
