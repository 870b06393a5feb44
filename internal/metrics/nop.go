// Package metrics provides MetricsCollector implementations.
package metrics

import "github.com/arloliu/fairlead/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	m := metrics.NewNop()
//	coord, err := fairlead.NewCoordinator(&cfg, conn, src, work, fairlead.WithMetrics(m))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// CoordinatorMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State) {}

// RecordKVOperationDuration discards the KV operation duration metric.
func (n *NopMetrics) RecordKVOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}

// LeadershipMetrics implementation

// RecordLeadershipAcquired discards the leadership acquisition metric.
func (n *NopMetrics) RecordLeadershipAcquired(_ /* taskID */ string, _ /* sinceFleetChange */ float64) {
}

// RecordLeadershipDecision discards the decision metric.
func (n *NopMetrics) RecordLeadershipDecision(_ /* decision */ string) {}

// RecordTaskReleased discards the release metric.
func (n *NopMetrics) RecordTaskReleased(_ /* taskID */ string) {}

// RecordStuckLeadership discards the stuck leadership metric.
func (n *NopMetrics) RecordStuckLeadership(_ /* taskID */ string) {}

// MembershipMetrics implementation

// RecordActiveMembers discards the active member gauge.
func (n *NopMetrics) RecordActiveMembers(_ /* count */ int) {}

// RecordMembershipChange discards the membership change metric.
func (n *NopMetrics) RecordMembershipChange(_ /* kind */ string) {}

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* instanceID */ string, _ /* success */ bool) {}

// WorkMetrics implementation

// RecordWorkingCount discards the working count gauge.
func (n *NopMetrics) RecordWorkingCount(_ /* count */ int) {}

// RecordWorkInterval discards the work interval metric.
func (n *NopMetrics) RecordWorkInterval(_ /* taskID */ string, _ /* duration */ float64, _ /* success */ bool) {
}
