package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/fairlead/types"
)

func TestNewNop(t *testing.T) {
	m := NewNop()

	require.NotNil(t, m)
	require.IsType(t, &NopMetrics{}, m)
}

func TestNopMetrics_AllMethods(t *testing.T) {
	var m types.MetricsCollector = NewNop()

	require.NotPanics(t, func() {
		m.RecordStateTransition(types.StateInit, types.StateRunning)
		m.RecordStateTransition(types.State(999), types.State(1000))
		m.RecordKVOperationDuration("create", 0.01)
		m.RecordLeadershipAcquired("orders", 1.5)
		m.RecordLeadershipDecision("abandon")
		m.RecordTaskReleased("orders")
		m.RecordStuckLeadership("orders")
		m.RecordActiveMembers(-1)
		m.RecordMembershipChange("added")
		m.RecordHeartbeat("node-1", false)
		m.RecordWorkingCount(3)
		m.RecordWorkInterval("", -1, true)
	})
}
