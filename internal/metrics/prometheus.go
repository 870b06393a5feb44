package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/fairlead/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so constructing a
// PrometheusCollector never panics on duplicate registration until it records.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions *prometheus.CounterVec
	kvLatency        *prometheus.HistogramVec

	leadershipAcquired *prometheus.CounterVec
	acquisitionCost    prometheus.Histogram
	decisions          *prometheus.CounterVec
	released           *prometheus.CounterVec
	stuck              *prometheus.CounterVec

	activeMembers     prometheus.Gauge
	membershipChanges *prometheus.CounterVec
	heartbeats        *prometheus.CounterVec

	workingCount  prometheus.Gauge
	workIntervals *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "fairlead" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "fairlead"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "state_transitions_total",
			Help:      "Coordinator lifecycle transitions by source and target state.",
		}, []string{"from", "to"})

		p.kvLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "kv_operation_seconds",
			Help:      "Latency of NATS KV operations in seconds by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"op"})

		p.leadershipAcquired = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "leadership",
			Name:      "acquired_total",
			Help:      "Leadership grants by task.",
		}, []string{"task"})

		p.acquisitionCost = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "leadership",
			Name:      "seconds_since_fleet_shrink",
			Help:      "Time between the last member departure and a leadership grant.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
		})

		p.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "leadership",
			Name:      "decisions_total",
			Help:      "Fair-share evaluation outcomes (execute, abandon, error).",
		}, []string{"decision"})

		p.released = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "leadership",
			Name:      "released_total",
			Help:      "Tasks released to rebalance the fleet, by task.",
		}, []string{"task"})

		p.stuck = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "leadership",
			Name:      "stuck_total",
			Help:      "Leadership contexts that were never woken after a stop request.",
		}, []string{"task"})

		p.activeMembers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "membership",
			Name:      "active_members",
			Help:      "Live instances observed under the watched scope.",
		})

		p.membershipChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "membership",
			Name:      "changes_total",
			Help:      "Observed membership changes by kind (added, removed).",
		}, []string{"kind"})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "membership",
			Name:      "heartbeats_total",
			Help:      "Registration renewals by result (success, failure).",
		}, []string{"result"})

		p.workingCount = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "work",
			Name:      "working_tasks",
			Help:      "Tasks currently executing on this instance.",
		})

		p.workIntervals = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "work",
			Name:      "interval_seconds",
			Help:      "Duration of one work function execution in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task", "result"})

		p.reg.MustRegister(
			p.stateTransitions,
			p.kvLatency,
			p.leadershipAcquired,
			p.acquisitionCost,
			p.decisions,
			p.released,
			p.stuck,
			p.activeMembers,
			p.membershipChanges,
			p.heartbeats,
			p.workingCount,
			p.workIntervals,
		)
	})
}

// CoordinatorMetrics implementation

// RecordStateTransition counts a coordinator state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordKVOperationDuration observes a KV operation latency.
func (p *PrometheusCollector) RecordKVOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.kvLatency.WithLabelValues(operation).Observe(duration)
}

// LeadershipMetrics implementation

// RecordLeadershipAcquired counts a grant and observes the time since the fleet last shrank.
func (p *PrometheusCollector) RecordLeadershipAcquired(taskID string, sinceFleetChange float64) {
	p.ensureRegistered()
	p.leadershipAcquired.WithLabelValues(taskID).Inc()
	p.acquisitionCost.Observe(sinceFleetChange)
}

// RecordLeadershipDecision counts an evaluation outcome.
func (p *PrometheusCollector) RecordLeadershipDecision(decision string) {
	p.ensureRegistered()
	p.decisions.WithLabelValues(decision).Inc()
}

// RecordTaskReleased counts a released task.
func (p *PrometheusCollector) RecordTaskReleased(taskID string) {
	p.ensureRegistered()
	p.released.WithLabelValues(taskID).Inc()
}

// RecordStuckLeadership counts a stuck leadership context.
func (p *PrometheusCollector) RecordStuckLeadership(taskID string) {
	p.ensureRegistered()
	p.stuck.WithLabelValues(taskID).Inc()
}

// MembershipMetrics implementation

// RecordActiveMembers sets the live member gauge.
func (p *PrometheusCollector) RecordActiveMembers(count int) {
	p.ensureRegistered()
	p.activeMembers.Set(float64(count))
}

// RecordMembershipChange counts an observed join or leave.
func (p *PrometheusCollector) RecordMembershipChange(kind string) {
	p.ensureRegistered()
	p.membershipChanges.WithLabelValues(kind).Inc()
}

// RecordHeartbeat counts a registration renewal.
func (p *PrometheusCollector) RecordHeartbeat(_ /* instanceID */ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(resultLabel(success)).Inc()
}

// WorkMetrics implementation

// RecordWorkingCount sets the working task gauge.
func (p *PrometheusCollector) RecordWorkingCount(count int) {
	p.ensureRegistered()
	p.workingCount.Set(float64(count))
}

// RecordWorkInterval observes one work function execution.
func (p *PrometheusCollector) RecordWorkInterval(taskID string, duration float64, success bool) {
	p.ensureRegistered()
	p.workIntervals.WithLabelValues(taskID, resultLabel(success)).Observe(duration)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}
