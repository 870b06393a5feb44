// Package membership implements types.Membership on a NATS KV members bucket.
//
// Each live instance owns one key "<scope>.<instance>" per scope, kept alive
// by internal/heartbeat. Listing a scope is a filtered key scan; watching a
// scope combines a KV watch (fast detection of joins and clean departures)
// with periodic reconciliation against a key scan, because keys expiring
// through the bucket TTL produce no delete markers.
package membership

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fairlead/internal/heartbeat"
	"github.com/arloliu/fairlead/internal/kvutil"
	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/types"
)

// Default timings.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultReconcileInterval = 5 * time.Second
	DefaultOpTimeout         = 5 * time.Second
)

// Config configures a Service.
type Config struct {
	// KV is the members bucket. Its TTL is the crash detection window.
	KV jetstream.KeyValue

	// HeartbeatInterval is how often registrations are refreshed.
	HeartbeatInterval time.Duration

	// ReconcileInterval is how often a watch compares its live set with a key scan.
	ReconcileInterval time.Duration

	// OpTimeout bounds each KV call.
	OpTimeout time.Duration

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Service is the NATS KV membership service.
type Service struct {
	kv                jetstream.KeyValue
	heartbeatInterval time.Duration
	reconcileInterval time.Duration
	opTimeout         time.Duration
	logger            types.Logger
	metrics           types.MetricsCollector
}

// Compile-time assertion that Service implements types.Membership.
var _ types.Membership = (*Service)(nil)

// New creates a membership service.
//
// Parameters:
//   - cfg: Service configuration; KV is required
//
// Returns:
//   - *Service: Ready to use service
//   - error: Missing bucket
func New(cfg Config) (*Service, error) {
	if cfg.KV == nil {
		return nil, errors.New("members bucket is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	return &Service{
		kv:                cfg.KV,
		heartbeatInterval: cfg.HeartbeatInterval,
		reconcileInterval: cfg.ReconcileInterval,
		opTimeout:         cfg.OpTimeout,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
	}, nil
}

// Members lists the instances registered under scope, sorted.
func (s *Service) Members(ctx context.Context, scope string) ([]string, error) {
	start := time.Now()
	lister, err := s.kv.ListKeysFiltered(ctx, kvutil.ScopeFilter(scope))
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list members of %s: %w", scope, err)
	}

	members := []string{}
	for key := range lister.Keys() {
		if keyScope, id, ok := kvutil.SplitMemberKey(key); ok && keyScope == scope {
			members = append(members, id)
		}
	}
	s.metrics.RecordKVOperationDuration("keys", time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", scope, err)
	}
	sort.Strings(members)

	return members, nil
}

// Watch subscribes to membership changes under scope.
//
// The snapshot is read from the watch's initial replay, so no change between
// the snapshot and the first event is lost.
func (s *Service) Watch(ctx context.Context, scope string) (types.MemberWatch, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	kw, err := s.kv.Watch(watchCtx, kvutil.ScopeFilter(scope))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s: %w", types.ErrWatchFailed, scope, err)
	}

	w := newWatch(s, scope, kw, cancel)
	if err := w.replay(watchCtx, s.opTimeout); err != nil {
		_ = w.Stop()
		return nil, err
	}

	go w.run(watchCtx)

	return w, nil
}

// Register publishes instanceID under every scope until the returned
// registration is closed.
func (s *Service) Register(ctx context.Context, instanceID string, scopes []string) (types.Registration, error) {
	if !types.ValidateIdentifier(instanceID) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidInstanceID, instanceID)
	}

	pub := heartbeat.New(s.kv, instanceID, slices.Clone(scopes), s.heartbeatInterval,
		heartbeat.WithLogger(s.logger),
		heartbeat.WithMetrics(s.metrics),
	)
	if err := pub.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", instanceID, err)
	}

	return pub, nil
}
