package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fairlead/internal/kvutil"
	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/internal/natsutil"
	"github.com/arloliu/fairlead/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoInstanceID   = errors.New("instance ID not set")
	ErrNoScopes       = errors.New("no membership scopes")
)

const (
	publishTimeout = 5 * time.Second
	cleanupTimeout = 2 * time.Second
)

// Publisher refreshes an instance's member keys at a fixed interval.
type Publisher struct {
	kv         jetstream.KeyValue
	instanceID string
	scopes     []string
	interval   time.Duration
	logger     types.Logger
	metrics    types.MetricsCollector

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(logger types.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector for heartbeat events.
func WithMetrics(m types.MetricsCollector) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a heartbeat publisher.
//
// The bucket TTL should be about 3x the interval so an instance is declared
// gone after three missed rounds.
//
// Parameters:
//   - kv: Members bucket
//   - instanceID: Identity published under every scope
//   - scopes: Membership scopes (task IDs)
//   - interval: Publish interval
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Publisher: Unstarted publisher
func New(kv jetstream.KeyValue, instanceID string, scopes []string, interval time.Duration, opts ...Option) *Publisher {
	p := &Publisher{
		kv:         kv,
		instanceID: instanceID,
		scopes:     slices.Clone(scopes),
		interval:   interval,
		logger:     logging.NewNop(),
		metrics:    metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start publishes the first round synchronously and then keeps publishing in
// the background until Stop.
//
// Returns:
//   - error: ErrAlreadyStarted, ErrNoInstanceID, ErrNoScopes or the first publish error
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.instanceID == "" {
		return ErrNoInstanceID
	}
	if len(p.scopes) == 0 {
		return ErrNoScopes
	}

	if err := p.publish(ctx); err != nil {
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.publishLoop(p.stopCh, p.doneCh)

	return nil
}

// Stop ends publishing and deletes every member key so peers see the
// departure without waiting for the TTL.
//
// Returns:
//   - error: ErrNotStarted if not running, or the joined delete errors
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var errs []error
	for _, scope := range p.scopes {
		key := kvutil.MemberKey(scope, p.instanceID)
		if err := p.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("stopped but failed to delete member keys: %w", errors.Join(errs...))
	}

	return nil
}

// Close implements types.Registration.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.Stop(ctx)
	if errors.Is(err, ErrNotStarted) {
		return nil
	}

	return err
}

// InstanceID returns the published identity.
func (p *Publisher) InstanceID() string {
	return p.instanceID
}

// Scopes returns the scopes the instance is registered under.
func (p *Publisher) Scopes() []string {
	return slices.Clone(p.scopes)
}

// IsStarted returns whether the publisher is currently running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}

func (p *Publisher) publishLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := p.publish(ctx)
			cancel()

			if err == nil {
				continue
			}
			if natsutil.IsConnectivityError(err) {
				p.logger.Warn("heartbeat publish unavailable", "instance", p.instanceID, "error", err)
			} else {
				p.logger.Error("heartbeat publish failed", "instance", p.instanceID, "error", err)
			}
		}
	}
}

// publish writes one round of member keys.
func (p *Publisher) publish(ctx context.Context) error {
	value := []byte(time.Now().Format(time.RFC3339Nano))

	start := time.Now()
	var err error
	for _, scope := range p.scopes {
		if _, err = p.kv.Put(ctx, kvutil.MemberKey(scope, p.instanceID), value); err != nil {
			err = fmt.Errorf("failed to publish heartbeat for %s under %s: %w", p.instanceID, scope, err)
			break
		}
	}
	p.metrics.RecordKVOperationDuration("put", time.Since(start).Seconds())
	p.metrics.RecordHeartbeat(p.instanceID, err == nil)

	return err
}
