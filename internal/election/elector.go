package election

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/internal/natsutil"
	"github.com/arloliu/fairlead/types"
)

// Default elector timings.
const (
	DefaultLeaseTTL     = 15 * time.Second
	DefaultPollInterval = time.Second
	DefaultRequeueDelay = 100 * time.Millisecond
	DefaultOpTimeout    = 5 * time.Second
	DefaultAcquireRate  = 50.0
	DefaultAcquireBurst = 10
)

// Config configures an Elector.
type Config struct {
	// KV is the election bucket. Its TTL must equal LeaseTTL.
	KV jetstream.KeyValue

	// InstanceID is written into every lease this elector acquires.
	InstanceID string

	// LeaseTTL is the bucket TTL; renewals run every RenewInterval (TTL/3 by default).
	LeaseTTL      time.Duration
	RenewInterval time.Duration

	// PollInterval is the fallback acquisition attempt interval when no delete
	// marker was observed on the watch (expired keys produce none).
	PollInterval time.Duration

	// RequeueDelay is the base pause after relinquishing; a random jitter of
	// up to the same duration is added.
	RequeueDelay time.Duration

	// OpTimeout bounds each KV call.
	OpTimeout time.Duration

	// AcquireRate and AcquireBurst bound acquisition attempts across all tasks.
	AcquireRate  float64
	AcquireBurst int

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Elector implements types.Elector on a NATS KV election bucket.
type Elector struct {
	cfg     Config
	limiter *rate.Limiter
	logger  types.Logger
	metrics types.MetricsCollector
}

// Compile-time assertion that Elector implements types.Elector.
var _ types.Elector = (*Elector)(nil)

// NewElector creates a NATS KV elector.
//
// Parameters:
//   - cfg: Elector configuration; KV and InstanceID are required
//
// Returns:
//   - *Elector: Ready to use elector
//   - error: Missing bucket or invalid instance ID
func NewElector(cfg Config) (*Elector, error) {
	if cfg.KV == nil {
		return nil, errors.New("election bucket is required")
	}
	if !types.ValidateIdentifier(cfg.InstanceID) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidInstanceID, cfg.InstanceID)
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = cfg.LeaseTTL / 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = DefaultRequeueDelay
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.AcquireRate <= 0 {
		cfg.AcquireRate = DefaultAcquireRate
	}
	if cfg.AcquireBurst <= 0 {
		cfg.AcquireBurst = DefaultAcquireBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	return &Elector{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.AcquireRate), cfg.AcquireBurst),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Contend starts a contention loop for taskID.
//
// The loop keeps competing until ctx is cancelled or the handle is closed.
// onGranted runs on the loop goroutine while the lease is held.
func (e *Elector) Contend(ctx context.Context, taskID string, onGranted types.LeadershipFunc) (types.ContenderHandle, error) {
	if !types.ValidateIdentifier(taskID) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidTaskID, taskID)
	}
	if onGranted == nil {
		return nil, errors.New("leadership callback is required")
	}

	loopCtx, cancel := context.WithCancelCause(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}

	lease := NewLease(e.cfg.KV, taskID, e.cfg.InstanceID)
	lease.metrics = e.metrics

	go func() {
		defer close(h.done)
		e.contend(loopCtx, lease, onGranted)
	}()

	return h, nil
}

type handle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
}

// Close withdraws the contender and waits for its loop to exit.
func (h *handle) Close() error {
	h.once.Do(func() {
		h.cancel(types.ErrContenderClosed)
	})
	<-h.done

	return nil
}

func (e *Elector) contend(ctx context.Context, lease *Lease, onGranted types.LeadershipFunc) {
	taskID := lease.Key()

	var deletes <-chan struct{}
	if w, err := e.cfg.KV.Watch(ctx, taskID, jetstream.UpdatesOnly()); err != nil {
		e.logger.Warn("lease watch unavailable, polling only", "task", taskID, "error", err)
	} else {
		defer func() { _ = w.Stop() }()
		deletes = releases(ctx, w)
	}

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}

		opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
		acquired, err := lease.Acquire(opCtx)
		cancel()

		switch {
		case ctx.Err() != nil:
			if acquired {
				e.release(ctx, lease)
			}

			return
		case err != nil:
			e.logAcquireError(taskID, err)
			if !sleep(ctx, e.cfg.PollInterval) {
				return
			}
		case !acquired:
			if !waitRelease(ctx, deletes, e.cfg.PollInterval) {
				return
			}
		default:
			e.hold(ctx, lease, onGranted)
			if !sleep(ctx, e.requeueDelay()) {
				return
			}
		}
	}
}

// hold runs onGranted while renewing the lease, then releases it.
func (e *Elector) hold(ctx context.Context, lease *Lease, onGranted types.LeadershipFunc) {
	taskID := lease.Key()
	leadCtx, cancel := context.WithCancelCause(ctx)

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		e.renew(leadCtx, cancel, lease)
	}()

	var pc panics.Catcher
	pc.Try(func() {
		if err := onGranted(leadCtx); err != nil {
			e.logger.Debug("leadership callback returned error", "task", taskID, "error", err)
		}
	})
	if r := pc.Recovered(); r != nil {
		e.logger.Error("leadership callback panicked", "task", taskID, "panic", r.Value)
	}

	cancel(nil)
	<-renewDone

	e.release(ctx, lease)
}

func (e *Elector) renew(ctx context.Context, cancel context.CancelCauseFunc, lease *Lease) {
	ticker := time.NewTicker(e.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, opCancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
			err := lease.Renew(opCtx)
			opCancel()

			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}

			e.logger.Warn("lease renewal failed", "task", lease.Key(), "error", err)
			cancel(fmt.Errorf("%w: task %s", types.ErrLeadershipLost, lease.Key()))

			return
		}
	}
}

func (e *Elector) release(ctx context.Context, lease *Lease) {
	if !lease.Held() {
		return
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OpTimeout)
	defer cancel()

	if err := lease.Release(opCtx); err != nil {
		e.logger.Warn("lease release failed", "task", lease.Key(), "error", err)
	}
}

func (e *Elector) logAcquireError(taskID string, err error) {
	if natsutil.IsConnectivityError(err) {
		e.logger.Warn("lease acquisition unavailable", "task", taskID, "error", err)
		return
	}
	e.logger.Error("lease acquisition failed", "task", taskID, "error", err)
}

func (e *Elector) requeueDelay() time.Duration {
	base := e.cfg.RequeueDelay

	return base + rand.N(base) //nolint:gosec // jitter does not need a cryptographic source
}

// releases forwards a signal for every delete or purge of the watched key.
func releases(ctx context.Context, w jetstream.KeyWatcher) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				op := entry.Operation()
				if op != jetstream.KeyValueDelete && op != jetstream.KeyValuePurge {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}

// waitRelease waits for a delete signal or the poll interval. It returns false
// when ctx ended.
func waitRelease(ctx context.Context, deletes <-chan struct{}, poll time.Duration) bool {
	timer := time.NewTimer(poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-deletes:
		return true
	case <-timer.C:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
