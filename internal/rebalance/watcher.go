// Package rebalance reacts to fleet membership changes.
//
// The Watcher subscribes to the membership of a representative scope (the
// first task of the registry). When an instance joins it sheds executing tasks
// under the ledger lock until the local working count is back within the fair
// share; when an instance leaves it only resets the acquisition timing clock,
// since orphaned tasks are picked up through ordinary leadership grants.
package rebalance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/fairlead/internal/fairshare"
	"github.com/arloliu/fairlead/internal/ledger"
	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/metrics"
	"github.com/arloliu/fairlead/types"
)

// DefaultReadTimeout bounds each membership read of a rebalance pass.
const DefaultReadTimeout = 5 * time.Second

// Config configures a Watcher.
type Config struct {
	// Scope is the membership scope representing the fleet.
	Scope string

	Ledger     *ledger.Ledger
	Membership types.Membership
	Selector   *fairshare.Selector

	// ReadTimeout bounds each membership read (defaults to DefaultReadTimeout).
	ReadTimeout time.Duration

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Watcher consumes membership events for one scope.
type Watcher struct {
	scope       string
	ledger      *ledger.Ledger
	membership  types.Membership
	selector    *fairshare.Selector
	readTimeout time.Duration
	logger      types.Logger
	metrics     types.MetricsCollector

	started atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex
	watch  types.MemberWatch
	cancel context.CancelFunc
	done   chan struct{}

	passes   atomic.Int64
	released atomic.Int64
}

// New creates a watcher.
//
// Parameters:
//   - cfg: Watcher configuration; Scope, Ledger, Membership and Selector are required
//
// Returns:
//   - *Watcher: Unstarted watcher
//   - error: Missing collaborator
func New(cfg Config) (*Watcher, error) {
	if cfg.Scope == "" || cfg.Ledger == nil || cfg.Membership == nil || cfg.Selector == nil {
		return nil, fmt.Errorf("rebalance watcher: scope, ledger, membership and selector are required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	return &Watcher{
		scope:       cfg.Scope,
		ledger:      cfg.Ledger,
		membership:  cfg.Membership,
		selector:    cfg.Selector,
		readTimeout: cfg.ReadTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Start subscribes to the scope and begins consuming events.
//
// The subscription's initial snapshot is taken synchronously before Start
// returns, so no later join is missed.
//
// Parameters:
//   - ctx: Lifetime of the watcher
//
// Returns:
//   - []string: Members observed in the initial snapshot
//   - error: ErrWatcherAlreadyStarted, ErrWatcherAlreadyStopped or a watch error
func (w *Watcher) Start(ctx context.Context) ([]string, error) {
	if w.stopped.Load() {
		return nil, types.ErrWatcherAlreadyStopped
	}
	if !w.started.CompareAndSwap(false, true) {
		return nil, types.ErrWatcherAlreadyStarted
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watch, err := w.membership.Watch(watchCtx, w.scope)
	if err != nil {
		cancel()
		w.started.Store(false)

		return nil, fmt.Errorf("%w: scope %s: %w", types.ErrWatchFailed, w.scope, err)
	}

	snapshot := watch.Snapshot()
	w.metrics.RecordActiveMembers(len(snapshot))
	w.logger.Info("membership watch started", "scope", w.scope, "members", len(snapshot))

	w.mu.Lock()
	w.watch = watch
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.consume(watchCtx, watch, done)

	return snapshot, nil
}

// Stop ends the subscription and waits for the consumer to exit.
func (w *Watcher) Stop() error {
	if !w.started.Load() {
		return types.ErrWatcherNotStarted
	}
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}

	w.mu.Lock()
	watch, cancel, done := w.watch, w.cancel, w.done
	w.mu.Unlock()

	err := watch.Stop()
	cancel()
	<-done

	if err != nil {
		return fmt.Errorf("stop membership watch: %w", err)
	}

	return nil
}

// Passes returns how many rebalance passes ran.
func (w *Watcher) Passes() int64 {
	return w.passes.Load()
}

// Released returns how many tasks the watcher released so far.
func (w *Watcher) Released() int64 {
	return w.released.Load()
}

func (w *Watcher) consume(ctx context.Context, watch types.MemberWatch, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watch.Events():
			if !ok {
				return
			}
			w.handle(ctx, ev)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev types.MemberEvent) {
	w.metrics.RecordMembershipChange(ev.Kind.String())

	switch ev.Kind {
	case types.MemberAdded:
		w.logger.Info("member joined", "scope", w.scope, "member", ev.ID)
		if _, err := w.Rebalance(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("rebalance pass aborted", "member", ev.ID, "error", err)
		}
	case types.MemberRemoved:
		w.ledger.MarkFleetShrink()
		w.logger.Info("member left", "scope", w.scope, "member", ev.ID)
	default:
		w.logger.Warn("unknown membership event", "kind", ev.Kind, "member", ev.ID)
	}
}

// Rebalance sheds executing tasks until the local working count is within the
// fair share of the current fleet.
//
// The whole pass runs under the ledger lock; the fleet size is re-read before
// every release so a pass never sheds more than the latest membership warrants.
//
// Parameters:
//   - ctx: Context for membership reads
//
// Returns:
//   - []string: IDs of the released tasks
//   - error: Membership read error (the pass stops at the first one)
func (w *Watcher) Rebalance(ctx context.Context) ([]string, error) {
	w.passes.Add(1)

	var released []string
	err := w.ledger.Do(func(tx *ledger.Tx) error {
		picked := make(map[string]struct{})
		for {
			servers, err := w.members(ctx)
			if err != nil {
				return err
			}
			w.metrics.RecordActiveMembers(len(servers))

			working := tx.WorkingCount()
			if !fairshare.ShouldRelease(tx.Total(), len(servers), working) {
				return nil
			}

			id, ok := w.selector.Pick(tx.ExecutingIDs(), picked)
			if !ok {
				return nil
			}
			picked[id] = struct{}{}

			m, ok := tx.Member(id)
			if !ok || !m.Release() {
				continue
			}

			released = append(released, id)
			w.logger.Info("released task to rebalance",
				"task", id,
				"servers", len(servers),
				"working", working,
				"share", fairshare.Share(tx.Total(), len(servers)),
			)
		}
	})

	w.released.Add(int64(len(released)))

	return released, err
}

func (w *Watcher) members(ctx context.Context) ([]string, error) {
	readCtx, cancel := context.WithTimeout(ctx, w.readTimeout)
	defer cancel()

	servers, err := w.membership.Members(readCtx, w.scope)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", w.scope, err)
	}

	return servers, nil
}
