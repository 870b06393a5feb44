package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/fairlead/internal/kvutil"
	"github.com/arloliu/fairlead/types"
)

// watch tracks the live set of one scope and emits ordered changes.
type watch struct {
	svc    *Service
	scope  string
	kw     jetstream.KeyWatcher
	cancel context.CancelFunc

	live     *xsync.Map[string, struct{}]
	snapshot []string
	events   chan types.MemberEvent

	stopOnce sync.Once
	done     chan struct{}
}

func newWatch(svc *Service, scope string, kw jetstream.KeyWatcher, cancel context.CancelFunc) *watch {
	return &watch{
		svc:    svc,
		scope:  scope,
		kw:     kw,
		cancel: cancel,
		live:   xsync.NewMap[string, struct{}](),
		events: make(chan types.MemberEvent),
		done:   make(chan struct{}),
	}
}

func (w *watch) Snapshot() []string {
	out := make([]string, len(w.snapshot))
	copy(out, w.snapshot)

	return out
}

func (w *watch) Events() <-chan types.MemberEvent {
	return w.events
}

// Stop ends the watch. A subscription already torn down because the watch's
// context was cancelled counts as stopped.
func (w *watch) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.kw.Stop()
		w.cancel()
		if errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
	})

	return err
}

// replay consumes the initial values up to the nil marker into the live set.
func (w *watch) replay(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s: initial replay timed out", types.ErrWatchFailed, w.scope)
		case entry, ok := <-w.kw.Updates():
			if !ok {
				return fmt.Errorf("%w: %s: watcher closed during replay", types.ErrWatchFailed, w.scope)
			}
			if entry == nil {
				w.snapshot = w.liveIDs()
				return nil
			}
			w.apply(entry)
		}
	}
}

// run forwards KV changes and reconciles against key scans until stopped.
func (w *watch) run(ctx context.Context) {
	defer close(w.events)

	ticker := time.NewTicker(w.svc.reconcileInterval)
	defer ticker.Stop()

	updates := w.kw.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case entry, ok := <-updates:
			if !ok {
				w.svc.logger.Warn("membership watcher closed, reconciling only", "scope", w.scope)
				updates = nil

				continue
			}
			if entry == nil {
				continue
			}
			if ev, changed := w.apply(entry); changed && !w.emit(ctx, ev) {
				return
			}
		case <-ticker.C:
			if !w.reconcile(ctx) {
				return
			}
		}
	}
}

// apply updates the live set from one KV entry.
func (w *watch) apply(entry jetstream.KeyValueEntry) (types.MemberEvent, bool) {
	scope, id, ok := kvutil.SplitMemberKey(entry.Key())
	if !ok || scope != w.scope {
		return types.MemberEvent{}, false
	}

	switch entry.Operation() {
	case jetstream.KeyValuePut:
		if _, loaded := w.live.LoadOrStore(id, struct{}{}); !loaded {
			return types.MemberEvent{Kind: types.MemberAdded, ID: id}, true
		}
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		if _, loaded := w.live.LoadAndDelete(id); loaded {
			return types.MemberEvent{Kind: types.MemberRemoved, ID: id}, true
		}
	}

	return types.MemberEvent{}, false
}

// reconcile diffs the live set against a key scan. Connectivity failures are
// skipped until the next tick.
func (w *watch) reconcile(ctx context.Context) bool {
	readCtx, cancel := context.WithTimeout(ctx, w.svc.opTimeout)
	members, err := w.svc.Members(readCtx, w.scope)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			w.svc.logger.Warn("membership reconciliation failed", "scope", w.scope, "error", err)
		}

		return ctx.Err() == nil
	}

	current := make(map[string]struct{}, len(members))
	for _, id := range members {
		current[id] = struct{}{}
	}

	var changes []types.MemberEvent
	for _, id := range w.liveIDs() {
		if _, ok := current[id]; !ok {
			w.live.Delete(id)
			changes = append(changes, types.MemberEvent{Kind: types.MemberRemoved, ID: id})
		}
	}
	for _, id := range members {
		if _, loaded := w.live.LoadOrStore(id, struct{}{}); !loaded {
			changes = append(changes, types.MemberEvent{Kind: types.MemberAdded, ID: id})
		}
	}

	for _, ev := range changes {
		w.svc.logger.Debug("membership reconciled", "scope", w.scope, "kind", ev.Kind.String(), "member", ev.ID)
		if !w.emit(ctx, ev) {
			return false
		}
	}
	w.svc.metrics.RecordActiveMembers(w.live.Size())

	return true
}

func (w *watch) emit(ctx context.Context, ev types.MemberEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-w.done:
		return false
	}
}

func (w *watch) liveIDs() []string {
	ids := make([]string, 0, w.live.Size())
	w.live.Range(func(id string, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)

	return ids
}
