// Package ledger holds the process-wide working state shared by all
// contenders and the membership watcher.
//
// Every read of the working count and every mutation of working state happens
// inside Ledger.Do, which serializes callers on a single mutex. The total task
// count is fixed at construction and may be read without the lock.
package ledger

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Member is a task whose working state the ledger tracks.
//
// IsWorking and Release are only called with the ledger lock held.
type Member interface {
	// TaskID returns the task this member executes.
	TaskID() string

	// IsWorking reports whether the member counts toward the working count.
	IsWorking() bool

	// Release asks an executing member to stop; it reports whether anything changed.
	Release() bool
}

// Ledger is the single lock guarding working state.
type Ledger struct {
	total int

	mu      sync.Mutex
	members map[string]Member
	order   []string

	// lastShrink holds the unix nanos of the last observed member departure.
	lastShrink atomic.Int64
	now        func() time.Time
}

// New creates a ledger for a fixed number of tasks.
//
// Parameters:
//   - total: Number of task definitions, immutable afterwards
//
// Returns:
//   - *Ledger: Empty ledger; the fleet-shrink clock starts now
func New(total int) *Ledger {
	l := &Ledger{
		total:   total,
		members: make(map[string]Member, total),
		now:     time.Now,
	}
	l.lastShrink.Store(l.now().UnixNano())

	return l
}

// Total returns the number of task definitions. No lock is needed.
func (l *Ledger) Total() int {
	return l.total
}

// Register adds a member. Registering the same task twice replaces the member.
func (l *Ledger) Register(m Member) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := m.TaskID()
	if _, exists := l.members[id]; !exists {
		l.order = append(l.order, id)
	}
	l.members[id] = m
}

// Do runs fn with the ledger lock held.
//
// The lock is released when fn returns or panics; a panic is propagated to the
// caller after the unlock.
//
// Parameters:
//   - fn: Critical section; the Tx must not escape it
//
// Returns:
//   - error: Whatever fn returned
func (l *Ledger) Do(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return fn(&Tx{l: l})
}

// WorkingCount locks the ledger and returns the working count.
func (l *Ledger) WorkingCount() int {
	var n int
	_ = l.Do(func(tx *Tx) error {
		n = tx.WorkingCount()
		return nil
	})

	return n
}

// ExecutingIDs locks the ledger and returns the sorted IDs of working members.
func (l *Ledger) ExecutingIDs() []string {
	var ids []string
	_ = l.Do(func(tx *Tx) error {
		ids = tx.ExecutingIDs()
		return nil
	})
	sort.Strings(ids)

	return ids
}

// MarkFleetShrink resets the acquisition timing clock.
func (l *Ledger) MarkFleetShrink() {
	l.lastShrink.Store(l.now().UnixNano())
}

// SinceFleetShrink returns the time elapsed since the last member departure,
// or since the ledger was created if none was observed.
func (l *Ledger) SinceFleetShrink() time.Duration {
	return l.now().Sub(time.Unix(0, l.lastShrink.Load()))
}

// Tx is the view of the ledger inside a critical section.
type Tx struct {
	l *Ledger
}

// Total returns the number of task definitions.
func (tx *Tx) Total() int {
	return tx.l.total
}

// WorkingCount returns the number of working members.
func (tx *Tx) WorkingCount() int {
	n := 0
	for _, m := range tx.l.members {
		if m.IsWorking() {
			n++
		}
	}

	return n
}

// ExecutingIDs returns the IDs of working members in registration order.
func (tx *Tx) ExecutingIDs() []string {
	ids := make([]string, 0, len(tx.l.order))
	for _, id := range tx.l.order {
		if tx.l.members[id].IsWorking() {
			ids = append(ids, id)
		}
	}

	return ids
}

// Member returns the member registered for taskID.
func (tx *Tx) Member(taskID string) (Member, bool) {
	m, ok := tx.l.members[taskID]
	return m, ok
}
