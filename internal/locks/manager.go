// Package locks provides process-wide named mutual exclusion keyed by
// (resource kind, resource id). Locks are reference counted so the table does
// not accumulate entries for resources nobody contends on anymore.
package locks

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Kind names a family of lockable resources.
type Kind string

// Resource kinds used by the update engine.
const (
	// KindGroupKey serializes group key reconciliation per group id.
	KindGroupKey Kind = "groupKeyCheck"
	// KindRelationship serializes relationship nullification per client pair;
	// the id is the canonical unordered pair from PairID.
	KindRelationship Kind = "relationshipNullify"
)

// PairID builds a canonical id for an unordered client pair, so both sides of
// a relationship map to the same lock.
func PairID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

type lockKey struct {
	kind Kind
	id   string
}

// Lock is a named, non-reentrant mutual-exclusion handle. Obtain via
// Manager.Acquire and give back via Manager.Release.
type Lock struct {
	key     lockKey
	refs    int // guarded by the manager's mutex
	mu      sync.Mutex
	waiters atomic.Int32
}

// TryLock attempts to take the lock without blocking.
func (l *Lock) TryLock() bool { return l.mu.TryLock() }

// Lock blocks until the lock is taken. The caller counts as a waiter while
// blocked.
func (l *Lock) Lock() {
	l.waiters.Add(1)
	l.mu.Lock()
	l.waiters.Add(-1)
}

// Unlock releases the lock.
func (l *Lock) Unlock() { l.mu.Unlock() }

// Waiters returns the number of goroutines currently blocked in Lock. Pending
// work is redundant once somebody else is already queued for the same
// resource.
func (l *Lock) Waiters() int { return int(l.waiters.Load()) }

// Manager owns the lock table.
type Manager struct {
	mu    sync.Mutex
	locks map[lockKey]*Lock
}

// NewManager constructs an empty lock table.
func NewManager() *Manager {
	return &Manager{locks: make(map[lockKey]*Lock)}
}

// Acquire returns the lock handle for (kind, id), creating it on first use.
// Repeated calls with the same key return the same handle. Every Acquire must
// be paired with a Release.
func (m *Manager) Acquire(kind Kind, id string) *Lock {
	k := lockKey{kind: kind, id: id}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[k]
	if !ok {
		l = &Lock{key: k}
		m.locks[k] = l
	}
	l.refs++
	return l
}

// Release gives a handle back; the table entry is dropped when the last
// holder releases it.
func (m *Manager) Release(l *Lock) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs <= 0 {
		delete(m.locks, l.key)
	}
}

// Len returns the number of live table entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
