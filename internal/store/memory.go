package store

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth.
const subscriberBuffer = 16

// MemoryStore is the in-process [Store]: one mutex-guarded cell holding the
// latest snapshot, plus pub/sub for push clients.
//
// The cell starts empty and moves to populated on the first accepted
// Replace; it never moves back. Updates to subscribers are non-blocking: a
// subscriber whose buffer is full misses that snapshot.
type MemoryStore struct {
	mu        sync.RWMutex
	latest    Snapshot
	populated bool

	subMu       sync.RWMutex
	subscribers map[chan Snapshot]struct{}
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Replace installs s as the latest snapshot and notifies subscribers.
// Empty snapshots are rejected.
func (m *MemoryStore) Replace(s Snapshot) bool {
	if s.Empty() {
		return false
	}

	m.mu.Lock()
	m.latest = s
	m.populated = true
	m.mu.Unlock()

	m.notifySubscribers(s)
	return true
}

// Latest returns the current snapshot and whether the store is populated.
func (m *MemoryStore) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.populated
}

// Subscribe creates a subscription with a small buffer.
func (m *MemoryStore) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (m *MemoryStore) Subscribers() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscribers)
}

func (m *MemoryStore) notifySubscribers(s Snapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- s:
		default:
			// slow subscriber, drop
		}
	}
}
