// Package flow: per-subscriber turn serialization.
package flow

import "sync"

// subscriberLocks serializes turns per subscriber id. Two overlapping
// webhook deliveries for the same subscriber would otherwise both read the
// same conversation state and race to write divergent updates; holding the
// lock for the whole turn strengthens the storage layer's last-write-wins
// behaviour without changing what a well-ordered client observes.
type subscriberLocks struct {
	mu    sync.Mutex
	locks map[string]*subscriberLock
}

type subscriberLock struct {
	mu   sync.Mutex
	refs int
}

func newSubscriberLocks() *subscriberLocks {
	return &subscriberLocks{locks: make(map[string]*subscriberLock)}
}

// Lock acquires the lock for the given subscriber and returns its release
// function. Lock entries are reference counted and removed once idle.
func (s *subscriberLocks) Lock(subscriberID string) func() {
	s.mu.Lock()
	l, ok := s.locks[subscriberID]
	if !ok {
		l = &subscriberLock{}
		s.locks[subscriberID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, subscriberID)
		}
		s.mu.Unlock()
	}
}
