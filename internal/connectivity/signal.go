package connectivity

import "sync"

// Signal is a source of online/offline transitions.
type Signal interface {
	// Online reports the current state.
	Online() bool

	// Subscribe registers fn to be called on every transition, synchronously
	// from the goroutine that observed it. The returned func unsubscribes.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// switchboard holds a boolean state and fans transitions out to subscribers.
type switchboard struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

func (s *switchboard) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *switchboard) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs == nil {
		s.subs = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// set stores the new state and, if it changed, notifies subscribers.
// Subscribers run outside the lock so they may call back into Online.
func (s *switchboard) set(online bool) bool {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
	return true
}

// ManualSignal is a Signal whose state is set explicitly.
type ManualSignal struct {
	switchboard
}

// NewManualSignal returns a ManualSignal in the given initial state.
func NewManualSignal(online bool) *ManualSignal {
	s := &ManualSignal{}
	s.online = online
	return s
}

// Set changes the state. Subscribers are notified only if the state changed.
// Reports whether a transition happened.
func (s *ManualSignal) Set(online bool) bool {
	return s.set(online)
}
