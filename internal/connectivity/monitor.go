package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often the Monitor refreshes PendingCount.
const DefaultPollInterval = 5 * time.Second

// State is the live connectivity status. It is recomputed, never persisted.
type State struct {
	Online       bool      `json:"online"`
	Syncing      bool      `json:"syncing"`
	PendingCount int       `json:"pending_count"`
	LastSyncAt   time.Time `json:"last_sync_at"` // zero until the first completed flush
}

// PendingCounter reports how many mutations are waiting to be sent.
// Satisfied by *store.Store.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// Listener is called with the previous and the new State on every change.
type Listener func(prev, next State)

// Monitor combines a Signal and a pending-count poll into a State.
type Monitor struct {
	signal   Signal
	counter  PendingCounter
	interval time.Duration

	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int

	unsubscribe func()
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPollInterval sets the pending-count poll cadence.
func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor subscribes to signal and returns a Monitor reflecting its
// current state. counter may be nil, in which case PendingCount is only
// updated through SetPending and MarkSynced.
func NewMonitor(signal Signal, counter PendingCounter, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		signal:    signal,
		counter:   counter,
		interval:  DefaultPollInterval,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}

	// Subscribe before reading so a transition in between is not lost.
	m.unsubscribe = signal.Subscribe(m.onTransition)
	m.mu.Lock()
	m.state.Online = signal.Online()
	m.mu.Unlock()
	return m
}

// Close detaches the Monitor from its Signal.
func (m *Monitor) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// State returns a snapshot of the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the remote is currently considered reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Online
}

// Subscribe registers fn for every State change. Listeners run synchronously
// on the goroutine that caused the change and must not block.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) onTransition(online bool) {
	slog.Info("connectivity changed", "online", online)
	m.update(func(s *State) { s.Online = online })
}

// SetSyncing marks a flush as started or finished.
func (m *Monitor) SetSyncing(syncing bool) {
	m.update(func(s *State) { s.Syncing = syncing })
}

// SetPending overrides PendingCount until the next poll.
func (m *Monitor) SetPending(n int) {
	m.update(func(s *State) { s.PendingCount = n })
}

// MarkSynced records a completed flush pass.
func (m *Monitor) MarkSynced(at time.Time, pending int) {
	m.update(func(s *State) {
		s.LastSyncAt = at
		s.PendingCount = pending
	})
}

// Refresh polls the pending count once.
func (m *Monitor) Refresh(ctx context.Context) error {
	if m.counter == nil {
		return nil
	}
	n, err := m.counter.PendingCount(ctx)
	if err != nil {
		return err
	}
	m.SetPending(n)
	return nil
}

// Run polls the pending count on the configured interval until ctx is done.
// Poll failures are logged and the previous count is kept.
// Always returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("pending count poll failed", "error", err)
	}
}

// update applies fn and notifies listeners if the state changed.
func (m *Monitor) update(fn func(s *State)) {
	m.mu.Lock()
	prev := m.state
	fn(&m.state)
	next := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(prev, next)
	}
}
