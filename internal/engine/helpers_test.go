package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stowaway/internal/connectivity"
	"github.com/roach88/stowaway/internal/record"
	"github.com/roach88/stowaway/internal/store"
	"github.com/roach88/stowaway/internal/testutil"
)

// task is the record type used throughout the engine tests.
type task struct {
	ID    string `json:"id"`
	V     int    `json:"v"`
	Owner string `json:"owner,omitempty"`
}

func (t task) RecordID() string    { return t.ID }
func (t task) RecordOwner() string { return t.Owner }

// fixture wires an engine over a file-backed store, a manual signal and a
// recording remote.
type fixture struct {
	t       *testing.T
	path    string
	store   *store.Store
	signal  *connectivity.ManualSignal
	monitor *connectivity.Monitor
	remote  *testutil.RecordingRemote[task]
	clock   *testutil.DeterministicClock
	opts    []Option
	engine  *Engine[task]
}

func newFixture(t *testing.T, online bool, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		t:      t,
		path:   filepath.Join(t.TempDir(), "stow.db"),
		signal: connectivity.NewManualSignal(online),
		remote: testutil.NewRecordingRemote[task](),
		clock:  testutil.NewDeterministicClock(),
		opts:   opts,
	}
	f.open()
	t.Cleanup(f.close)
	return f
}

func (f *fixture) open() {
	f.t.Helper()

	st, err := store.Open(f.path)
	require.NoError(f.t, err)
	f.store = st
	f.monitor = connectivity.NewMonitor(f.signal, st)

	opts := append([]Option{
		WithClock(NewClockFunc(f.clock.Now)),
		WithIDGenerator(testutil.NewSequenceGenerator("batch")),
	}, f.opts...)

	e, err := New[task](st, f.monitor, f.remote.Sync, opts...)
	require.NoError(f.t, err)
	f.engine = e
}

func (f *fixture) close() {
	if f.monitor != nil {
		f.monitor.Close()
	}
	if f.store != nil {
		_ = f.store.Close()
	}
	f.monitor, f.store = nil, nil
}

// reopen simulates a process restart over the same database file.
func (f *fixture) reopen() {
	f.t.Helper()
	f.close()
	f.open()
}

// run starts the engine loop until the test ends.
func (f *fixture) run() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()
	f.t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *fixture) entries() []record.QueueEntry {
	f.t.Helper()
	entries, err := f.store.AllEntries(context.Background())
	require.NoError(f.t, err)
	return entries
}

func (f *fixture) pending() int {
	f.t.Helper()
	n, err := f.store.PendingCount(context.Background())
	require.NoError(f.t, err)
	return n
}

// snapshot strips delivery bookkeeping so queue rows can be compared as stored.
func snapshot(entries []record.QueueEntry) []record.QueueEntry {
	out := make([]record.QueueEntry, len(entries))
	for i, e := range entries {
		e.RetryCount = 0
		out[i] = e
	}
	return out
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
