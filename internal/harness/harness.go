package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/stowaway/internal/connectivity"
	"github.com/roach88/stowaway/internal/engine"
	"github.com/roach88/stowaway/internal/record"
	"github.com/roach88/stowaway/internal/store"
	"github.com/roach88/stowaway/internal/testutil"
)

// defaultRemoteError is what a failing remote returns when the step names no
// error.
const defaultRemoteError = "remote unavailable"

// Harness is the test execution engine.
// It runs one scenario with a deterministic clock and batch ids.
type Harness struct {
	scenario *Scenario
	path     string

	signal *connectivity.ManualSignal
	remote *testutil.RecordingRemote[record.Document]
	clock  *testutil.DeterministicClock
	ids    *testutil.SequenceGenerator

	// Rebuilt by restart.
	store   *store.Store
	monitor *connectivity.Monitor
	engine  *engine.Engine[record.Document]

	seen int // remote calls already in the trace
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh database file in a temporary directory,
// removed when Run returns.
//
// Execution flow:
// 1. Seed the remote and open the store and engine
// 2. Execute flow steps, tracing remote calls and checking expect clauses
// 3. Evaluate assertions against the trace and the final state
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "stow-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: scenario,
		path:     filepath.Join(dir, "stow.db"),
		signal:   connectivity.NewManualSignal(scenario.Setup.Online),
		remote:   testutil.NewRecordingRemote[record.Document](),
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewSequenceGenerator("batch"),
	}

	for i, raw := range scenario.Setup.Remote {
		doc, err := toDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("setup.remote[%d]: %w", i, err)
		}
		h.remote.Seed(doc)
	}

	ctx := context.Background()
	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Do, err)
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Store:  h.store,
		Remote: h.remote,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	st, err := store.Open(h.path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	mon := connectivity.NewMonitor(h.signal, st)
	if err := mon.Refresh(ctx); err != nil {
		mon.Close()
		st.Close()
		return fmt.Errorf("failed to read pending count: %w", err)
	}

	opts := h.scenario.Options
	retry := engine.DefaultRetryPolicy()
	if opts.MaxRetries > 0 {
		retry.MaxRetries = opts.MaxRetries
	}
	engineOpts := []engine.Option{
		engine.WithClock(engine.NewClockFunc(h.clock.Now)),
		engine.WithIDGenerator(h.ids),
		engine.WithRetryPolicy(retry),
	}
	if opts.WritePolicy != "" {
		engineOpts = append(engineOpts, engine.WithWritePolicy(engine.WritePolicy(opts.WritePolicy)))
	}
	if opts.transmitDeletes() {
		engineOpts = append(engineOpts, engine.WithDeleter(h.remote.Delete))
	}

	eng, err := engine.New[record.Document](st, mon, h.remote.Sync, engineOpts...)
	if err != nil {
		mon.Close()
		st.Close()
		return fmt.Errorf("failed to create engine: %w", err)
	}

	h.store, h.monitor, h.engine = st, mon, eng
	return nil
}

func (h *Harness) close() {
	if h.monitor != nil {
		h.monitor.Close()
	}
	if h.store != nil {
		h.store.Close()
	}
	h.store, h.monitor, h.engine = nil, nil, nil
}

// executeStep runs one step and appends its remote calls and the step itself
// to the trace. Engine-level failures become the step outcome; only harness
// failures are returned.
func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) error {
	ev := TraceEvent{Type: EventStep, Action: step.Do, ID: step.ID}

	var err error
	switch step.Do {
	case "online", "offline":
		h.signal.Set(step.Do == "online")
		ev.Outcome = step.Do
	case "write":
		err = h.write(ctx, &ev, step.Record)
	case "remove":
		err = h.remove(ctx, &ev)
	case "read":
		_, ok, rerr := h.engine.Read(ctx, step.ID)
		switch {
		case rerr != nil:
			ev.Outcome, ev.Error = "error", rerr.Error()
		case ok:
			ev.Outcome = "found"
		default:
			ev.Outcome = "missing"
		}
	case "flush":
		err = h.flush(ctx, &ev)
	case "hydrate":
		res, herr := h.engine.Hydrate(ctx, h.remote.Fetch)
		if herr != nil {
			ev.Outcome, ev.Error = "failed", herr.Error()
			break
		}
		ev.Outcome = "ok"
		ev.Counts = nonZero(map[string]int{
			"fetched": res.Fetched,
			"stored":  res.Stored,
			"skipped": res.Skipped,
		})
	case "remote_fail":
		msg := step.Error
		if msg == "" {
			msg = defaultRemoteError
		}
		h.remote.FailWith(errors.New(msg))
		ev.Outcome = "failing"
	case "remote_recover":
		h.remote.Recover()
		ev.Outcome = "accepting"
	case "retry_parked", "discard_parked":
		err = h.resolveParked(ctx, &ev, step.Do == "retry_parked")
	case "restart":
		h.close()
		err = h.open(ctx)
		ev.Outcome = "restarted"
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	if err != nil {
		return err
	}

	h.traceRemoteCalls(result)

	pending, err := h.store.PendingCount(ctx)
	if err != nil {
		return err
	}
	ev.Pending = &pending
	ev = result.add(ev)

	checkExpect(index, step, ev, result)
	return nil
}

func (h *Harness) write(ctx context.Context, ev *TraceEvent, raw map[string]interface{}) error {
	doc, err := toDocument(raw)
	if err != nil {
		ev.Outcome, ev.Error = "error", err.Error()
		return nil
	}
	ev.ID = doc.ID

	if err := h.engine.Write(ctx, doc); err != nil {
		ev.Outcome, ev.Error = "error", err.Error()
		return nil
	}
	queued, err := h.queued(ctx, doc.ID)
	if err != nil {
		return err
	}
	ev.Outcome = "sent"
	if queued {
		ev.Outcome = "queued"
	}
	return nil
}

func (h *Harness) remove(ctx context.Context, ev *TraceEvent) error {
	if err := h.engine.Remove(ctx, ev.ID); err != nil {
		ev.Outcome, ev.Error = "error", err.Error()
		return nil
	}
	queued, err := h.queued(ctx, ev.ID)
	if err != nil {
		return err
	}
	switch {
	case queued:
		ev.Outcome = "queued"
	case len(h.remote.Calls()) > h.seen:
		ev.Outcome = "sent"
	default:
		ev.Outcome = "local"
	}
	return nil
}

func (h *Harness) flush(ctx context.Context, ev *TraceEvent) error {
	res, err := h.engine.Flush(ctx)
	if err != nil {
		return err
	}

	ev.Counts = nonZero(map[string]int{
		"entries":            res.Entries,
		"sent":               res.Sent,
		"deletes_sent":       res.DeletesSent,
		"deletes_dropped":    res.DeletesDropped,
		"deletes_superseded": res.DeletesSuperseded,
		"cleared":            res.Cleared,
		"parked":             len(res.Parked),
	})

	var sbf *engine.SyncBatchFailedError
	switch {
	case res.Skipped:
		ev.Outcome = "skipped"
	case errors.As(res.Err, &sbf):
		ev.Outcome = "failed"
		ev.Error = fmt.Sprintf("%s: %v", sbf.Op, sbf.Err)
	case res.Err != nil:
		ev.Outcome, ev.Error = "failed", res.Err.Error()
	case res.Entries == 0:
		ev.Outcome = "empty"
	default:
		ev.Outcome = "ok"
	}
	return nil
}

func (h *Harness) resolveParked(ctx context.Context, ev *TraceEvent, retry bool) error {
	parked, err := h.engine.FailedEntries(ctx)
	if err != nil {
		return err
	}

	n := 0
	for _, p := range parked {
		if p.Entry.EntityID != ev.ID {
			continue
		}
		if retry {
			err = h.engine.RetryEntry(ctx, p.Entry.ID)
		} else {
			err = h.engine.DiscardEntry(ctx, p.Entry.ID)
		}
		if err != nil {
			return err
		}
		n++
	}

	switch {
	case n == 0:
		ev.Outcome = "none"
	case retry:
		ev.Outcome = "retried"
	default:
		ev.Outcome = "discarded"
	}
	ev.Counts = nonZero(map[string]int{"entries": n})
	return nil
}

func (h *Harness) queued(ctx context.Context, id string) (bool, error) {
	entries, err := h.store.EntriesFor(ctx, id)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// traceRemoteCalls appends the remote calls made since the last step.
func (h *Harness) traceRemoteCalls(result *Result) {
	calls := h.remote.Calls()
	for _, c := range calls[h.seen:] {
		ev := TraceEvent{Type: EventRemote, Action: c.Op, Outcome: "accepted"}
		switch c.Op {
		case "sync":
			for _, doc := range c.Records {
				ev.IDs = append(ev.IDs, doc.RecordID())
			}
		case "delete":
			ev.IDs = c.IDs
		}
		if c.Err != nil {
			ev.Outcome, ev.Error = "rejected", c.Err.Error()
		}
		result.add(ev)
	}
	h.seen = len(calls)
}

func checkExpect(index int, step FlowStep, ev TraceEvent, result *Result) {
	exp := step.Expect
	if exp == nil {
		return
	}

	prefix := fmt.Sprintf("flow[%d] %s", index, step.Do)
	if ev.Outcome != exp.Outcome {
		msg := fmt.Sprintf("%s: expected outcome %q, got %q", prefix, exp.Outcome, ev.Outcome)
		if ev.Error != "" {
			msg += " (" + ev.Error + ")"
		}
		result.AddError(msg)
	}
	if exp.Pending != nil && *exp.Pending != *ev.Pending {
		result.AddError(fmt.Sprintf("%s: expected %d pending, got %d", prefix, *exp.Pending, *ev.Pending))
	}

	keys := make([]string, 0, len(exp.Counts))
	for k := range exp.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if got := ev.Counts[k]; got != exp.Counts[k] {
			result.AddError(fmt.Sprintf("%s: expected %s = %d, got %d", prefix, k, exp.Counts[k], got))
		}
	}
}

// toDocument converts a YAML record into a Document.
func toDocument(raw map[string]interface{}) (record.Document, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return record.Document{}, fmt.Errorf("encode record: %w", err)
	}
	return record.NewDocument(data)
}

func nonZero(counts map[string]int) map[string]int {
	for k, v := range counts {
		if v == 0 {
			delete(counts, k)
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}
