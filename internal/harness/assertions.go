package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/stowaway/internal/record"
	"github.com/roach88/stowaway/internal/store"
	"github.com/roach88/stowaway/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Key())
			if event.ID != "" {
				fmt.Fprintf(&buf, " %s", event.ID)
			}
			if len(event.IDs) > 0 {
				fmt.Fprintf(&buf, " %v", event.IDs)
			}
			fmt.Fprintf(&buf, " -> %s\n", event.Outcome)
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains an event matching the
// action and, when given, the id and outcome.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Key() != assertion.Action {
			continue
		}
		if assertion.ID != "" && !eventHasID(event, assertion.ID) {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeEvent(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func eventHasID(event TraceEvent, id string) bool {
	if event.ID == id {
		return true
	}
	for _, got := range event.IDs {
		if got == id {
			return true
		}
	}
	return false
}

func describeEvent(a Assertion) string {
	desc := "event " + a.Action
	if a.ID != "" {
		desc += " for " + a.ID
	}
	if a.Outcome != "" {
		desc += " with outcome " + a.Outcome
	}
	return desc
}

// assertTraceOrder checks if actions first appear in the specified order.
// Actions don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		key := event.Key()
		if positions[key] == 0 {
			positions[key] = i + 1 // 1-indexed for readability
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Key() == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks the rows of a table that match Where.
//
// Without Rows exactly one row must match and it must carry every Expect
// field (subset semantics). With Rows, that many rows must match and each
// must carry the Expect fields.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	rows, err := loadTable(actx, assertion.Table)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read table %s", assertion.Table),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	var matched []map[string]any
	for _, row := range rows {
		if rowMatches(row, assertion.Where) {
			matched = append(matched, row)
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	want := 1
	if assertion.Rows != nil {
		want = *assertion.Rows
	}
	if len(matched) != want {
		actual := fmt.Sprintf("%d rows matched", len(matched))
		if assertion.Rows == nil && len(matched) > 1 {
			actual += " (assertion is ambiguous)"
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d rows in %s where %s", want, assertion.Table, whereDesc),
			Actual:   actual,
		}
	}

	keys := sortedKeys(assertion.Expect)
	for _, row := range matched {
		for _, key := range keys {
			expectedValue := assertion.Expect[key]
			actualValue, exists := row[key]
			if !exists {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("field %q to exist in %s where %s", key, assertion.Table, whereDesc),
					Actual:   fmt.Sprintf("field %q not present in row: %v", key, sortedKeys(row)),
				}
			}
			if !stateValuesEqual(expectedValue, actualValue) {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("field %q = %v", key, expectedValue),
					Actual:   fmt.Sprintf("field %q = %v", key, actualValue),
				}
			}
		}
	}

	return nil
}

// loadTable returns every row of a table as a field map.
//
// records rows are the stored record plus "owner". sync_queue rows have
// "id", "kind", "entity_id", "retry_count" and "parked". remote rows are the
// records the remote holds.
func loadTable(actx *AssertionContext, table string) ([]map[string]any, error) {
	ctx := actx.Ctx
	switch table {
	case TableRecords:
		stored, err := actx.Store.AllRecords(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(stored))
		for _, r := range stored {
			row, err := decodeRow(r.Payload)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", r.ID, err)
			}
			row["owner"] = r.Owner
			rows = append(rows, row)
		}
		return rows, nil

	case TableQueue:
		entries, err := actx.Store.AllEntries(ctx)
		if err != nil {
			return nil, err
		}
		parked, err := actx.Store.ParkedEntries(ctx)
		if err != nil {
			return nil, err
		}
		isParked := make(map[string]bool, len(parked))
		for _, p := range parked {
			isParked[p.Entry.ID] = true
		}
		rows := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, map[string]any{
				"id":          e.ID,
				"kind":        string(e.Kind),
				"entity_id":   e.EntityID,
				"retry_count": e.RetryCount,
				"parked":      isParked[e.ID],
			})
		}
		return rows, nil

	case TableRemote:
		docs := actx.Remote.Records()
		rows := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			data, err := json.Marshal(d)
			if err != nil {
				return nil, err
			}
			row, err := decodeRow(data)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("unknown table %q", table)
}

func decodeRow(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

func rowMatches(row, where map[string]any) bool {
	for key, want := range where {
		got, ok := row[key]
		if !ok || !stateValuesEqual(want, got) {
			return false
		}
	}
	return true
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a row value by their
// canonical JSON encoding, so 1 (int from YAML) equals json.Number("1") from
// a decoded payload and nested objects compare independent of key order.
func stateValuesEqual(expected, actual interface{}) bool {
	exp, err := record.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	act, err := record.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	return bytes.Equal(exp, act)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Remote *testutil.RecordingRemote[record.Document]
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store and remote access for final_state
// assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil || actx.Remote == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires store and remote context", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
