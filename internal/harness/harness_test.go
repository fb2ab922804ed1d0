package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares its
// trace with testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_OfflineWriteIsQueued(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 1)
	ev := result.Trace[0]
	assert.Equal(t, 1, ev.Seq)
	assert.Equal(t, EventStep, ev.Type)
	assert.Equal(t, "n1", ev.ID)
	assert.Equal(t, "queued", ev.Outcome)
	require.NotNil(t, ev.Pending)
	assert.Equal(t, 1, *ev.Pending)
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: mismatch
description: "Expects a push while offline"
flow:
  - do: write
    record: { id: n1 }
    expect:
      outcome: sent
      pending: 0
assertions:
  - type: trace_count
    action: remote.sync
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `expected outcome "sent", got "queued"`)
	assert.Contains(t, result.Errors[1], "expected 0 pending, got 1")
	assert.Contains(t, result.Errors[2], "Assertion failed: trace_count")
}

func TestRun_InvalidRecordIsAnOutcome(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: invalid_record
description: "A record without id is rejected by the engine"
flow:
  - do: write
    record: { title: "no id" }
    expect:
      outcome: error
      pending: 0
assertions:
  - type: final_state
    table: records
    rows: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Trace[0].Error, "id")
}

func TestRun_ReadMissing(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: read_missing
description: "Reading an unknown id is not an error"
flow:
  - do: read
    id: nope
    expect:
      outcome: missing
assertions:
  - type: trace_contains
    action: read
    id: nope
    outcome: missing
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_QueueAlways(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: queue_always
description: "queue_always never pushes from Write"
options:
  write_policy: queue_always
setup:
  online: true
flow:
  - do: write
    record: { id: q1 }
    expect:
      outcome: queued
      pending: 1
  - do: flush
    expect:
      outcome: ok
      pending: 0
assertions:
  - type: trace_order
    actions: [write, remote.sync, flush]
  - type: trace_count
    action: remote.sync
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_HydrateFailure(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: hydrate_failure
description: "A failed fetch leaves the local store alone"
setup:
  online: true
  remote:
    - { id: h1 }
flow:
  - do: remote_fail
    error: "boom"
  - do: hydrate
    expect:
      outcome: failed
assertions:
  - type: trace_contains
    action: remote.fetch
    outcome: rejected
  - type: final_state
    table: records
    rows: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Trace[2].Error, "boom")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "parked_entries.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(TraceSnapshot{ScenarioName: scenario.Name, Trace: first.Trace})
	require.NoError(t, err)
	b, err := MarshalSnapshot(TraceSnapshot{ScenarioName: scenario.Name, Trace: second.Trace})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
