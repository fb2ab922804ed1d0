package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stowaway/internal/engine"
)

// Scenario is a scripted run of the sync engine with assertions on the
// resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Options configure the engine under test.
	Options Options `yaml:"options,omitempty"`

	// Setup is the state before the first step.
	Setup Setup `yaml:"setup,omitempty"`

	// Flow contains the steps to run, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Options configure the engine under test. Zero values keep the engine
// defaults.
type Options struct {
	WritePolicy string `yaml:"write_policy,omitempty"`
	MaxRetries  int    `yaml:"max_retries,omitempty"`

	// TransmitDeletes wires the remote delete function. Defaults to true.
	TransmitDeletes *bool `yaml:"transmit_deletes,omitempty"`
}

func (o Options) transmitDeletes() bool {
	return o.TransmitDeletes == nil || *o.TransmitDeletes
}

// Setup is the state before the first step.
type Setup struct {
	// Online is the initial connectivity. Defaults to offline.
	Online bool `yaml:"online"`

	// Remote lists records the remote already holds.
	Remote []map[string]interface{} `yaml:"remote,omitempty"`
}

// FlowStep is one step of the flow.
type FlowStep struct {
	// Do names the step: online, offline, write, remove, read, flush,
	// hydrate, remote_fail, remote_recover, retry_parked, discard_parked or
	// restart.
	Do string `yaml:"do"`

	// Record is the record to write (write).
	Record map[string]interface{} `yaml:"record,omitempty"`

	// ID is the record id (remove, read, retry_parked, discard_parked).
	ID string `yaml:"id,omitempty"`

	// Error is what the remote returns while failing (remote_fail).
	Error string `yaml:"error,omitempty"`

	// Expect specifies the expected step outcome.
	// If nil, no validation is performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is the expected step outcome (e.g. "queued", "sent", "failed").
	Outcome string `yaml:"outcome"`

	// Pending is the expected number of pending entries after the step.
	Pending *int `yaml:"pending,omitempty"`

	// Counts is a subset match against the step counts.
	Counts map[string]int `yaml:"counts,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with Action (and ID, Outcome if set) exists
	// - "trace_order": Actions first appear in this order
	// - "trace_count": Action appears exactly Count times
	// - "final_state": rows of Table matching Where have the Expect values
	Type string `yaml:"type"`

	// Action is the event key (used by trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// ID and Outcome narrow trace_contains.
	ID      string `yaml:"id,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Table is records, sync_queue or remote (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies row filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Rows, when set, is the number of rows Where must match (used by
	// final_state). Without it exactly one row must match.
	Rows *int `yaml:"rows,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (used by trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Final state tables.
const (
	TableRecords = "records"
	TableQueue   = "sync_queue"
	TableRemote  = "remote"
)

var stepNames = map[string]bool{
	"online":         true,
	"offline":        true,
	"write":          true,
	"remove":         true,
	"read":           true,
	"flush":          true,
	"hydrate":        true,
	"remote_fail":    true,
	"remote_recover": true,
	"retry_parked":   true,
	"discard_parked": true,
	"restart":        true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Options.WritePolicy != "" {
		if _, err := engine.ParseWritePolicy(s.Options.WritePolicy); err != nil {
			return fmt.Errorf("options: %w", err)
		}
	}
	if s.Options.MaxRetries < 0 {
		return fmt.Errorf("options: max_retries must be non-negative")
	}

	for i, rec := range s.Setup.Remote {
		if id, _ := rec["id"].(string); id == "" {
			return fmt.Errorf("setup.remote[%d]: id is required", i)
		}
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *FlowStep) error {
	if step.Do == "" {
		return fmt.Errorf("flow[%d]: do is required", index)
	}
	if !stepNames[step.Do] {
		return fmt.Errorf("flow[%d]: unknown step %q", index, step.Do)
	}

	switch step.Do {
	case "write":
		if step.Record == nil {
			return fmt.Errorf("flow[%d]: record is required for write", index)
		}
	case "remove", "read", "retry_parked", "discard_parked":
		if step.ID == "" {
			return fmt.Errorf("flow[%d]: id is required for %s", index, step.Do)
		}
	}

	if step.Expect != nil && step.Expect.Outcome == "" {
		return fmt.Errorf("flow[%d].expect: outcome is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableRecords, TableQueue, TableRemote:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if len(a.Expect) == 0 && a.Rows == nil {
			return fmt.Errorf("assertions[%d]: expect or rows is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
