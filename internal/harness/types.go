package harness

// Trace event types.
const (
	EventStep   = "step"
	EventRemote = "remote"
)

// TraceEvent is one entry of a scenario trace: either a flow step or a call
// the engine made to the remote while that step ran.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"` // "step" or "remote"

	// Action is the step name, or the remote operation ("sync", "delete",
	// "fetch") for remote events.
	Action string `json:"action"`

	ID      string         `json:"id,omitempty"`
	IDs     []string       `json:"ids,omitempty"` // record ids carried by a remote call
	Outcome string         `json:"outcome,omitempty"`
	Counts  map[string]int `json:"counts,omitempty"`
	Pending *int           `json:"pending,omitempty"` // pending entries after a step
	Error   string         `json:"error,omitempty"`
}

// Key is the name assertions use for the event: the step name, or
// "remote." followed by the operation.
func (e TraceEvent) Key() string {
	if e.Type == EventRemote {
		return "remote." + e.Action
	}
	return e.Action
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step and remote call in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) TraceEvent {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
	return ev
}
