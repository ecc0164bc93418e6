package harness

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step   int    `json:"step"`
	Site   string `json:"site"`
	Action string `json:"action"` // write, delete, sync, push, release

	Table    string `json:"table,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Changed  bool   `json:"changed,omitempty"`

	// Session outcome (sync).
	SessionID         string `json:"session_id,omitempty"`
	State             string `json:"state,omitempty"`
	Pulled            int64  `json:"pulled,omitempty"`
	Integrated        int64  `json:"integrated,omitempty"`
	IntegrationFailed int64  `json:"integration_failed,omitempty"`
	Pushed            int64  `json:"pushed,omitempty"`
	PushFailed        int64  `json:"push_failed,omitempty"`

	// Accepted and Rejected count pushed records (push); Released counts
	// released records (release).
	Accepted int64 `json:"accepted,omitempty"`
	Rejected int   `json:"rejected,omitempty"`
	Released int64 `json:"released,omitempty"`

	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
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

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
