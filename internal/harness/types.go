package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Step    string `json:"step"`
	DB      string `json:"db,omitempty"`
	Outcome string `json:"outcome"`
}

// Outcome strings used in trace events.
const (
	OutcomeDone   = "done"
	OutcomeTrue   = "true"
	OutcomeFalse  = "false"
	OutcomeFault  = "fault"
	OutcomeError  = "error"
	OutcomeClosed = "closed"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures. Empty if Pass.
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

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event to the trace.
func (r *Result) AddTrace(seq int64, step, db, outcome string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     seq,
		Step:    step,
		DB:      db,
		Outcome: outcome,
	})
}
