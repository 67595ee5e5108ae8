package harness

// Trace event types.
const (
	EventSubmit = "submit"
	EventDigest = "digest"
	EventWrite  = "write"
	EventError  = "error"
)

// TraceEvent is one observable effect of a step.
type TraceEvent struct {
	Step   int    `json:"step"` // 1-based
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State maps output relation names to their rendered facts, sorted.
	State map[string][]string `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(step int, typ, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Type: typ, Detail: detail})
}

// Writes returns the details of all write events, in order.
func (r *Result) Writes() []string {
	var out []string
	for _, e := range r.Trace {
		if e.Type == EventWrite {
			out = append(out, e.Detail)
		}
	}
	return out
}
