package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int            `json:"seq"`
	Action  string         `json:"action"`
	Actor   int64          `json:"actor,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"` // "ok" or an error code
	Order   *OrderSnapshot `json:"order,omitempty"`
}

// OrderSnapshot is the state of the order a step touched, read after the
// step.
type OrderSnapshot struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	Version     int64  `json:"version"`
	Published   bool   `json:"published"`
	Draft       bool   `json:"draft,omitempty"`
	SyncFailure string `json:"sync_failure,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Name is the scenario name.
	Name string `json:"name"`

	// Pass is true if every step met its expectation and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Channel lists every attempted channel call, failed ones included.
	Channel []string `json:"channel"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for execution.
func NewResult(name string) *Result {
	return &Result{
		Name:    name,
		Pass:    true,
		Trace:   []TraceEvent{},
		Channel: []string{},
		Errors:  []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace, numbering it.
func (r *Result) AddTrace(event TraceEvent) {
	event.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, event)
}
