package harness

import (
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/mail"
)

// TraceEvent records one operation the harness ran: a setup create or a
// step.
type TraceEvent struct {
	Seq      int      `json:"seq"`
	Op       string   `json:"op"`
	As       string   `json:"as,omitempty"`
	Resource string   `json:"resource"` // Type#uid
	Action   string   `json:"action,omitempty"`
	Success  bool     `json:"success"`
	Errors   []string `json:"errors,omitempty"`

	// State is the resource's stored state once the operation finished.
	State string `json:"state,omitempty"`

	// Output is the part of the operation's result a reader checks: the
	// visible fields of a get, the allowed actions of a describe, the
	// number of events of a history.
	Output ir.Value `json:"output,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Emails are the messages sent during the run, in order.
	Emails []mail.Message `json:"emails,omitempty"`

	// Errors describes every failed expectation and assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends ev to the trace, numbering it.
func (r *Result) record(ev TraceEvent) TraceEvent {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
	return ev
}
