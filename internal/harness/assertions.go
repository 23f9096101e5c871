package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/mail"
	"github.com/roach88/flowgate/internal/schema"
	"github.com/roach88/flowgate/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // assertion type
	Expected string       // human-readable expected outcome
	Actual   string       // human-readable actual outcome
	Trace    []TraceEvent // full trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Op, ev.Resource)
			if ev.Action != "" {
				fmt.Fprintf(&buf, " %s", ev.Action)
			}
			if ev.Success {
				fmt.Fprintf(&buf, " ok\n")
			} else {
				fmt.Fprintf(&buf, " failed %q\n", ev.Errors)
			}
		}
	}
	return buf.String()
}

// AssertionContext is what assertions can look at besides the trace.
type AssertionContext struct {
	Ctx    context.Context
	Store  store.DataStore
	Refs   map[string]ir.ResourceRef
	Emails []mail.Message
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalState:
			err = assertFinalState(actx, a)
		case AssertEmailSent:
			err = assertEmailSent(actx.Emails, a)
		case AssertHistoryCount:
			err = assertHistoryCount(actx, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i+1, err))
		}
	}
	return failures
}

// assertFinalState checks a resource's stored state and a subset of its
// stored properties.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	ref := actx.Refs[a.Resource]
	rec, err := actx.Store.Read(actx.Ctx, ref)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s to exist", ref),
			Actual:   err.Error(),
		}
	}

	var diffs []string
	if a.State != "" {
		got := rec.Data.Get(schema.StateProperty)
		if !matches(got, a.State) {
			diffs = append(diffs, fmt.Sprintf("state = %s, want %q", render(got), a.State))
		}
	}
	for _, name := range sortedKeys(a.Data) {
		got := rec.Data.Get(name)
		if !matches(got, a.Data[name]) {
			diffs = append(diffs, fmt.Sprintf("%s = %s, want %v", name, render(got), a.Data[name]))
		}
	}
	if len(diffs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s with state %q and %v", ref, a.State, a.Data),
		Actual:   strings.Join(diffs, "; "),
	}
}

// assertEmailSent counts the emails matching To and Template, when set.
func assertEmailSent(emails []mail.Message, a Assertion) error {
	n := 0
	for _, m := range emails {
		if a.To != "" && m.To != a.To {
			continue
		}
		if a.Template != "" && m.Template != a.Template {
			continue
		}
		n++
	}
	if n == a.Count {
		return nil
	}

	sent := make([]string, len(emails))
	for i, m := range emails {
		sent[i] = m.Template + " to " + m.To
	}
	return &AssertionError{
		Type:     AssertEmailSent,
		Expected: fmt.Sprintf("%d emails (to=%q template=%q)", a.Count, a.To, a.Template),
		Actual:   fmt.Sprintf("%d matching, sent: %v", n, sent),
	}
}

// assertHistoryCount counts the stored history events of a resource.
func assertHistoryCount(actx *AssertionContext, a Assertion) error {
	ref := actx.Refs[a.Resource]
	events, err := actx.Store.GetHistory(actx.Ctx, ref)
	if err != nil {
		return fmt.Errorf("reading history of %s: %w", ref, err)
	}
	if len(events) == a.Count {
		return nil
	}
	actions := make([]string, len(events))
	for i, ev := range events {
		actions[i] = ev.Action
	}
	return &AssertionError{
		Type:     AssertHistoryCount,
		Expected: fmt.Sprintf("%d history events on %s", a.Count, ref),
		Actual:   fmt.Sprintf("%d events %v", len(events), actions),
	}
}

// assertTraceOrder checks that successful actions appear in the given
// order. Actions don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.Actions) {
			break
		}
		if ev.Op == OpPerform && ev.Success && ev.Action == a.Actions[next] {
			next++
		}
	}
	if next == len(a.Actions) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("actions in order %v", a.Actions),
		Actual:   fmt.Sprintf("%q never followed %v", a.Actions[next], a.Actions[:next]),
		Trace:    trace,
	}
}

// matches compares a stored value with one written in scenario YAML.
// Datetimes compare by instant, so a YAML string matches a stored date.
func matches(got ir.Value, want any) bool {
	if d, ok := got.(ir.Date); ok {
		if s, ok := want.(string); ok {
			t, err := expr.ParseDate(s)
			return err == nil && t.Equal(d.Time())
		}
	}
	w, err := ir.FromAny(want)
	if err != nil {
		return false
	}
	return ir.Equal(got, w)
}

func render(v ir.Value) string {
	if v == nil {
		return "null"
	}
	b, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
