package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/flowgate/internal/ir"
)

// Snapshot renders a run as canonical JSON: the scenario name, the trace
// and the emails sent. Two runs of the same scenario produce the same
// bytes.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make(ir.Array, len(result.Trace))
	for i, ev := range result.Trace {
		obj := ir.Object{
			"seq":      ir.Number(ev.Seq),
			"op":       ir.String(ev.Op),
			"resource": ir.String(ev.Resource),
			"success":  ir.Bool(ev.Success),
		}
		if ev.As != "" {
			obj["as"] = ir.String(ev.As)
		}
		if ev.Action != "" {
			obj["action"] = ir.String(ev.Action)
		}
		if len(ev.Errors) > 0 {
			errs := make(ir.Array, len(ev.Errors))
			for j, e := range ev.Errors {
				errs[j] = ir.String(e)
			}
			obj["errors"] = errs
		}
		if ev.State != "" {
			obj["state"] = ir.String(ev.State)
		}
		if ev.Output != nil {
			obj["output"] = ev.Output
		}
		trace[i] = obj
	}

	emails := make(ir.Array, len(result.Emails))
	for i, m := range result.Emails {
		params := m.Params
		if params == nil {
			params = ir.Object{}
		}
		emails[i] = ir.Object{
			"to":       ir.String(m.To),
			"template": ir.String(m.Template),
			"params":   params,
		}
	}

	return ir.MarshalCanonical(ir.Object{
		"scenario": ir.String(name),
		"trace":    trace,
		"emails":   emails,
	})
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's snapshot with its golden
// file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
