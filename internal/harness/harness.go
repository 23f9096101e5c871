package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/flowgate/internal/compiler"
	"github.com/roach88/flowgate/internal/engine"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/mail"
	"github.com/roach88/flowgate/internal/schema"
	"github.com/roach88/flowgate/internal/store"
	"github.com/roach88/flowgate/internal/testutil"
)

// Harness holds the state of one scenario run.
type Harness struct {
	scenario *Scenario
	store    *store.Memory
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	mailer   *mail.Recorder
	users    map[string]*ir.User
	refs     map[string]ir.ResourceRef
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sends engine logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a scenario against a fresh in-memory store.
//
// Failed expectations and assertions are reported in the result. An error
// is returned when the scenario can't be run at all: the definition
// doesn't load, a setup resource can't be created, or the engine returns
// an error.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	def, err := compiler.LoadFile(scenario.Definition)
	if err != nil {
		return nil, fmt.Errorf("loading definition: %w", err)
	}

	st := store.NewMemory(store.WithIDGenerator(testutil.NewFixedIDGenerator("uid", scenario.aliases()...)))
	clock := testutil.NewDeterministicClock()
	mailer := &mail.Recorder{}

	h := &Harness{
		scenario: scenario,
		store:    st,
		engine:   engine.New(def, st, mailer, engine.WithLogger(o.logger), engine.WithClock(clock)),
		clock:    clock,
		mailer:   mailer,
		users:    make(map[string]*ir.User, len(scenario.Users)),
		refs:     make(map[string]ir.ResourceRef, len(scenario.Resources)),
		logger:   o.logger,
	}
	for name, u := range scenario.Users {
		h.users[name] = &ir.User{UID: name, Email: u.Email, FullName: u.Name, Roles: u.Roles}
	}

	result := NewResult()
	if err := h.executeSetup(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	result.Emails = mailer.Messages()
	actx := &AssertionContext{Ctx: ctx, Store: st, Refs: h.refs, Emails: result.Emails}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup creates the scenario's resources. A resource that can't be
// created fails the run.
func (h *Harness) executeSetup(ctx context.Context, result *Result) error {
	for _, rs := range h.scenario.Resources {
		data, err := ir.ObjectFromAny(rs.Data)
		if err != nil {
			return fmt.Errorf("resource %q: %w", rs.Alias, err)
		}
		res, err := h.engine.CreateResource(ctx, engine.CreateResourceParams{
			Type:   rs.Type,
			AsUser: h.users[rs.As],
			Data:   data,
		})
		if err != nil {
			return fmt.Errorf("resource %q: %w", rs.Alias, err)
		}
		if !res.Success {
			return fmt.Errorf("resource %q: %v", rs.Alias, res.Errors)
		}
		h.refs[rs.Alias] = res.Ref

		result.record(TraceEvent{
			Op:       OpCreate,
			As:       rs.As,
			Resource: res.Ref.String(),
			Success:  true,
			State:    h.storedState(ctx, res.Ref),
		})
		h.logger.DebugContext(ctx, "setup resource created", "alias", rs.Alias, "resource", res.Ref.String())
	}
	return nil
}

// executeStep runs one step, records it and checks its expectations.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	user := h.users[step.As]
	ref := h.refs[step.Resource()]
	ev := TraceEvent{Op: step.Op(), As: step.As, Resource: ref.String()}
	exp := step.Expect
	if exp == nil {
		exp = &Expect{}
	}
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch ev.Op {
	case OpPerform:
		input, err := ir.ObjectFromAny(step.Perform.Input)
		if err != nil {
			return fmt.Errorf("input: %w", err)
		}
		ev.Action = step.Perform.Action
		r, err := h.engine.PerformAction(ctx, engine.PerformActionParams{
			UID: ref.UID, Type: ref.Type, AsUser: user, Action: step.Perform.Action, Input: input,
		})
		if err != nil {
			return err
		}
		ev.Success, ev.Errors = r.Success, r.Errors

	case OpUpdate:
		data, err := ir.ObjectFromAny(step.Update.Data)
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		r, err := h.engine.UpdateResource(ctx, engine.UpdateResourceParams{
			UID: ref.UID, Type: ref.Type, AsUser: user, Data: data,
		})
		if err != nil {
			return err
		}
		ev.Success, ev.Errors = r.Success, r.Errors

	case OpGet:
		r, err := h.engine.GetResource(ctx, engine.GetResourceParams{UID: ref.UID, Type: ref.Type, AsUser: user})
		if err != nil {
			return err
		}
		ev.Success, ev.Errors = r.Success, r.Errors
		if r.Resource != nil {
			visible := r.Resource.Visible()
			ev.Output = visible
			checkVisible(visible, exp, fail)
		}

	case OpDescribe:
		r, err := h.engine.DescribeActions(ctx, engine.DescribeActionsParams{UID: ref.UID, Type: ref.Type, AsUser: user})
		if err != nil {
			return err
		}
		ev.Success, ev.Errors = r.Success, r.Errors
		allowed := allowedActions(r.Actions)
		ev.Output = allowed
		checkActions(r.Actions, exp, fail)

	case OpHistory:
		r, err := h.engine.GetHistory(ctx, engine.GetHistoryParams{UID: ref.UID, Type: ref.Type, AsUser: user})
		if err != nil {
			return err
		}
		ev.Success, ev.Errors = r.Success, r.Errors
		ev.Output = ir.Number(len(r.Events))
		if exp.Events != nil && *exp.Events != len(r.Events) {
			fail("got %d history events, want %d", len(r.Events), *exp.Events)
		}
	}

	ev.State = h.storedState(ctx, ref)
	ev = result.record(ev)

	if exp.Success != nil && *exp.Success != ev.Success {
		fail("success = %t, want %t (errors: %v)", ev.Success, *exp.Success, ev.Errors)
	}
	if exp.Errors != nil && !slices.Equal(exp.Errors, ev.Errors) {
		fail("errors = %q, want %q", ev.Errors, exp.Errors)
	}
	if exp.State != "" && exp.State != ev.State {
		fail("state = %q, want %q", ev.State, exp.State)
	}

	for _, p := range problems {
		result.AddError(fmt.Sprintf("step %d (%s %s as %s): %s", ev.Seq, ev.Op, step.Resource(), step.As, p))
	}
	h.logger.DebugContext(ctx, "step completed",
		"seq", ev.Seq,
		"op", ev.Op,
		"resource", ev.Resource,
		"success", ev.Success,
		"problems", len(problems),
	)
	return nil
}

// storedState reads the state straight from the store, bypassing read
// permissions.
func (h *Harness) storedState(ctx context.Context, ref ir.ResourceRef) string {
	rec, err := h.store.Read(ctx, ref)
	if err != nil {
		return ""
	}
	if s, ok := rec.Data.Get(schema.StateProperty).(ir.String); ok {
		return string(s)
	}
	return ""
}

func allowedActions(actions []engine.ActionDescription) ir.Array {
	out := ir.Array{}
	for _, a := range actions {
		if a.Possible && a.Allowed {
			out = append(out, ir.String(a.Name))
		}
	}
	return out
}

func checkVisible(visible ir.Object, exp *Expect, fail func(string, ...any)) {
	for _, name := range sortedKeys(exp.Visible) {
		got, ok := visible[name]
		if !ok {
			fail("field %q is hidden, want it visible", name)
			continue
		}
		if !matches(got, exp.Visible[name]) {
			fail("field %q = %s, want %v", name, render(got), exp.Visible[name])
		}
	}
	for _, name := range exp.Hidden {
		if _, ok := visible[name]; ok {
			fail("field %q is visible, want it hidden", name)
		}
	}
}

func checkActions(actions []engine.ActionDescription, exp *Expect, fail func(string, ...any)) {
	byName := make(map[string]engine.ActionDescription, len(actions))
	for _, a := range actions {
		byName[a.Name] = a
	}
	for _, name := range exp.Allowed {
		a, ok := byName[name]
		switch {
		case !ok:
			fail("action %q is not available in this state", name)
		case !a.Possible:
			fail("action %q is not possible: %s", name, a.PossibleReason)
		case !a.Allowed:
			fail("action %q is not allowed: %s", name, a.AllowedReason)
		}
	}
	for _, name := range exp.Denied {
		if a, ok := byName[name]; ok && a.Possible && a.Allowed {
			fail("action %q is allowed, want it denied", name)
		}
	}
}
