package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/flowgate/internal/condition"
	"github.com/roach88/flowgate/internal/effects"
	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/mail"
	"github.com/roach88/flowgate/internal/schema"
	"github.com/roach88/flowgate/internal/store"
)

// PerformAction performs an action on a resource.
//
// The resource is loaded fresh and the action decided again; a decision
// returned earlier by DescribeActions is never trusted. Input is validated,
// then the action's effects are expanded (an implicit state update first
// when the action has a target state) and executed in order. Updates
// flagged for history are merged per target into one event each.
//
// Stopping on a failed effect leaves the effects that already ran applied.
func (e *Engine) PerformAction(ctx context.Context, p PerformActionParams) (result PerformResult, err error) {
	ref := ir.ResourceRef{UID: p.UID, Type: p.Type}
	ctx, done := e.tel.track(ctx, "engine.PerformAction", append(refAttrs(ref), AttrAction.String(p.Action))...)
	defer func() { done(err) }()

	res, err := e.resourceDef(p.Type)
	if err != nil {
		return PerformResult{}, err
	}
	a, ok := res.Action(p.Action)
	if !ok {
		return PerformResult{}, unknownAction(p.Type, p.Action)
	}
	now := e.clock.Now()

	rec, found, err := e.load(ctx, ref)
	if err != nil {
		return PerformResult{}, err
	}
	if !found {
		e.tel.recordAction(ctx, p.Type, p.Action, outcomeRejected)
		return PerformResult{Errors: []string{notFoundMessage(ref)}}, nil
	}

	self, err := e.snapshot(res, rec.Data, p.AsUser)
	if err != nil {
		return PerformResult{}, err
	}
	observed := stateOf(self)
	ectx := e.baseContext(p.AsUser).With(expr.WithSelf(self))

	d, err := e.decide(res, a, p.AsUser, ectx, observed)
	if err != nil {
		return PerformResult{}, err
	}
	if !d.Allowed {
		e.logger.DebugContext(ctx, "action rejected",
			"resource", ref.String(),
			"action", p.Action,
			"user", userID(p.AsUser),
			"outcome", decisionOutcome(d),
			"reason", d.AllowedReason,
		)
		e.tel.recordAction(ctx, p.Type, p.Action, outcomeRejected)
		return PerformResult{Errors: []string{d.AllowedReason}}, nil
	}

	input, errs, err := e.validateInput(a, p.Input, ectx)
	if err != nil {
		return PerformResult{}, err
	}
	if len(errs) > 0 {
		e.logger.DebugContext(ctx, "action input rejected",
			"resource", ref.String(),
			"action", p.Action,
			"errors", errs,
		)
		e.tel.recordAction(ctx, p.Type, p.Action, outcomeRejected)
		return PerformResult{Errors: errs}, nil
	}
	ectx = ectx.With(expr.WithInput(input))

	planned, err := e.plan(res, a, ref, ectx)
	if err != nil {
		return PerformResult{}, err
	}

	result, err = e.execute(ctx, rec, planned, p, now)
	if err != nil {
		e.tel.recordAction(ctx, p.Type, p.Action, outcomeError)
		return PerformResult{}, err
	}
	if !result.Success {
		e.tel.recordAction(ctx, p.Type, p.Action, outcomeRejected)
		return result, nil
	}

	e.logger.InfoContext(ctx, "action performed",
		"resource", ref.String(),
		"action", p.Action,
		"user", userID(p.AsUser),
		"from", observed,
		"to", a.To,
		"effects", len(result.Effects),
		"history_events", len(result.History),
	)
	e.tel.recordAction(ctx, p.Type, p.Action, outcomeSuccess)
	return result, nil
}

// validateInput checks the action input. Every field is checked and all
// field errors are reported; the whole-input validation runs only when all
// fields passed. The returned input has datetime fields coerced.
func (e *Engine) validateInput(a *schema.ActionDefinition, raw ir.Object, ectx *expr.Context) (ir.Object, []string, error) {
	if a.Input == nil {
		return raw.Clone(), nil, nil
	}

	input := ir.Object{}
	var errs []string
	for _, name := range raw.SortedKeys() {
		if _, ok := a.Input.Fields[name]; !ok {
			errs = append(errs, fmt.Sprintf("Unknown input field '%s'.", name))
			continue
		}
		input[name] = raw[name]
	}

	failed := make(map[string]bool)
	for _, name := range a.Input.FieldOrder {
		f := a.Input.Fields[name]
		if !input.Has(name) {
			if f.Required {
				errs = append(errs, fmt.Sprintf("Field '%s' is required.", name))
				failed[name] = true
			}
			continue
		}
		v := coerce(f.Type, input[name])
		if !f.Type.Accepts(v) {
			errs = append(errs, fmt.Sprintf("Field '%s' must be %s.", name, describeType(f.Type)))
			failed[name] = true
			continue
		}
		input[name] = v
	}

	// Field validations see the input as submitted.
	fctx := ectx.With(expr.WithInput(input))
	for _, name := range a.Input.FieldOrder {
		f := a.Input.Fields[name]
		if len(f.Validation) == 0 || !input.Has(name) || failed[name] {
			continue
		}
		r, err := condition.Evaluate(f.Validation, fctx)
		if err != nil {
			return nil, nil, fmt.Errorf("input field %s validation: %w", name, err)
		}
		if !r.Allowed() {
			errs = append(errs, reasonOr(r, fmt.Sprintf("Field '%s' is invalid.", name)))
		}
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}

	r, err := condition.Evaluate(a.Input.Validation, fctx)
	if err != nil {
		return nil, nil, fmt.Errorf("input validation: %w", err)
	}
	if !r.Allowed() {
		return nil, []string{reasonOr(r, "Input is invalid.")}, nil
	}
	return input, nil, nil
}

// plan expands the effects of an action without executing anything.
func (e *Engine) plan(res *schema.ResourceDefinition, a *schema.ActionDefinition, ref ir.ResourceRef, ectx *expr.Context) ([]ir.EffectResult, error) {
	history := false
	if a.IncludeInHistory != nil {
		b, err := expr.EvalBool(a.IncludeInHistory, ectx)
		if err != nil {
			return nil, fmt.Errorf("%s.%s includeInHistory: %w", res.Name, a.Name, err)
		}
		history = b
	}

	var planned []ir.EffectResult
	if a.To != "" {
		planned = append(planned, ir.EffectResult{
			Kind:             ir.EffectUpdate,
			On:               ref,
			Properties:       ir.Object{schema.StateProperty: ir.String(a.To)},
			IncludeInHistory: history,
		})
	}

	declared, err := effects.Evaluate(a.Effects, ectx,
		effects.WithHistoryDefault(history),
		effects.WithTarget(ref),
	)
	if err != nil {
		return nil, fmt.Errorf("%s.%s effects: %w", res.Name, a.Name, err)
	}
	return append(planned, declared...), nil
}

// execute runs planned effects in order. Writes to the acted-on resource
// are compare-and-swaps on the revision last seen, starting from the
// revision loaded when the action was decided.
func (e *Engine) execute(ctx context.Context, rec ir.Record, planned []ir.EffectResult, p PerformActionParams, now time.Time) (PerformResult, error) {
	ref, revision := rec.ResourceRef, rec.Revision
	result := PerformResult{Effects: []ir.EffectResult{}}
	hist := newHistoryBuilder(ref, p.Action, userID(p.AsUser), now)
	current := map[ir.ResourceRef]ir.Object{ref: rec.Data}

run:
	for _, eff := range planned {
		switch eff.Kind {
		case ir.EffectUpdate:
			target := eff.On
			if target == (ir.ResourceRef{}) {
				target = ref
			}
			previous, ok := current[target]
			if !ok {
				rec, found, err := e.load(ctx, target)
				if err != nil {
					return PerformResult{}, err
				}
				if !found {
					result.Errors = append(result.Errors, notFoundMessage(target))
					break run
				}
				previous = rec.Data
			}

			var (
				updated ir.Record
				err     error
			)
			if target == ref {
				updated, err = e.store.CompareAndUpdate(ctx, target, revision, eff.Properties)
			} else {
				updated, err = e.store.Update(ctx, target, eff.Properties)
			}
			switch {
			case errors.Is(err, store.ErrConflict):
				e.logger.InfoContext(ctx, "action lost a concurrent update",
					"resource", target.String(),
					"action", p.Action,
					"expected_revision", revision,
				)
				result.Errors = append(result.Errors, msgConflict)
				break run
			case errors.Is(err, store.ErrNotFound):
				result.Errors = append(result.Errors, notFoundMessage(target))
				break run
			case err != nil:
				return PerformResult{}, fmt.Errorf("updating %s: %w", target, err)
			}

			if target == ref {
				revision = updated.Revision
			}
			current[target] = updated.Data
			if eff.IncludeInHistory {
				hist.add(target, updated.Revision, eff.Properties, previous)
			}

		case ir.EffectEmail:
			msg := mail.Message{To: eff.To, Template: eff.Template, Params: eff.Params}
			sent, err := e.mailer.SendMessage(ctx, msg)
			if err != nil || !sent {
				e.logger.WarnContext(ctx, "email not sent",
					"resource", ref.String(),
					"action", p.Action,
					"to", eff.To,
					"template", eff.Template,
					"error", err,
				)
				result.Errors = append(result.Errors, fmt.Sprintf("Failed to send email to %s.", eff.To))
				break run
			}
			e.logger.DebugContext(ctx, "email dispatched",
				"resource", ref.String(),
				"to", eff.To,
				"template", eff.Template,
			)

		default:
			return PerformResult{}, fmt.Errorf("unknown effect kind %q", eff.Kind)
		}

		result.Effects = append(result.Effects, eff)
		e.tel.recordEffect(ctx, string(eff.Kind))
	}

	events, err := hist.events()
	if err != nil {
		return PerformResult{}, err
	}
	for _, ev := range events {
		if err := e.store.WriteHistory(ctx, ev); err != nil {
			return PerformResult{}, fmt.Errorf("writing history of %s: %w", ev.Resource, err)
		}
	}
	result.History = events
	result.Success = len(result.Errors) == 0
	return result, nil
}
