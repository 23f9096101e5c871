package engine

import (
	"context"
	"fmt"

	"github.com/roach88/flowgate/internal/condition"
	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

// DescribeActions reports, for every action that starts in the resource's
// current state, whether it is possible and whether the user is allowed to
// perform it.
func (e *Engine) DescribeActions(ctx context.Context, p DescribeActionsParams) (result DescribeActionsResult, err error) {
	ref := ir.ResourceRef{UID: p.UID, Type: p.Type}
	ctx, done := e.tel.track(ctx, "engine.DescribeActions", refAttrs(ref)...)
	defer func() { done(err) }()

	res, err := e.resourceDef(p.Type)
	if err != nil {
		return DescribeActionsResult{}, err
	}
	rec, found, err := e.load(ctx, ref)
	if err != nil {
		return DescribeActionsResult{}, err
	}
	if !found {
		return DescribeActionsResult{Errors: []string{notFoundMessage(ref)}, Actions: []ActionDescription{}}, nil
	}

	self, err := e.snapshot(res, rec.Data, p.AsUser)
	if err != nil {
		return DescribeActionsResult{}, err
	}
	ectx := e.baseContext(p.AsUser).With(expr.WithSelf(self))
	state := stateOf(self)

	result = DescribeActionsResult{Success: true, State: state, Actions: []ActionDescription{}}
	for _, name := range res.ActionOrder {
		a := res.Actions[name]
		if !a.AppliesFrom(state) {
			continue
		}
		d, err := e.decide(res, a, p.AsUser, ectx, state)
		if err != nil {
			return DescribeActionsResult{}, err
		}
		result.Actions = append(result.Actions, d)
	}
	return result, nil
}

// CanPerformAction decides a single action against the resource's current
// state.
func (e *Engine) CanPerformAction(ctx context.Context, p CanPerformActionParams) (result CanPerformResult, err error) {
	ref := ir.ResourceRef{UID: p.UID, Type: p.Type}
	ctx, done := e.tel.track(ctx, "engine.CanPerformAction", append(refAttrs(ref), AttrAction.String(p.Action))...)
	defer func() { done(err) }()

	res, err := e.resourceDef(p.Type)
	if err != nil {
		return CanPerformResult{}, err
	}
	a, ok := res.Action(p.Action)
	if !ok {
		return CanPerformResult{}, unknownAction(p.Type, p.Action)
	}
	rec, found, err := e.load(ctx, ref)
	if err != nil {
		return CanPerformResult{}, err
	}
	if !found {
		return CanPerformResult{Errors: []string{notFoundMessage(ref)}}, nil
	}

	self, err := e.snapshot(res, rec.Data, p.AsUser)
	if err != nil {
		return CanPerformResult{}, err
	}
	d, err := e.decide(res, a, p.AsUser, e.baseContext(p.AsUser).With(expr.WithSelf(self)), stateOf(self))
	if err != nil {
		return CanPerformResult{}, err
	}

	result = CanPerformResult{Possible: d.Possible, Allowed: d.Allowed}
	if !d.Allowed {
		result.Reason = d.AllowedReason
	}
	return result, nil
}

// decide evaluates an action's conditions and, only when they pass, its
// permissions. An impossible action is not allowed, for the same reason.
// Permissions come from the action itself or, when it declares none, from
// the resource's actionPermissions; with neither the action is allowed.
func (e *Engine) decide(res *schema.ResourceDefinition, a *schema.ActionDefinition, user *ir.User, ectx *expr.Context, state string) (ActionDescription, error) {
	d := ActionDescription{Name: a.Name, Description: a.Description, To: a.To}

	if !a.AppliesFrom(state) {
		d.PossibleReason = fmt.Sprintf("Action '%s' cannot be performed from state '%s'.", a.Name, state)
		d.AllowedReason = d.PossibleReason
		return d, nil
	}

	pr, err := condition.Evaluate(a.Conditions, ectx)
	if err != nil {
		return ActionDescription{}, fmt.Errorf("%s.%s conditions: %w", res.Name, a.Name, err)
	}
	d.Possible = pr.Allowed()
	d.PossibleReason = pr.Reason
	if !d.Possible {
		d.PossibleReason = reasonOr(pr, fmt.Sprintf("Action '%s' is not possible.", a.Name))
		d.AllowedReason = d.PossibleReason
		return d, nil
	}

	rules := a.Permissions
	if len(rules) == 0 {
		rules = res.ActionPermissions[a.Name]
	}
	ar, err := e.allow(rules, user, ectx)
	if err != nil {
		return ActionDescription{}, fmt.Errorf("%s.%s permissions: %w", res.Name, a.Name, err)
	}
	d.Allowed = ar.Allowed()
	d.AllowedReason = ar.Reason
	if !d.Allowed {
		d.AllowedReason = reasonOr(ar, fmt.Sprintf("You are not allowed to perform '%s'.", a.Name))
	}
	return d, nil
}

// decisionOutcome names a decision for logs.
func decisionOutcome(d ActionDescription) string {
	switch {
	case !d.Possible:
		return "impossible"
	case !d.Allowed:
		return "denied"
	}
	return "allowed"
}
