// Package condition resolves ordered allow/deny rule lists.
//
// Rules are tested left to right. A literal rule, or an allowIf/denyIf rule
// whose expression is true, terminates evaluation. When every rule is tested
// without terminating, the decision is the opposite of the final rule's
// polarity: a trailing denyIf allows, a trailing allowIf denies with its
// denyMessage.
package condition

import (
	"fmt"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

// Decision is the outcome of a rule list.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Reasons reported for literal rules and the denyIf fallback.
const (
	ReasonExplicitAllow  = "explicitly allowed"
	ReasonExplicitDeny   = "explicitly denied"
	ReasonDenyIfFallback = "All conditions were `false` and final condition was a `denyIf`."
)

// Result is a decision plus an optional human-readable reason.
type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// Allowed reports whether the decision is allow.
func (r Result) Allowed() bool {
	return r.Decision == Allow
}

// Evaluate runs rules against ctx. The whole list is validated before any
// rule is evaluated. An empty list allows.
func Evaluate(rules schema.ConditionDefinition, ctx *expr.Context) (Result, error) {
	if err := Validate(rules); err != nil {
		return Result{}, err
	}

	var (
		lastPolarity    = schema.RuleDenyIf
		lastDenyMessage string
	)

	for i, rule := range rules {
		switch rule.Kind {
		case schema.RuleAllow:
			return Result{Decision: Allow, Reason: ReasonExplicitAllow}, nil
		case schema.RuleDeny:
			return Result{Decision: Deny, Reason: ReasonExplicitDeny}, nil
		case schema.RuleDenyWithMessage:
			return Result{Decision: Deny, Reason: rule.Message}, nil
		}

		ok, err := evalRule(i, rule, ctx)
		if err != nil {
			return Result{}, err
		}

		if rule.Kind == schema.RuleAllowIf {
			if ok {
				return Result{Decision: Allow}, nil
			}
			lastDenyMessage = rule.Message
		} else if ok {
			return Result{Decision: Deny, Reason: rule.Message}, nil
		}
		lastPolarity = rule.Kind
	}

	if len(rules) == 0 {
		return Result{Decision: Allow}, nil
	}
	if lastPolarity == schema.RuleAllowIf {
		return Result{Decision: Deny, Reason: lastDenyMessage}, nil
	}
	return Result{Decision: Allow, Reason: ReasonDenyIfFallback}, nil
}

func evalRule(i int, rule schema.ConditionRule, ctx *expr.Context) (bool, error) {
	v, err := expr.Eval(rule.Expr, ctx)
	if err != nil {
		return false, fmt.Errorf("condition %d (%s): %w", i, rule.Kind, err)
	}
	b, ok := v.(ir.Bool)
	if !ok {
		return false, &TypeError{Index: i, Kind: rule.Kind, Received: ir.TypeName(v)}
	}
	return bool(b), nil
}

// Validate checks the structure of every rule.
func Validate(rules schema.ConditionDefinition) error {
	for i, rule := range rules {
		if err := validateRule(rule); err != nil {
			return &InvalidConditionError{Index: i, Reason: err.Error()}
		}
	}
	return nil
}

func validateRule(rule schema.ConditionRule) error {
	switch rule.Kind {
	case schema.RuleAllow, schema.RuleDeny:
		if rule.Expr != nil || rule.Message != "" {
			return fmt.Errorf("%s takes no arguments", rule.Kind)
		}
	case schema.RuleDenyWithMessage:
		if rule.Expr != nil {
			return fmt.Errorf("denyWithMessage takes no expression")
		}
	case schema.RuleAllowIf, schema.RuleDenyIf:
		if rule.Expr == nil {
			return fmt.Errorf("%s requires an expression", rule.Kind)
		}
	default:
		return fmt.Errorf("unknown rule kind")
	}
	return nil
}
