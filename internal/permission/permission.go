// Package permission routes a user into the condition rules of the first
// permission rule matching one of the user's roles.
package permission

import (
	"fmt"
	"slices"

	"github.com/roach88/flowgate/internal/condition"
	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

// ReasonNoMatch is reported when no rule matches the user.
const ReasonNoMatch = "Not allowed for this user."

// Evaluate decides rules for user. Literal rules match every user and decide
// without a reason, except denyWithMessage which carries its message. Role
// rules match when they share a role with the user or list the wildcard.
// The first matching rule is used exclusively, and its conditions are
// evaluated with ctx (with user bound).
func Evaluate(rules schema.PermissionDefinition, user *ir.User, ctx *expr.Context) (condition.Result, error) {
	if err := ValidateUser(user); err != nil {
		return condition.Result{}, err
	}
	if err := Validate(rules); err != nil {
		return condition.Result{}, err
	}

	if ctx == nil {
		ctx = expr.NewContext(expr.WithUser(user))
	} else {
		ctx = ctx.With(expr.WithUser(user))
	}

	for _, rule := range rules {
		if rule.Literal != nil {
			return literal(*rule.Literal), nil
		}
		if Matches(rule.Roles, user) {
			return condition.Evaluate(rule.Conditions, ctx)
		}
	}
	return condition.Result{Decision: condition.Deny, Reason: ReasonNoMatch}, nil
}

func literal(rule schema.ConditionRule) condition.Result {
	switch rule.Kind {
	case schema.RuleAllow:
		return condition.Result{Decision: condition.Allow}
	case schema.RuleDenyWithMessage:
		return condition.Result{Decision: condition.Deny, Reason: rule.Message}
	default:
		return condition.Result{Decision: condition.Deny}
	}
}

// Matches reports whether a role rule applies to user.
func Matches(roles []string, user *ir.User) bool {
	if slices.Contains(roles, ir.WildcardRole) {
		return true
	}
	for _, r := range user.Roles {
		if r != "" && slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

// ValidateUser checks that user carries a role list.
func ValidateUser(user *ir.User) error {
	if user == nil {
		return &InvalidUserError{Reason: "no user"}
	}
	if len(user.Roles) == 0 {
		return &InvalidUserError{UID: user.UID, Reason: "user must have at least one role"}
	}
	return nil
}

// Validate checks the structure of every rule, including nested conditions.
func Validate(rules schema.PermissionDefinition) error {
	for i, rule := range rules {
		if rule.Literal != nil {
			switch rule.Literal.Kind {
			case schema.RuleAllow, schema.RuleDeny, schema.RuleDenyWithMessage:
			default:
				return &InvalidPermissionError{Index: i, Reason: fmt.Sprintf("%s is not a literal permission rule", rule.Literal.Kind)}
			}
			if len(rule.Roles) > 0 || len(rule.Conditions) > 0 {
				return &InvalidPermissionError{Index: i, Reason: "literal rules take no roles or conditions"}
			}
			continue
		}
		if rule.Roles == nil || rule.Conditions == nil {
			return &InvalidPermissionError{Index: i, Reason: "rule must include `roles` and `conditions` lists"}
		}
		if err := condition.Validate(rule.Conditions); err != nil {
			return &InvalidPermissionError{Index: i, Reason: err.Error()}
		}
	}
	return nil
}
