package schema

import "github.com/roach88/flowgate/internal/expr"

// RuleKind tags a condition or permission rule.
type RuleKind int

const (
	RuleInvalid RuleKind = iota
	RuleAllow
	RuleDeny
	RuleDenyWithMessage
	RuleAllowIf
	RuleDenyIf
)

func (k RuleKind) String() string {
	switch k {
	case RuleAllow:
		return "allow"
	case RuleDeny:
		return "deny"
	case RuleDenyWithMessage:
		return "denyWithMessage"
	case RuleAllowIf:
		return "allowIf"
	case RuleDenyIf:
		return "denyIf"
	}
	return "invalid"
}

// ConditionRule is one entry of a ConditionDefinition.
//
// Message holds the denyWithMessage text for RuleDenyWithMessage and the
// optional denyMessage for RuleAllowIf and RuleDenyIf.
type ConditionRule struct {
	Kind    RuleKind
	Expr    expr.Node
	Message string
}

// ConditionDefinition is an ordered rule list; the first terminating rule
// decides.
type ConditionDefinition []ConditionRule

// Allow, Deny and DenyWithMessage build literal rules.
func Allow() ConditionRule { return ConditionRule{Kind: RuleAllow} }
func Deny() ConditionRule  { return ConditionRule{Kind: RuleDeny} }
func DenyWithMessage(msg string) ConditionRule {
	return ConditionRule{Kind: RuleDenyWithMessage, Message: msg}
}

// AllowIf and DenyIf build expression rules.
func AllowIf(e expr.Node, denyMessage string) ConditionRule {
	return ConditionRule{Kind: RuleAllowIf, Expr: e, Message: denyMessage}
}
func DenyIf(e expr.Node, denyMessage string) ConditionRule {
	return ConditionRule{Kind: RuleDenyIf, Expr: e, Message: denyMessage}
}

// PermissionRule is one entry of a PermissionDefinition. A literal rule
// (Literal.Kind is allow, deny or denyWithMessage) matches every user;
// otherwise Roles selects the users and Conditions decides.
type PermissionRule struct {
	Literal    *ConditionRule
	Roles      []string
	Conditions ConditionDefinition
}

// PermissionDefinition is an ordered rule list; the first matching rule is
// used exclusively.
type PermissionDefinition []PermissionRule

// LiteralPermission wraps a literal condition rule as a permission rule.
func LiteralPermission(r ConditionRule) PermissionRule {
	return PermissionRule{Literal: &r}
}

// RolePermission builds a role-matched permission rule.
func RolePermission(roles []string, conditions ...ConditionRule) PermissionRule {
	return PermissionRule{Roles: roles, Conditions: conditions}
}
