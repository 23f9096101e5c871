package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowgate/internal/condition"
	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/permission"
	"github.com/roach88/flowgate/internal/schema"
)

// Validation error codes (E100-E199)
const (
	// Resource errors (E101-E109)
	ErrDuplicateState       = "E101" // state listed twice
	ErrUnknownDefaultState  = "E102" // defaultState not among states
	ErrReservedProperty     = "E103" // property named "state"
	ErrDuplicateProperty    = "E104" // calculated property shadows a stored one
	ErrUnknownReference     = "E105" // referenceTo names no resource type
	ErrUnknownConstraint    = "E106" // constraint name not recognized
	ErrUnknownActionPermKey = "E107" // actionPermissions for an undeclared action

	// Action errors (E110-E119)
	ErrUnknownFromState = "E110" // from state not among states
	ErrUnknownToState   = "E111" // to state not among states
	ErrNoFromStates     = "E112" // from list is empty

	// Rule errors (E120-E129)
	ErrUnknownRole   = "E120" // permission rule names an undeclared role
	ErrMalformedRule = "E121" // rule list fails structural checks

	// Function errors (E130-E139)
	ErrShadowedBuiltin = "E130" // function name collides with an operator
)

// ValidationError represents a semantic definition error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors aggregates every semantic error found in a definition.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation error(s):\n  %s", len(e.Errors), strings.Join(msgs, "\n  "))
}

var knownConstraints = []string{
	schema.ConstraintCanBeEmpty,
	schema.ConstraintNotAlwaysPresent,
	schema.ConstraintCanHoldMany,
}

// Validate checks cross references within a compiled definition.
// Returns all errors found (does not fail-fast).
func Validate(def *schema.SystemDefinition) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	for _, name := range sortedNames(def.Functions) {
		if expr.IsBuiltin(name) {
			add(ErrShadowedBuiltin, "functions."+name, "function %q shadows a built-in operator", name)
		}
	}

	checkConditions := func(field string, rules schema.ConditionDefinition) {
		if err := condition.Validate(rules); err != nil {
			add(ErrMalformedRule, field, "%v", err)
		}
	}

	checkRoles := func(field string, rules schema.PermissionDefinition) {
		if err := permission.Validate(rules); err != nil {
			add(ErrMalformedRule, field, "%v", err)
		}
		if len(def.Roles) == 0 {
			return
		}
		for i, rule := range rules {
			for _, role := range rule.Roles {
				if role != ir.WildcardRole && !slices.Contains(def.Roles, role) {
					add(ErrUnknownRole, fmt.Sprintf("%s[%d].roles", field, i), "role %q is not declared", role)
				}
			}
		}
	}

	for _, rname := range def.ResourceTypes() {
		res := def.Resources[rname]
		path := "resources." + rname

		seen := make(map[string]bool, len(res.States))
		for i, s := range res.States {
			if seen[s] {
				add(ErrDuplicateState, fmt.Sprintf("%s.states[%d]", path, i), "duplicate state %q", s)
			}
			seen[s] = true
		}
		if res.DefaultState != "" && !res.HasState(res.DefaultState) {
			add(ErrUnknownDefaultState, path+".defaultState", "default state %q is not one of the resource's states", res.DefaultState)
		}

		checkType := func(field string, t schema.PropertyType) {
			if t.IsReference() {
				if _, ok := def.Resources[t.ReferenceTo]; !ok {
					add(ErrUnknownReference, field+".type", "reference to unknown resource type %q", t.ReferenceTo)
				}
			}
			for _, c := range t.Constraints {
				if !slices.Contains(knownConstraints, c) {
					add(ErrUnknownConstraint, field+".constraints", "unknown constraint %q", c)
				}
			}
		}

		for _, pname := range res.PropertyOrder {
			p := res.Properties[pname]
			field := path + ".properties." + pname
			if pname == schema.StateProperty {
				add(ErrReservedProperty, field, "%q is reserved for the resource state", pname)
			}
			checkType(field, p.Type)
			checkRoles(field+".readPermissions", p.ReadPermissions)
			checkRoles(field+".writePermissions", p.WritePermissions)
		}
		for _, c := range res.CalculatedProperties {
			field := path + ".calculatedProperties." + c.Name
			if c.Name == schema.StateProperty {
				add(ErrReservedProperty, field, "%q is reserved for the resource state", c.Name)
			}
			if _, ok := res.Properties[c.Name]; ok {
				add(ErrDuplicateProperty, field, "calculated property %q is also a stored property", c.Name)
			}
			checkType(field, c.Type)
			checkRoles(field+".readPermissions", c.ReadPermissions)
		}

		checkRoles(path+".readPermissions", res.ReadPermissions)

		for _, aname := range res.ActionOrder {
			a := res.Actions[aname]
			field := path + ".actions." + aname
			if len(a.From) == 0 {
				add(ErrNoFromStates, field+".from", "action %q has no source states", aname)
			}
			if len(res.States) > 0 {
				for _, s := range a.From {
					if !res.HasState(s) {
						add(ErrUnknownFromState, field+".from", "state %q is not one of the resource's states", s)
					}
				}
				if a.To != "" && !res.HasState(a.To) {
					add(ErrUnknownToState, field+".to", "state %q is not one of the resource's states", a.To)
				}
			}
			checkRoles(field+".permissions", a.Permissions)
			checkConditions(field+".conditions", a.Conditions)
			if a.Input != nil {
				for _, fname := range a.Input.FieldOrder {
					in := field + ".input.fields." + fname
					checkType(in, a.Input.Fields[fname].Type)
					checkConditions(in+".validation", a.Input.Fields[fname].Validation)
				}
				checkConditions(field+".input.validation", a.Input.Validation)
			}
		}

		for _, aname := range sortedNames(res.ActionPermissions) {
			field := path + ".actionPermissions." + aname
			if _, ok := res.Actions[aname]; !ok {
				add(ErrUnknownActionPermKey, field, "no action named %q", aname)
			}
			checkRoles(field, res.ActionPermissions[aname])
		}
	}

	return errs
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
