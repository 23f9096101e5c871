package schema

import (
	"slices"
	"sort"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
)

// StateProperty is the reserved property holding a resource's state.
const StateProperty = "state"

// SystemDefinition is the loaded, validated form of a system definition.
// It is read-only after compilation.
type SystemDefinition struct {
	Name      string
	Roles     []string
	Resources map[string]*ResourceDefinition
	Functions map[string]expr.Node

	// Hash fingerprints the source document.
	Hash string
}

// Resource returns the named resource definition.
func (s *SystemDefinition) Resource(name string) (*ResourceDefinition, bool) {
	r, ok := s.Resources[name]
	return r, ok
}

// ResourceTypes returns the resource type names in sorted order.
func (s *SystemDefinition) ResourceTypes() []string {
	names := make([]string, 0, len(s.Resources))
	for name := range s.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResourceDefinition describes one resource type.
type ResourceDefinition struct {
	Name                 string
	Description          string
	States               []string
	DefaultState         string
	Properties           map[string]*PropertyDefinition
	PropertyOrder        []string
	CalculatedProperties []*CalculatedPropertyDefinition
	Actions              map[string]*ActionDefinition
	ActionOrder          []string
	ReadPermissions      PermissionDefinition
	ActionPermissions    map[string]PermissionDefinition
}

// InitialState is the state a newly created resource starts in.
func (r *ResourceDefinition) InitialState() string {
	if r.DefaultState != "" {
		return r.DefaultState
	}
	if len(r.States) > 0 {
		return r.States[0]
	}
	return ""
}

// HasState reports whether state is legal. A resource without declared
// states accepts any state.
func (r *ResourceDefinition) HasState(state string) bool {
	return len(r.States) == 0 || slices.Contains(r.States, state)
}

// Calculated returns the named calculated property.
func (r *ResourceDefinition) Calculated(name string) (*CalculatedPropertyDefinition, bool) {
	for _, c := range r.CalculatedProperties {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Action returns the named action.
func (r *ResourceDefinition) Action(name string) (*ActionDefinition, bool) {
	a, ok := r.Actions[name]
	return a, ok
}

// PropertyType is a property's declared type: a primitive tag, or a
// reference to another resource type.
type PropertyType struct {
	// Tag is one of string, number, boolean, datetime and their [] variants.
	// Empty for references.
	Tag string

	// ReferenceTo names the referenced resource type.
	ReferenceTo string

	Constraints []string
}

// Constraint names.
const (
	ConstraintCanBeEmpty       = "CanBeEmpty"
	ConstraintNotAlwaysPresent = "NotAlwaysPresent"
	ConstraintCanHoldMany      = "CanHoldMany"
)

// IsReference reports whether the type refers to another resource type.
func (t PropertyType) IsReference() bool {
	return t.ReferenceTo != ""
}

// Has reports whether the type carries constraint c.
func (t PropertyType) Has(c string) bool {
	return slices.Contains(t.Constraints, c)
}

// Accepts reports whether v is a valid value for the type. Null is always
// accepted; presence is a separate concern.
func (t PropertyType) Accepts(v ir.Value) bool {
	if ir.IsNull(v) {
		return true
	}
	if t.IsReference() {
		if t.Has(ConstraintCanHoldMany) {
			return expr.MatchesType(v, "string[]")
		}
		return expr.MatchesType(v, "string")
	}
	return expr.MatchesType(v, t.Tag)
}

// String renders the type for error messages.
func (t PropertyType) String() string {
	if t.IsReference() {
		if t.Has(ConstraintCanHoldMany) {
			return "reference to many " + t.ReferenceTo
		}
		return "reference to " + t.ReferenceTo
	}
	return t.Tag
}

// PropertyDefinition describes a stored property.
type PropertyDefinition struct {
	Name             string
	Type             PropertyType
	Description      string
	ReadPermissions  PermissionDefinition
	WritePermissions PermissionDefinition
}

// CalculatedPropertyDefinition describes a property derived by expression.
type CalculatedPropertyDefinition struct {
	PropertyDefinition
	Expression expr.Node
}

// ActionDefinition describes a state-gated operation on a resource.
type ActionDefinition struct {
	Name             string
	Description      string
	From             []string
	To               string
	Conditions       ConditionDefinition
	Permissions      PermissionDefinition
	Effects          []EffectDefinition
	Input            *InputDefinition
	IncludeInHistory expr.Node
}

// AppliesFrom reports whether the action can start in state.
func (a *ActionDefinition) AppliesFrom(state string) bool {
	return slices.Contains(a.From, state)
}

// InputDefinition declares the input an action accepts.
type InputDefinition struct {
	Fields     map[string]*InputField
	FieldOrder []string
	Validation ConditionDefinition
}

// InputField declares one input field.
type InputField struct {
	Name       string
	Type       PropertyType
	Required   bool
	Validation ConditionDefinition
}
