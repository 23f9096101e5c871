package engine

import (
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

// ListResourcesParams selects the resources of one type.
type ListResourcesParams struct {
	Type   string
	AsUser *ir.User
}

// ListResult holds the resources the user may read.
type ListResult struct {
	Resources []ir.ResourceRef `json:"resources"`
}

// CreateResourceParams describes a new resource.
type CreateResourceParams struct {
	Type   string
	AsUser *ir.User
	Data   ir.Object
}

// CreateResult is the outcome of CreateResource.
type CreateResult struct {
	Success bool           `json:"success"`
	Errors  []string       `json:"errors,omitempty"`
	Ref     ir.ResourceRef `json:"ref,omitzero"`
}

// GetResourceParams identifies a resource to read.
type GetResourceParams struct {
	UID    string
	Type   string
	AsUser *ir.User
}

// UpdateResourceParams describes a direct property update.
type UpdateResourceParams struct {
	UID    string
	Type   string
	AsUser *ir.User
	Data   ir.Object
}

// ResourceResult is the outcome of a read or write. Resource is nil when
// Success is false.
type ResourceResult struct {
	Success  bool      `json:"success"`
	Errors   []string  `json:"errors,omitempty"`
	Resource *Resource `json:"resource,omitempty"`
}

// Resource is a resource as seen by one user.
type Resource struct {
	ir.ResourceRef
	State  string  `json:"state"`
	Fields []Field `json:"fields"`
}

// Field is one property of a Resource. Hidden fields carry no value; their
// Errors explain why.
type Field struct {
	Name       string   `json:"name"`
	Value      ir.Value `json:"value,omitempty"`
	Visible    bool     `json:"visible"`
	Calculated bool     `json:"calculated,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// Field returns the named field.
func (r *Resource) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Visible returns the visible fields as an object, with the state.
func (r *Resource) Visible() ir.Object {
	out := ir.Object{schema.StateProperty: ir.String(r.State)}
	for _, f := range r.Fields {
		if f.Visible {
			out[f.Name] = f.Value
		}
	}
	return out
}

// DescribeActionsParams identifies the resource whose actions to describe.
type DescribeActionsParams struct {
	UID    string
	Type   string
	AsUser *ir.User
}

// ActionDescription reports whether one action can be performed.
type ActionDescription struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	To             string `json:"to,omitempty"`
	Possible       bool   `json:"possible"`
	PossibleReason string `json:"possibleReason,omitempty"`
	Allowed        bool   `json:"allowed"`
	AllowedReason  string `json:"allowedReason,omitempty"`
}

// DescribeActionsResult lists the actions available from the current state.
type DescribeActionsResult struct {
	Success bool                `json:"success"`
	Errors  []string            `json:"errors,omitempty"`
	State   string              `json:"state,omitempty"`
	Actions []ActionDescription `json:"actions"`
}

// CanPerformActionParams names an action on a resource.
type CanPerformActionParams struct {
	UID    string
	Type   string
	AsUser *ir.User
	Action string
}

// CanPerformResult reports possibility and allowance for one action.
type CanPerformResult struct {
	Possible bool     `json:"possible"`
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// PerformActionParams names an action to perform, with its input.
type PerformActionParams struct {
	UID    string
	Type   string
	AsUser *ir.User
	Action string
	Input  ir.Object
}

// PerformResult is the outcome of PerformAction. Effects lists the effects
// that were executed, in order; History the events that were written.
type PerformResult struct {
	Success bool              `json:"success"`
	Errors  []string          `json:"errors,omitempty"`
	Effects []ir.EffectResult `json:"effects,omitempty"`
	History []ir.HistoryEvent `json:"history,omitempty"`
}

// GetHistoryParams identifies the resource whose history to read.
type GetHistoryParams struct {
	UID    string
	Type   string
	AsUser *ir.User
}

// HistoryResult holds a resource's history in write order.
type HistoryResult struct {
	Success bool              `json:"success"`
	Errors  []string          `json:"errors,omitempty"`
	Events  []ir.HistoryEvent `json:"events,omitempty"`
}
