package engine

import (
	"strings"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

// coerce converts stored or submitted strings to dates for datetime
// properties. Values that don't parse are returned unchanged so the type
// check reports them.
func coerce(t schema.PropertyType, v ir.Value) ir.Value {
	switch t.Tag {
	case "datetime":
		return toDate(v)
	case "datetime[]":
		arr, ok := v.(ir.Array)
		if !ok {
			return v
		}
		out := make(ir.Array, len(arr))
		for i, item := range arr {
			out[i] = toDate(item)
		}
		return out
	}
	return v
}

func toDate(v ir.Value) ir.Value {
	s, ok := v.(ir.String)
	if !ok {
		return v
	}
	t, err := expr.ParseDate(string(s))
	if err != nil {
		return v
	}
	return ir.Date(t)
}

func stateOf(data ir.Object) string {
	if s, ok := data[schema.StateProperty].(ir.String); ok {
		return string(s)
	}
	return ""
}

// describeType renders a type for "must be ..." messages.
func describeType(t schema.PropertyType) string {
	if t.IsReference() {
		if t.Has(schema.ConstraintCanHoldMany) {
			return "a list of " + t.ReferenceTo + " references"
		}
		return "a reference to " + t.ReferenceTo
	}
	if elem, ok := strings.CutSuffix(t.Tag, "[]"); ok {
		return "a list of " + elem + "s"
	}
	return "a " + t.Tag
}

// emptyNotAllowed reports an empty string for a type without CanBeEmpty.
func emptyNotAllowed(t schema.PropertyType, v ir.Value) bool {
	s, ok := v.(ir.String)
	return ok && s == "" && !t.Has(schema.ConstraintCanBeEmpty)
}
