package expr

import (
	"maps"
	"slices"

	"github.com/roach88/flowgate/internal/ir"
)

// Walk calls fn for n and, while fn returns true, for each of its children
// in evaluation order. Named-call arguments are visited in name order.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range children(n) {
		Walk(c, fn)
	}
}

func children(n Node) []Node {
	switch n := n.(type) {
	case List:
		return n.Elems
	case If:
		return []Node{n.Cond, n.Then, n.Else}
	case Binary:
		return []Node{n.Left, n.Right}
	case Not:
		return []Node{n.Operand}
	case Quantifier:
		return append(slices.Clone(n.Items), n.Source)
	case Sum:
		return []Node{n.Source}
	case StringLength:
		return []Node{n.Operand}
	case JoinStrings:
		return []Node{n.Strings, n.Separator}
	case Contains:
		return []Node{n.Haystack, n.Needle}
	case Get:
		return []Node{n.Property, n.From}
	case Exists:
		return []Node{n.Property, n.From}
	case GetInput:
		return []Node{n.Field}
	case GetUser:
		return []Node{n.Attribute}
	case DateOf:
		return []Node{n.Operand}
	case Call:
		out := slices.Clone(n.Positional)
		for _, name := range slices.Sorted(maps.Keys(n.Named)) {
			out = append(out, n.Named[name])
		}
		return out
	}
	return nil
}

// PropertyRefs returns the self properties n reads through get, exists and
// doesNotExist with a literal property name, without duplicates.
func PropertyRefs(n Node) []string {
	var refs []string
	add := func(p Node) {
		lit, ok := p.(Literal)
		if !ok {
			return
		}
		s, ok := lit.Value.(ir.String)
		if ok && !slices.Contains(refs, string(s)) {
			refs = append(refs, string(s))
		}
	}
	Walk(n, func(c Node) bool {
		switch c := c.(type) {
		case Get:
			if c.From == nil {
				add(c.Property)
			}
		case Exists:
			if c.From == nil {
				add(c.Property)
			}
		}
		return true
	})
	return refs
}

// Calls returns the names of the functions n invokes, without duplicates.
func Calls(n Node) []string {
	var names []string
	Walk(n, func(c Node) bool {
		if call, ok := c.(Call); ok && !slices.Contains(names, call.Name) {
			names = append(names, call.Name)
		}
		return true
	})
	return names
}
