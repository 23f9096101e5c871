package expr

import "github.com/roach88/flowgate/internal/ir"

// Node is a parsed expression. The set of implementations is closed; Eval
// dispatches over it with a type switch.
type Node interface {
	// Label is the entry pushed onto the evaluation stack for this node.
	Label() string
	node()
}

// Literal is a constant value.
type Literal struct {
	Value ir.Value
}

// List is an array literal. Elements are expressions, so an array of plain
// values evaluates to itself.
type List struct {
	Elems []Node
}

// If is the {if, then, else} special form.
type If struct {
	Cond, Then, Else Node
}

// Binary is a two-operand operator: and, or, comparisons, arithmetic, eq.
type Binary struct {
	Op          string
	Left, Right Node
}

// Not negates a boolean operand.
type Not struct {
	Operand Node
}

// Quantifier is all/any/none over a list of boolean expressions. When the
// operand is not an array literal, Source is evaluated to an array instead.
type Quantifier struct {
	Op     string
	Items  []Node
	Source Node
}

// Sum adds an array of numbers.
type Sum struct {
	Source Node
}

// StringLength counts the characters of a string.
type StringLength struct {
	Operand Node
}

// JoinStrings concatenates strings with an optional separator.
type JoinStrings struct {
	Strings   Node
	Separator Node
}

// Contains tests array membership.
type Contains struct {
	Haystack, Needle Node
}

// Get reads a property of self. AsType is a declared result type; it
// documents intent and is not enforced at runtime.
type Get struct {
	Property Node
	From     Node
	AsType   string
}

// Exists reports whether a property of self is present and non-null.
// Negate turns it into doesNotExist.
type Exists struct {
	Property Node
	From     Node
	Negate   bool
}

// GetInput reads a field of the action input.
type GetInput struct {
	Field Node
}

// GetUser reads an attribute of the acting user.
type GetUser struct {
	Attribute Node
}

// DateOf converts an RFC 3339 string to a date.
type DateOf struct {
	Operand Node
}

// Arg reads a closure-bound argument of the enclosing named function.
type Arg struct {
	Name       string
	Index      int
	Positional bool
}

// Call invokes a named function from the context's function table.
type Call struct {
	Name       string
	Positional []Node
	Named      map[string]Node
}

// Unimplemented stands for an operator that is part of the language but
// not supported by this interpreter (resource traversal).
type Unimplemented struct {
	Operation string
}

func (Literal) node()       {}
func (List) node()          {}
func (If) node()            {}
func (Binary) node()        {}
func (Not) node()           {}
func (Quantifier) node()    {}
func (Sum) node()           {}
func (StringLength) node()  {}
func (JoinStrings) node()   {}
func (Contains) node()      {}
func (Get) node()           {}
func (Exists) node()        {}
func (GetInput) node()      {}
func (GetUser) node()       {}
func (DateOf) node()        {}
func (Arg) node()           {}
func (Call) node()          {}
func (Unimplemented) node() {}

func (n Literal) Label() string {
	b, err := ir.MarshalValue(n.Value)
	if err != nil {
		return ir.TypeName(n.Value)
	}
	return string(b)
}

func (n Exists) Label() string {
	if n.Negate {
		return "doesNotExist"
	}
	return "exists"
}

func (List) Label() string            { return "[]" }
func (If) Label() string              { return "if/then/else" }
func (n Binary) Label() string        { return n.Op }
func (Not) Label() string             { return "not" }
func (n Quantifier) Label() string    { return n.Op }
func (Sum) Label() string             { return "sum" }
func (StringLength) Label() string    { return "stringLength" }
func (JoinStrings) Label() string     { return "joinStrings" }
func (Contains) Label() string        { return "contains" }
func (Get) Label() string             { return "get" }
func (GetInput) Label() string        { return "getInput" }
func (GetUser) Label() string         { return "getUser" }
func (DateOf) Label() string          { return "date" }
func (Arg) Label() string             { return "$" }
func (n Call) Label() string          { return n.Name }
func (n Unimplemented) Label() string { return n.Operation }
