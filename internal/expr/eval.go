package expr

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/roach88/flowgate/internal/ir"
)

// MaxDepth bounds expression nesting, including named-function recursion.
const MaxDepth = 256

// frame is the per-node evaluation state: the operator trail and the
// closure scope visible at this point.
type frame struct {
	stack Stack
	scope *scope
}

func (f frame) push(label string) frame {
	return frame{stack: append(slices.Clip(f.stack), label), scope: f.scope}
}

// scope is one layer of closure-bound arguments, pushed for the duration of
// a named-function call. Arguments are evaluated lazily, in the scope of the
// call site.
type scope struct {
	positional []thunk
	named      map[string]thunk
	parent     *scope
}

type thunk struct {
	node  Node
	scope *scope
}

func (s *scope) lookup(a Arg) (thunk, bool) {
	if a.Positional && a.Index < len(s.positional) {
		return s.positional[a.Index], true
	}
	th, ok := s.named[a.Name]
	return th, ok
}

// Eval evaluates n in ctx. A nil ctx is an empty context with the standard
// library.
func Eval(n Node, ctx *Context) (ir.Value, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	return ctx.eval(n, frame{})
}

// EvalBool evaluates n and requires a boolean result.
func EvalBool(n Node, ctx *Context) (bool, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	return ctx.expectBool(n, frame{})
}

// EvalString evaluates n and requires a string result.
func EvalString(n Node, ctx *Context) (string, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	return ctx.expectString(n, frame{})
}

// EvalNumber evaluates n and requires a number result.
func EvalNumber(n Node, ctx *Context) (float64, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	return ctx.expectNumber(n, frame{})
}

// EvalArray evaluates n and requires an array result.
func EvalArray(n Node, ctx *Context) (ir.Array, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	return ctx.expectArray(n, frame{})
}

func typeError(expected string, v ir.Value, f frame) *TypeError {
	return &TypeError{Expected: expected, Received: ir.TypeName(v), Value: v, Stack: f.stack}
}

func (c *Context) expectBool(n Node, f frame) (bool, error) {
	v, err := c.eval(n, f)
	if err != nil {
		return false, err
	}
	b, ok := v.(ir.Bool)
	if !ok {
		return false, typeError(ir.TypeBoolean, v, f.push(n.Label()))
	}
	return bool(b), nil
}

func (c *Context) expectNumber(n Node, f frame) (float64, error) {
	v, err := c.eval(n, f)
	if err != nil {
		return 0, err
	}
	num, ok := v.(ir.Number)
	if !ok {
		return 0, typeError(ir.TypeNumber, v, f.push(n.Label()))
	}
	return float64(num), nil
}

func (c *Context) expectString(n Node, f frame) (string, error) {
	v, err := c.eval(n, f)
	if err != nil {
		return "", err
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", typeError(ir.TypeString, v, f.push(n.Label()))
	}
	return string(s), nil
}

func (c *Context) expectArray(n Node, f frame) (ir.Array, error) {
	v, err := c.eval(n, f)
	if err != nil {
		return nil, err
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, typeError(ir.TypeArray, v, f.push(n.Label()))
	}
	return arr, nil
}

func (c *Context) eval(n Node, f frame) (ir.Value, error) {
	f = f.push(n.Label())
	if len(f.stack) > MaxDepth {
		return nil, &EvalError{Op: n.Label(), Message: fmt.Sprintf("expression nesting exceeds %d levels", MaxDepth), Stack: f.stack}
	}

	switch n := n.(type) {
	case Literal:
		if n.Value == nil {
			return ir.Null{}, nil
		}
		return n.Value, nil

	case List:
		out := make(ir.Array, len(n.Elems))
		for i, e := range n.Elems {
			v, err := c.eval(e, f)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case If:
		cond, err := c.expectBool(n.Cond, f)
		if err != nil {
			return nil, err
		}
		if cond {
			return c.eval(n.Then, f)
		}
		return c.eval(n.Else, f)

	case Binary:
		return c.evalBinary(n, f)

	case Not:
		b, err := c.expectBool(n.Operand, f)
		if err != nil {
			return nil, err
		}
		return ir.Bool(!b), nil

	case Quantifier:
		return c.evalQuantifier(n, f)

	case Sum:
		arr, err := c.expectArray(n.Source, f)
		if err != nil {
			return nil, err
		}
		total := 0.0
		for _, e := range arr {
			num, ok := e.(ir.Number)
			if !ok {
				return nil, typeError(ir.TypeNumber, e, f)
			}
			total += float64(num)
		}
		return ir.Number(total), nil

	case StringLength:
		s, err := c.expectString(n.Operand, f)
		if err != nil {
			return nil, err
		}
		return ir.Number(utf8.RuneCountInString(s)), nil

	case JoinStrings:
		arr, err := c.expectArray(n.Strings, f)
		if err != nil {
			return nil, err
		}
		sep := ""
		if n.Separator != nil {
			if sep, err = c.expectString(n.Separator, f); err != nil {
				return nil, err
			}
		}
		parts := make([]string, len(arr))
		for i, e := range arr {
			s, ok := e.(ir.String)
			if !ok {
				return nil, typeError(ir.TypeString, e, f)
			}
			parts[i] = string(s)
		}
		return ir.String(strings.Join(parts, sep)), nil

	case Contains:
		hay, err := c.expectArray(n.Haystack, f)
		if err != nil {
			return nil, err
		}
		needle, err := c.eval(n.Needle, f)
		if err != nil {
			return nil, err
		}
		for _, e := range hay {
			if ir.TypeName(e) != ir.TypeName(needle) {
				return nil, typeError(ir.TypeName(e), needle, f)
			}
			if ir.Equal(e, needle) {
				return ir.Bool(true), nil
			}
		}
		return ir.Bool(false), nil

	case Get:
		if n.From != nil {
			return nil, &NotImplementedError{Operation: "get from", Stack: f.stack}
		}
		self, err := c.requireSelf(f)
		if err != nil {
			return nil, err
		}
		prop, err := c.expectString(n.Property, f)
		if err != nil {
			return nil, err
		}
		return self.Get(prop), nil

	case Exists:
		if n.From != nil {
			return nil, &NotImplementedError{Operation: n.Label() + " from", Stack: f.stack}
		}
		self, err := c.requireSelf(f)
		if err != nil {
			return nil, err
		}
		prop, err := c.expectString(n.Property, f)
		if err != nil {
			return nil, err
		}
		return ir.Bool(self.Has(prop) != n.Negate), nil

	case GetInput:
		field, err := c.expectString(n.Field, f)
		if err != nil {
			return nil, err
		}
		return c.input.Get(field), nil

	case GetUser:
		attr, err := c.expectString(n.Attribute, f)
		if err != nil {
			return nil, err
		}
		if c.user == nil {
			return nil, &TypeError{Expected: ir.TypeObject, Received: ir.TypeNull, Stack: f.stack}
		}
		return userAttribute(c.user, attr), nil

	case DateOf:
		v, err := c.eval(n.Operand, f)
		if err != nil {
			return nil, err
		}
		switch d := v.(type) {
		case ir.Date:
			return d, nil
		case ir.String:
			t, err := ParseDate(string(d))
			if err != nil {
				return nil, typeError(ir.TypeDate, v, f)
			}
			return ir.Date(t), nil
		}
		return nil, typeError(ir.TypeDate, v, f)

	case Arg:
		for s := f.scope; s != nil; s = s.parent {
			if th, ok := s.lookup(n); ok {
				return c.eval(th.node, frame{stack: f.stack, scope: th.scope})
			}
		}
		return nil, &MissingArgumentError{Name: n.Name, Stack: f.stack}

	case Call:
		return c.evalCall(n, f)

	case Unimplemented:
		return nil, &NotImplementedError{Operation: n.Operation, Stack: f.stack}
	}

	return nil, &InvalidOperatorError{Operator: n.Label(), Stack: f.stack}
}

func (c *Context) requireSelf(f frame) (ir.Object, error) {
	if !c.hasSelf {
		return nil, &TypeError{Expected: ir.TypeObject, Received: ir.TypeNull, Stack: f.stack}
	}
	return c.self, nil
}

func (c *Context) evalBinary(n Binary, f frame) (ir.Value, error) {
	switch n.Op {
	case "and", "or":
		left, err := c.expectBool(n.Left, f)
		if err != nil {
			return nil, err
		}
		if n.Op == "and" && !left {
			return ir.Bool(false), nil
		}
		if n.Op == "or" && left {
			return ir.Bool(true), nil
		}
		right, err := c.expectBool(n.Right, f)
		if err != nil {
			return nil, err
		}
		return ir.Bool(right), nil

	case "eq":
		left, err := c.expectString(n.Left, f)
		if err != nil {
			return nil, err
		}
		right, err := c.expectString(n.Right, f)
		if err != nil {
			return nil, err
		}
		return ir.Bool(left == right), nil
	}

	a, err := c.expectNumber(n.Left, f)
	if err != nil {
		return nil, err
	}
	b, err := c.expectNumber(n.Right, f)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case ">":
		return ir.Bool(a > b), nil
	case "<":
		return ir.Bool(a < b), nil
	case "=":
		return ir.Bool(a == b), nil
	case "+":
		return ir.Number(a + b), nil
	case "-":
		return ir.Number(a - b), nil
	case "*":
		return ir.Number(a * b), nil
	case "/":
		if b == 0 {
			return nil, &EvalError{Op: n.Op, Message: "division by zero", Stack: f.stack}
		}
		return ir.Number(a / b), nil
	case "%":
		if b == 0 {
			return nil, &EvalError{Op: n.Op, Message: "modulo by zero", Stack: f.stack}
		}
		return ir.Number(math.Mod(a, b)), nil
	case "pow":
		r := math.Pow(a, b)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, &EvalError{Op: n.Op, Message: fmt.Sprintf("%v ** %v is not a finite number", a, b), Stack: f.stack}
		}
		return ir.Number(r), nil
	}
	return nil, &InvalidOperatorError{Operator: n.Op, Stack: f.stack}
}

func (c *Context) evalQuantifier(n Quantifier, f frame) (ir.Value, error) {
	// all stops at the first false; any and none stop at the first true.
	stopOn := n.Op != "all"

	test := func(b bool) (ir.Value, bool) {
		if b != stopOn {
			return nil, false
		}
		return ir.Bool(n.Op == "any"), true
	}

	if n.Source == nil {
		for _, item := range n.Items {
			b, err := c.expectBool(item, f)
			if err != nil {
				return nil, err
			}
			if v, done := test(b); done {
				return v, nil
			}
		}
	} else {
		arr, err := c.expectArray(n.Source, f)
		if err != nil {
			return nil, err
		}
		for _, e := range arr {
			b, ok := e.(ir.Bool)
			if !ok {
				return nil, typeError(ir.TypeBoolean, e, f)
			}
			if v, done := test(bool(b)); done {
				return v, nil
			}
		}
	}
	return ir.Bool(n.Op != "any"), nil
}

func (c *Context) evalCall(n Call, f frame) (ir.Value, error) {
	body, ok := c.functions[n.Name]
	if !ok {
		return nil, &InvalidOperatorError{Operator: n.Name, Stack: f.stack}
	}

	sc := &scope{parent: f.scope}
	for _, a := range n.Positional {
		sc.positional = append(sc.positional, thunk{node: a, scope: f.scope})
	}
	if len(n.Named) > 0 {
		sc.named = make(map[string]thunk, len(n.Named))
		for k, a := range n.Named {
			sc.named[k] = thunk{node: a, scope: f.scope}
		}
	}

	v, err := c.eval(body, frame{stack: f.stack, scope: sc})
	if err != nil {
		return nil, attributeToFunction(err, n.Name)
	}
	return v, nil
}

// attributeToFunction names the innermost named function an error was
// raised in. Errors already attributed keep their function.
func attributeToFunction(err error, fn string) error {
	var te *TypeError
	if errors.As(err, &te) && te.Function == "" {
		te.Function = fn
	}
	var me *MissingArgumentError
	if errors.As(err, &me) && me.Function == "" {
		me.Function = fn
	}
	return err
}

func userAttribute(u *ir.User, attr string) ir.Value {
	switch attr {
	case "uid":
		return ir.String(u.UID)
	case "email":
		return ir.String(u.Email)
	case "fullName":
		return ir.String(u.FullName)
	case "roles":
		roles := make(ir.Array, len(u.Roles))
		for i, r := range u.Roles {
			roles[i] = ir.String(r)
		}
		return roles
	}
	return ir.Null{}
}

// matchesType reports whether v conforms to a property or asType tag.
func matchesType(v ir.Value, tag string) bool {
	if elem, ok := strings.CutSuffix(tag, "[]"); ok {
		arr, isArr := v.(ir.Array)
		if !isArr {
			return false
		}
		for _, e := range arr {
			if !matchesType(e, elem) {
				return false
			}
		}
		return true
	}
	switch tag {
	case "string":
		_, ok := v.(ir.String)
		return ok
	case "number":
		_, ok := v.(ir.Number)
		return ok
	case "boolean":
		_, ok := v.(ir.Bool)
		return ok
	case "date", "datetime":
		_, ok := v.(ir.Date)
		return ok
	case "array":
		_, ok := v.(ir.Array)
		return ok
	case "object":
		_, ok := v.(ir.Object)
		return ok
	}
	return false
}

// MatchesType is matchesType for callers outside the package.
func MatchesType(v ir.Value, tag string) bool {
	return matchesType(v, tag)
}
