package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/flowgate/internal/ir"
)

// Operator names recognised by the parser. Any other single key is a call to
// a named function.
var builtins = map[string]bool{
	"and": true, "or": true, "not": true,
	"all": true, "any": true, "none": true,
	">": true, "<": true, "=": true,
	"+": true, "-": true, "*": true, "/": true, "%": true, "pow": true,
	"eq": true, "sum": true, "stringLength": true, "joinStrings": true,
	"contains": true, "get": true, "exists": true, "doesNotExist": true,
	"getInput": true, "getUser": true, "date": true, "$": true,
	"if": true, "then": true, "else": true,
	"ref": true, "mostRecent": true, "getAll": true, "canTransition": true,
}

// IsBuiltin reports whether name is a built-in operator. Named functions may
// not use these names.
func IsBuiltin(name string) bool {
	return builtins[name]
}

var binaryOps = map[string]bool{
	"and": true, "or": true,
	">": true, "<": true, "=": true,
	"+": true, "-": true, "*": true, "/": true, "%": true, "pow": true,
	"eq": true,
}

var asTypes = map[string]bool{
	"string": true, "number": true, "boolean": true, "date": true, "datetime": true,
	"string[]": true, "number[]": true, "boolean[]": true, "datetime[]": true,
	"array": true, "object": true,
}

// Parse converts a decoded JSON tree (maps, slices and scalars as produced by
// encoding/json or yaml.v3) into a Node.
func Parse(raw any) (Node, error) {
	return parseAt(raw, "")
}

// ParseAt is Parse with a path prefix used in SyntaxError messages.
func ParseAt(raw any, path string) (Node, error) {
	return parseAt(raw, path)
}

// ParseJSON decodes and parses an expression from JSON text.
func ParseJSON(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &SyntaxError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return Parse(raw)
}

// MustParseJSON is ParseJSON for literals in tests and built-in tables. It
// panics on error.
func MustParseJSON(s string) Node {
	n, err := ParseJSON([]byte(s))
	if err != nil {
		panic(err)
	}
	return n
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func parseAt(raw any, path string) (Node, error) {
	switch v := raw.(type) {
	case []any:
		elems := make([]Node, len(v))
		for i, e := range v {
			n, err := parseAt(e, index(path, i))
			if err != nil {
				return nil, err
			}
			elems[i] = n
		}
		return List{Elems: elems}, nil
	case map[string]any:
		return parseObject(v, path)
	case ir.Object:
		return parseAt(ir.ToAny(v), path)
	case ir.Array:
		return parseAt(ir.ToAny(v), path)
	case ir.Value:
		return Literal{Value: v}, nil
	default:
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, &SyntaxError{Path: path, Message: err.Error()}
		}
		return Literal{Value: val}, nil
	}
}

func parseObject(m map[string]any, path string) (Node, error) {
	if len(m) == 0 {
		return nil, &SyntaxError{Path: path, Message: "no operator specified"}
	}

	if len(m) == 3 {
		c, hasIf := m["if"]
		t, hasThen := m["then"]
		e, hasElse := m["else"]
		if hasIf && hasThen && hasElse {
			cond, err := parseAt(c, join(path, "if"))
			if err != nil {
				return nil, err
			}
			then, err := parseAt(t, join(path, "then"))
			if err != nil {
				return nil, err
			}
			els, err := parseAt(e, join(path, "else"))
			if err != nil {
				return nil, err
			}
			return If{Cond: cond, Then: then, Else: els}, nil
		}
	}

	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return nil, &SyntaxError{Path: path, Message: fmt.Sprintf("more than one operator found %v", keys)}
	}

	var op string
	var arg any
	for k, v := range m {
		op, arg = k, v
	}
	at := join(path, op)

	if binaryOps[op] {
		return parseBinary(op, arg, at)
	}

	switch op {
	case "not":
		operand, err := parseAt(arg, at)
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil

	case "all", "any", "none":
		if items, ok := arg.([]any); ok {
			nodes, err := parseList(items, at)
			if err != nil {
				return nil, err
			}
			return Quantifier{Op: op, Items: nodes}, nil
		}
		src, err := parseAt(arg, at)
		if err != nil {
			return nil, err
		}
		return Quantifier{Op: op, Source: src}, nil

	case "sum":
		src, err := parseAt(arg, at)
		if err != nil {
			return nil, err
		}
		return Sum{Source: src}, nil

	case "stringLength":
		operand, err := parseAt(arg, at)
		if err != nil {
			return nil, err
		}
		return StringLength{Operand: operand}, nil

	case "joinStrings":
		return parseJoinStrings(arg, at)

	case "contains":
		fields, err := objectArgs(arg, at, []string{"haystack", "needle"}, nil)
		if err != nil {
			return nil, err
		}
		return Contains{Haystack: fields["haystack"], Needle: fields["needle"]}, nil

	case "get":
		return parseGet(arg, at)

	case "exists", "doesNotExist":
		prop, from, err := parsePropertyRef(arg, at)
		if err != nil {
			return nil, err
		}
		return Exists{Property: prop, From: from, Negate: op == "doesNotExist"}, nil

	case "getInput":
		field, err := parseAt(arg, at)
		if err != nil {
			return nil, err
		}
		return GetInput{Field: field}, nil

	case "getUser":
		attr, err := parseAt(arg, at)
		if err != nil {
			return nil, err
		}
		return GetUser{Attribute: attr}, nil

	case "date":
		operand, err := parseAt(arg, at)
		if err != nil {
			return nil, err
		}
		return DateOf{Operand: operand}, nil

	case "$":
		return parseArg(arg, at)

	case "ref", "mostRecent", "getAll", "canTransition":
		return Unimplemented{Operation: op}, nil

	case "if", "then", "else":
		return nil, &SyntaxError{Path: path, Message: "if/then/else requires exactly the keys if, then and else"}
	}

	return parseCall(op, arg, at)
}

func parseList(items []any, path string) ([]Node, error) {
	nodes := make([]Node, len(items))
	for i, item := range items {
		n, err := parseAt(item, index(path, i))
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func parseBinary(op string, arg any, path string) (Node, error) {
	items, ok := arg.([]any)
	if !ok || len(items) != 2 {
		return nil, &SyntaxError{Path: path, Message: fmt.Sprintf("operator %q expects an array of 2 arguments", op)}
	}
	nodes, err := parseList(items, path)
	if err != nil {
		return nil, err
	}
	return Binary{Op: op, Left: nodes[0], Right: nodes[1]}, nil
}

// objectArgs parses the keyed arguments of an operator's object form.
func objectArgs(arg any, path string, required, optional []string) (map[string]Node, error) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, &SyntaxError{Path: path, Message: fmt.Sprintf("expected an object with keys %v", append(slices.Clone(required), optional...))}
	}
	out := make(map[string]Node, len(m))
	for k, v := range m {
		if !slices.Contains(required, k) && !slices.Contains(optional, k) {
			return nil, &SyntaxError{Path: path, Message: fmt.Sprintf("unexpected key %q", k)}
		}
		n, err := parseAt(v, join(path, k))
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	for _, k := range required {
		if _, ok := out[k]; !ok {
			return nil, &SyntaxError{Path: path, Message: fmt.Sprintf("missing required key %q", k)}
		}
	}
	return out, nil
}

func parseJoinStrings(arg any, path string) (Node, error) {
	if m, ok := arg.(map[string]any); ok {
		if _, isForm := m["strings"]; isForm {
			fields, err := objectArgs(m, path, []string{"strings"}, []string{"separator"})
			if err != nil {
				return nil, err
			}
			return JoinStrings{Strings: fields["strings"], Separator: fields["separator"]}, nil
		}
	}
	strs, err := parseAt(arg, path)
	if err != nil {
		return nil, err
	}
	return JoinStrings{Strings: strs}, nil
}

func parseGet(arg any, path string) (Node, error) {
	if s, ok := arg.(string); ok {
		return Get{Property: Literal{Value: ir.String(s)}}, nil
	}
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, &SyntaxError{Path: path, Message: "get expects a property name or {property, from, asType}"}
	}
	asType := ""
	if raw, ok := m["asType"]; ok {
		s, isString := raw.(string)
		if !isString || !asTypes[s] {
			return nil, &SyntaxError{Path: path, Message: fmt.Sprintf("invalid asType %v", raw)}
		}
		asType = s
		m = withoutKey(m, "asType")
	}
	fields, err := objectArgs(m, path, []string{"property"}, []string{"from"})
	if err != nil {
		return nil, err
	}
	return Get{Property: fields["property"], From: fields["from"], AsType: asType}, nil
}

func parsePropertyRef(arg any, path string) (Node, Node, error) {
	if s, ok := arg.(string); ok {
		return Literal{Value: ir.String(s)}, nil, nil
	}
	fields, err := objectArgs(arg, path, []string{"property"}, []string{"from"})
	if err != nil {
		return nil, nil, err
	}
	return fields["property"], fields["from"], nil
}

func parseArg(arg any, path string) (Node, error) {
	switch v := arg.(type) {
	case string:
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return Arg{Name: v, Index: i, Positional: true}, nil
		}
		if v == "" {
			return nil, &SyntaxError{Path: path, Message: "argument name must not be empty"}
		}
		return Arg{Name: v}, nil
	default:
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, &SyntaxError{Path: path, Message: err.Error()}
		}
		num, ok := val.(ir.Number)
		if !ok {
			return nil, &SyntaxError{Path: path, Message: "argument reference must be a name or an index"}
		}
		f := float64(num)
		if f < 0 || f != math.Trunc(f) {
			return nil, &SyntaxError{Path: path, Message: fmt.Sprintf("invalid argument index %v", f)}
		}
		i := int(f)
		return Arg{Name: strconv.Itoa(i), Index: i, Positional: true}, nil
	}
}

func parseCall(name string, arg any, path string) (Node, error) {
	call := Call{Name: name}
	switch v := arg.(type) {
	case nil:
	case []any:
		nodes, err := parseList(v, path)
		if err != nil {
			return nil, err
		}
		call.Positional = nodes
	case map[string]any:
		if name == "inState" {
			if _, ok := v["resource"]; ok {
				return Unimplemented{Operation: "inState resource"}, nil
			}
		}
		call.Named = make(map[string]Node, len(v))
		for k, a := range v {
			n, err := parseAt(a, join(path, k))
			if err != nil {
				return nil, err
			}
			call.Named[k] = n
		}
	default:
		n, err := parseAt(v, path)
		if err != nil {
			return nil, err
		}
		call.Positional = []Node{n}
	}
	return call, nil
}

func withoutKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// dateLayouts are the string forms accepted by the date operator and by
// datetime properties.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// ParseDate parses the string forms accepted for dates.
func ParseDate(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
