package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowgate/internal/ir"
)

func evalJSON(t *testing.T, src string, opts ...Option) (ir.Value, error) {
	t.Helper()
	n, err := ParseJSON([]byte(src))
	require.NoError(t, err, "parse %s", src)
	return Eval(n, NewContext(opts...))
}

func mustEval(t *testing.T, src string, opts ...Option) ir.Value {
	t.Helper()
	v, err := evalJSON(t, src, opts...)
	require.NoError(t, err, "eval %s", src)
	return v
}

func fns(t *testing.T, defs map[string]string) Option {
	t.Helper()
	out := make(map[string]Node, len(defs))
	for name, src := range defs {
		n, err := ParseJSON([]byte(src))
		require.NoError(t, err)
		out[name] = n
	}
	return WithFunctions(out)
}

func TestEvalLiterals(t *testing.T) {
	assert.Equal(t, ir.Number(1), mustEval(t, `1`))
	assert.Equal(t, ir.Number(0), mustEval(t, `0`))
	assert.Equal(t, ir.Bool(true), mustEval(t, `true`))
	assert.Equal(t, ir.String("zing"), mustEval(t, `"zing"`))
	assert.Equal(t, ir.Array{ir.Number(1), ir.Number(2), ir.Number(3)}, mustEval(t, `[1,2,3]`))
	assert.Equal(t, ir.Null{}, mustEval(t, `null`))

	d := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	v, err := Eval(Literal{Value: ir.Date(d)}, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Date(d), v)
}

func TestEvalOperators(t *testing.T) {
	tests := []struct {
		src  string
		want ir.Value
	}{
		{`{"+": [1, 2]}`, ir.Number(3)},
		{`{"-": [1, 2]}`, ir.Number(-1)},
		{`{"*": [4, 2]}`, ir.Number(8)},
		{`{"/": [4, 2]}`, ir.Number(2)},
		{`{"%": [9, 4]}`, ir.Number(1)},
		{`{"pow": [2, 3]}`, ir.Number(8)},
		{`{"=": [2, 3]}`, ir.Bool(false)},
		{`{"=": [2, 2]}`, ir.Bool(true)},
		{`{"<": [2, 2]}`, ir.Bool(false)},
		{`{"<": [2, 200]}`, ir.Bool(true)},
		{`{">": [0, -200]}`, ir.Bool(true)},
		{`{"+": [{"*": [2, 10]}, {"pow": [2, 3]}]}`, ir.Number(28)},
		{`{"if": {"=": [6, 2]}, "then": 10, "else": 20}`, ir.Number(20)},
		{`{"eq": ["foo", "bar"]}`, ir.Bool(false)},
		{`{"eq": ["bling", "bling"]}`, ir.Bool(true)},
		{`{"or": [false, false]}`, ir.Bool(false)},
		{`{"or": [false, true]}`, ir.Bool(true)},
		{`{"and": [true, false]}`, ir.Bool(false)},
		{`{"and": [true, true]}`, ir.Bool(true)},
		{`{"not": false}`, ir.Bool(true)},
		{`{"or": [{"not": true}, {"and": [true, true]}]}`, ir.Bool(true)},
		{`{"all": [true, true, true]}`, ir.Bool(true)},
		{`{"all": [true, false]}`, ir.Bool(false)},
		{`{"any": [false, true]}`, ir.Bool(true)},
		{`{"any": []}`, ir.Bool(false)},
		{`{"none": [false, false]}`, ir.Bool(true)},
		{`{"none": [false, true]}`, ir.Bool(false)},
		{`{"sum": [1, 2, 3.5]}`, ir.Number(6.5)},
		{`{"stringLength": "héllo"}`, ir.Number(5)},
		{`{"joinStrings": ["a", "b"]}`, ir.String("ab")},
		{`{"joinStrings": {"strings": ["a", "b", "c"], "separator": "-"}}`, ir.String("a-b-c")},
		{`{"contains": {"needle": "fin", "haystack": ["fan", "fin", "foo"]}}`, ir.Bool(true)},
		{`{"contains": {"needle": "fun", "haystack": ["fan", "fin", "foo"]}}`, ir.Bool(false)},
		{`{"if": true, "then": {"if": false, "then": "Win", "else": "Lose"}, "else": "No"}`, ir.String("Lose")},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEval(t, tt.src))
		})
	}
}

func TestEvalTypeErrors(t *testing.T) {
	tests := []string{
		`{"+": [5, "a"]}`,
		`{"+": [5, {"*": [1, {"+": [true, 1]}]}]}`,
		`{"+": [{"if": false, "then": 4, "else": false}, 1]}`,
		`{"if": 1, "then": 2, "else": 3}`,
		`{"not": 1}`,
		`{"or": [false, 1]}`,
		`{"eq": [1, ""]}`,
		`{"contains": {"needle": 6, "haystack": ["1", "2", "3"]}}`,
		`{"contains": {"needle": 6, "haystack": 7}}`,
		`{"sum": [1, "2"]}`,
		`{"joinStrings": ["a", 1]}`,
		`{"all": [true, 1]}`,
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := evalJSON(t, src)
			require.Error(t, err)
			assert.True(t, IsTypeError(err), "got %v", err)
		})
	}
}

func TestEvalTypeErrorCarriesStack(t *testing.T) {
	_, err := evalJSON(t, `{"+": [5, {"*": [1, {"+": [true, 1]}]}]}`)
	require.Error(t, err)

	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ir.TypeNumber, te.Expected)
	assert.Equal(t, ir.TypeBoolean, te.Received)
	assert.Equal(t, Stack{"+", "*", "+", "true"}, te.Stack)
	assert.Contains(t, err.Error(), "expression stack: + > * > + > true")
}

func TestEvalShortCircuit(t *testing.T) {
	// The right operands would fail with a type error if evaluated.
	assert.Equal(t, ir.Bool(true), mustEval(t, `{"or": [true, 1]}`))
	assert.Equal(t, ir.Bool(false), mustEval(t, `{"and": [false, 1]}`))
	assert.Equal(t, ir.Bool(false), mustEval(t, `{"all": [false, 1]}`))
	assert.Equal(t, ir.Bool(true), mustEval(t, `{"any": [true, {"get": "x"}]}`))
}

func TestEvalArithmeticErrors(t *testing.T) {
	for _, src := range []string{`{"/": [1, 0]}`, `{"%": [1, 0]}`, `{"pow": [-1, 0.5]}`} {
		_, err := evalJSON(t, src)
		var ee *EvalError
		assert.ErrorAs(t, err, &ee, src)
	}
}

func TestEvalGet(t *testing.T) {
	self := WithSelf(ir.Object{"species": ir.String("horse"), "speed": ir.Number(100)})

	assert.Equal(t, ir.String("horse"), mustEval(t, `{"get": {"property": "species"}}`, self))
	assert.Equal(t, ir.String("horse"), mustEval(t, `{"get": "species"}`, self))
	assert.Equal(t, ir.Null{}, mustEval(t, `{"get": "color"}`, self))

	dynamic := `{"get": {"property": {"if": {"eq": ["horse", {"get": "species"}]}, "then": "speed", "else": "weight"}, "asType": "string"}}`
	assert.Equal(t, ir.Number(100), mustEval(t, dynamic, self))
	hare := WithSelf(ir.Object{"species": ir.String("hare"), "weight": ir.Number(5)})
	assert.Equal(t, ir.Number(5), mustEval(t, dynamic, hare))
}

func TestEvalGetWithoutSelf(t *testing.T) {
	_, err := evalJSON(t, `{"get": "species"}`)
	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ir.TypeObject, te.Expected)
	assert.Equal(t, ir.TypeNull, te.Received)
}

func TestEvalContainsFromContext(t *testing.T) {
	self := WithSelf(ir.Object{
		"haystack": ir.Array{ir.String("fan"), ir.String("fin"), ir.String("foo")},
		"needle":   ir.String("fin"),
	})
	assert.Equal(t, ir.Bool(true), mustEval(t, `{"contains": {"needle": "fin", "haystack": {"get": "haystack"}}}`, self))
	assert.Equal(t, ir.Bool(true), mustEval(t, `{"contains": {"needle": {"get": "needle"}, "haystack": ["fan", "fin"]}}`, self))
}

func TestEvalExists(t *testing.T) {
	self := WithSelf(ir.Object{"title": ir.String("x"), "text": ir.Null{}})

	assert.Equal(t, ir.Bool(true), mustEval(t, `{"exists": {"property": "title"}}`, self))
	assert.Equal(t, ir.Bool(false), mustEval(t, `{"exists": {"property": "text"}}`, self))
	assert.Equal(t, ir.Bool(false), mustEval(t, `{"exists": "missing"}`, self))
	assert.Equal(t, ir.Bool(true), mustEval(t, `{"doesNotExist": "missing"}`, self))
}

func TestEvalInputAndUser(t *testing.T) {
	input := WithInput(ir.Object{"voteCount": ir.Number(10)})
	assert.Equal(t, ir.Number(10), mustEval(t, `{"getInput": "voteCount"}`, input))
	assert.Equal(t, ir.Null{}, mustEval(t, `{"getInput": "other"}`, input))
	assert.Equal(t, ir.Null{}, mustEval(t, `{"getInput": "voteCount"}`))

	user := WithUser(&ir.User{UID: "u1", Email: "a@example.com", Roles: []string{"admin"}})
	assert.Equal(t, ir.String("a@example.com"), mustEval(t, `{"getUser": "email"}`, user))
	assert.Equal(t, ir.Bool(true), mustEval(t, `{"contains": {"haystack": {"getUser": "roles"}, "needle": "admin"}}`, user))

	_, err := evalJSON(t, `{"getUser": "uid"}`)
	assert.True(t, IsTypeError(err))
}

func TestEvalDate(t *testing.T) {
	v := mustEval(t, `{"date": "2024-02-03T04:05:06Z"}`)
	assert.Equal(t, ir.Date(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)), v)

	_, err := evalJSON(t, `{"date": "yesterday"}`)
	assert.True(t, IsTypeError(err))
}

func TestEvalNotImplemented(t *testing.T) {
	self := WithSelf(ir.Object{})
	for _, src := range []string{
		`{"ref": "owner"}`,
		`{"mostRecent": "Approval"}`,
		`{"getAll": {"property": "x", "from": "y", "asType": "string[]"}}`,
		`{"canTransition": "approve"}`,
		`{"get": {"property": "x", "from": {"ref": "owner"}}}`,
		`{"exists": {"property": "x", "from": "input"}}`,
		`{"inState": {"resource": {"ref": "owner"}, "states": ["a"]}}`,
	} {
		_, err := evalJSON(t, src, self)
		assert.True(t, IsNotImplemented(err), "%s: %v", src, err)
	}
}

func TestEvalInvalidOperator(t *testing.T) {
	_, err := evalJSON(t, `{"bogus": [1, 2]}`)
	require.Error(t, err)
	assert.True(t, IsInvalidOperator(err))
}

func TestNamedFunctions(t *testing.T) {
	add := fns(t, map[string]string{
		"PI":       `3.14159`,
		"three":    `{"+": [1, 2]}`,
		"addPos":   `{"+": [{"$": 0}, {"$": 1}]}`,
		"add":      `{"+": [{"$": "A"}, {"$": "B"}]}`,
		"subtract": `{"-": [{"$": "A"}, {"$": "B"}]}`,
	})

	assert.Equal(t, ir.Number(3.14159), mustEval(t, `{"PI": {}}`, add))
	assert.Equal(t, ir.Number(3), mustEval(t, `{"three": {}}`, add))
	assert.Equal(t, ir.Number(5), mustEval(t, `{"addPos": [2, 3]}`, add))
	assert.Equal(t, ir.Number(5), mustEval(t, `{"add": {"A": 2, "B": 3}}`, add))

	// Nested calls with overlapping argument names.
	assert.Equal(t, ir.Number(5), mustEval(t, `{"add": {"A": {"subtract": {"A": 10, "B": 8}}, "B": 3}}`, add))
}

func TestNamedFunctionArgumentsUseCallerScope(t *testing.T) {
	opts := fns(t, map[string]string{
		"double": `{"*": [{"$": "A"}, 2]}`,
		"quad":   `{"double": {"A": {"double": {"A": {"$": "A"}}}}}`,
	})
	assert.Equal(t, ir.Number(12), mustEval(t, `{"quad": {"A": 3}}`, opts))
}

func TestNamedFunctionErrors(t *testing.T) {
	add := fns(t, map[string]string{
		"add": `{"+": [{"$": "A"}, {"$": "B"}]}`,
	})

	_, err := evalJSON(t, `{"add": {"A": 2}}`, add)
	var me *MissingArgumentError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "B", me.Name)
	assert.Equal(t, "add", me.Function)
	assert.Contains(t, err.Error(), `Function "add" is missing argument "B"`)

	_, err = evalJSON(t, `{"add": {"A": 2, "B": "4"}}`, add)
	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "add", te.Function)
	assert.Contains(t, err.Error(), `expected "number" but received "string" in function "add"`)
}

func TestMissingArgumentOutsideFunction(t *testing.T) {
	_, err := evalJSON(t, `{"$": "x"}`)
	require.True(t, IsMissingArgument(err))
	assert.Contains(t, err.Error(), `"x" is not defined`)
}

func TestRunawayRecursion(t *testing.T) {
	loop := fns(t, map[string]string{"loop": `{"loop": {}}`})
	_, err := evalJSON(t, `{"loop": {}}`, loop)
	var ee *EvalError
	assert.ErrorAs(t, err, &ee)
}

func TestStdlibInState(t *testing.T) {
	self := WithSelf(ir.Object{"state": ir.String("reviewing")})
	assert.Equal(t, ir.Bool(true), mustEval(t, `{"inState": {"states": ["reviewing", "published"]}}`, self))
	assert.Equal(t, ir.Bool(false), mustEval(t, `{"inState": {"states": ["authoring"]}}`, self))
	assert.Contains(t, Stdlib(), "inState")
}

func TestContextIsNotMutated(t *testing.T) {
	base := NewContext(WithSelf(ir.Object{"a": ir.Number(1)}))
	derived := base.With(WithInput(ir.Object{"x": ir.Number(2)}), fns(t, map[string]string{"one": `1`}))

	assert.Nil(t, base.Input())
	_, hasOne := base.Function("one")
	assert.False(t, hasOne)

	_, hasOne = derived.Function("one")
	assert.True(t, hasOne)
	_, hasStd := derived.Function("inState")
	assert.True(t, hasStd)
}

func TestEvalHelpers(t *testing.T) {
	b, err := EvalBool(MustParseJSON(`{"not": false}`), nil)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = EvalBool(MustParseJSON(`1`), nil)
	assert.True(t, IsTypeError(err))

	s, err := EvalString(MustParseJSON(`"x"`), nil)
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	n, err := EvalNumber(MustParseJSON(`{"+": [1, 1]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, n)

	arr, err := EvalArray(MustParseJSON(`["a"]`), nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Array{ir.String("a")}, arr)
}

func TestMatchesType(t *testing.T) {
	assert.True(t, MatchesType(ir.String("x"), "string"))
	assert.True(t, MatchesType(ir.Array{ir.Number(1)}, "number[]"))
	assert.False(t, MatchesType(ir.Array{ir.String("1")}, "number[]"))
	assert.True(t, MatchesType(ir.Date(time.Now()), "datetime"))
	assert.False(t, MatchesType(ir.Number(1), "boolean"))
}
