package condition

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

func mustParse(t *testing.T, src string) schema.ConditionDefinition {
	t.Helper()
	var raw any
	require.NoError(t, json.Unmarshal([]byte(src), &raw))
	rules, err := Parse(raw, "conditions")
	require.NoError(t, err)
	return rules
}

func eval(t *testing.T, src string) Result {
	t.Helper()
	res, err := Evaluate(mustParse(t, src), nil)
	require.NoError(t, err)
	return res
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		want   Decision
		reason string
	}{
		{"empty list allows", `[]`, Allow, ""},
		{"allow", `["allow"]`, Allow, ReasonExplicitAllow},
		{"deny", `["deny"]`, Deny, ReasonExplicitDeny},
		{"deny then allow", `["deny", "allow"]`, Deny, ReasonExplicitDeny},
		{"allow then deny", `["allow", "deny"]`, Allow, ReasonExplicitAllow},
		{"denyWithMessage", `[{"denyWithMessage": "Denied"}]`, Deny, "Denied"},
		{"denyIf true", `[{"denyIf": true, "denyMessage": "Denied"}]`, Deny, "Denied"},
		{"allowIf false then denyIf true", `[{"allowIf": false, "denyMessage": "hmm"}, {"denyIf": true, "denyMessage": "Denied"}]`, Deny, "Denied"},
		{"final allowIf false", `[{"allowIf": false, "denyMessage": "Denied"}]`, Deny, "Denied"},
		{"two allowIf false", `[{"allowIf": false, "denyMessage": "Ruh row"}, {"allowIf": false, "denyMessage": "Denied"}]`, Deny, "Denied"},
		{"final denyIf false", `[{"denyIf": false}]`, Allow, ReasonDenyIfFallback},
		{"allowIf false then denyIf false", `[{"allowIf": false}, {"denyIf": false}]`, Allow, ReasonDenyIfFallback},
		{"denyIf false then allowIf false", `[{"denyIf": false}, {"denyIf": false}, {"allowIf": false}]`, Deny, ""},
		{"allowIf true", `[{"allowIf": true}]`, Allow, ""},
		{"allowIf expression", `[{"allowIf": {"<": [1, 2]}, "denyMessage": "no"}]`, Allow, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := eval(t, tt.src)
			assert.Equal(t, tt.want, res.Decision)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestEvaluateSeesContext(t *testing.T) {
	rules := mustParse(t, `[{"allowIf": {"exists": "title"}, "denyMessage": "Document must have a title."}]`)

	res, err := Evaluate(rules, expr.NewContext(expr.WithSelf(ir.Object{"title": ir.String("Draft")})))
	require.NoError(t, err)
	assert.True(t, res.Allowed())

	res, err = Evaluate(rules, expr.NewContext(expr.WithSelf(ir.Object{})))
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Equal(t, "Document must have a title.", res.Reason)
}

func TestEvaluateNonBoolean(t *testing.T) {
	for _, src := range []string{`[{"allowIf": 1}]`, `[{"allowIf": "asdf"}]`, `[{"denyIf": {"+": [1, 2]}}]`} {
		_, err := Evaluate(mustParse(t, src), nil)
		require.Error(t, err, src)
		assert.True(t, IsTypeError(err), src)
	}
}

func TestEvaluatePropagatesExpressionErrors(t *testing.T) {
	_, err := Evaluate(mustParse(t, `[{"allowIf": {"get": "x"}}]`), nil)
	require.Error(t, err)
	assert.True(t, expr.IsTypeError(err))
	assert.False(t, IsTypeError(err))
}

func TestEvaluateValidatesBeforeEvaluating(t *testing.T) {
	// The malformed rule comes after a terminating one.
	rules := schema.ConditionDefinition{
		schema.Allow(),
		{Kind: schema.RuleAllowIf},
	}
	_, err := Evaluate(rules, nil)
	require.Error(t, err)
	assert.True(t, IsInvalidCondition(err))

	var ic *InvalidConditionError
	require.ErrorAs(t, err, &ic)
	assert.Equal(t, 1, ic.Index)
}

func TestParseRejectsMalformedRules(t *testing.T) {
	tests := []string{
		`["bad"]`,
		`[{"allowIf": true}, {"a": "b"}]`,
		`["allow", {"a": "b"}]`,
		`[{"denyWithMessage": "bad"}, {"a": "b"}]`,
		`[{"allowIf": true, "denyIf": false}]`,
		`[{"allowIf": true, "denyMessage": ""}]`,
		`[{"denyWithMessage": 5}]`,
		`[1]`,
		`"allow"`,
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			var raw any
			require.NoError(t, json.Unmarshal([]byte(src), &raw))
			_, err := Parse(raw, "conditions")
			require.Error(t, err)
			assert.True(t, IsInvalidCondition(err))
		})
	}
}

func TestParseReportsExpressionPath(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`["deny", {"allowIf": {}}]`), &raw))
	_, err := Parse(raw, "actions.publish.conditions")
	var se *expr.SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "actions.publish.conditions[1].allowIf", se.Path)
}

func TestParseNil(t *testing.T) {
	rules, err := Parse(nil, "")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func boolRule(allowIf, value bool) schema.ConditionRule {
	e := expr.Literal{Value: ir.Bool(value)}
	if allowIf {
		return schema.AllowIf(e, "denied by allowIf")
	}
	return schema.DenyIf(e, "denied by denyIf")
}

func TestFallbackProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("all-false lists decide against the final polarity", prop.ForAll(
		func(kinds []bool) bool {
			if len(kinds) == 0 {
				return true
			}
			rules := make(schema.ConditionDefinition, len(kinds))
			for i, allowIf := range kinds {
				rules[i] = boolRule(allowIf, false)
			}
			res, err := Evaluate(rules, nil)
			if err != nil {
				return false
			}
			if kinds[len(kinds)-1] {
				return res.Decision == Deny && res.Reason == "denied by allowIf"
			}
			return res.Decision == Allow
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("first true rule decides", prop.ForAll(
		func(prefix []bool, allowIf bool) bool {
			rules := make(schema.ConditionDefinition, 0, len(prefix)+2)
			for _, k := range prefix {
				rules = append(rules, boolRule(k, false))
			}
			rules = append(rules, boolRule(allowIf, true), schema.Deny())
			res, err := Evaluate(rules, nil)
			if err != nil {
				return false
			}
			return res.Allowed() == allowIf
		},
		gen.SliceOf(gen.Bool()), gen.Bool(),
	))

	properties.TestingRun(t)
}
