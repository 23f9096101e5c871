package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesDefinition(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/document_review.yaml")
	require.NoError(t, err)

	assert.Equal(t, "document_review", s.Name)
	assert.Equal(t, filepath.FromSlash("../compiler/testdata/document.jsonc"), s.Definition)
	_, err = os.Stat(s.Definition)
	assert.NoError(t, err, "definition path should resolve against the scenario file")

	assert.Equal(t, []string{"author"}, s.Users["alice"].Roles)
	require.Len(t, s.Resources, 1)
	assert.Equal(t, "doc", s.Resources[0].Alias)
	assert.Equal(t, map[string]any{"title": "Plan", "text": "Draft"}, s.Resources[0].Data)

	require.Len(t, s.Steps, 7)
	assert.Equal(t, OpPerform, s.Steps[0].Op())
	assert.Equal(t, OpGet, s.Steps[1].Op())
	assert.Equal(t, OpDescribe, s.Steps[3].Op())
	assert.Equal(t, OpHistory, s.Steps[6].Op())
	assert.Equal(t, "doc", s.Steps[6].Resource())
	require.NotNil(t, s.Steps[6].Expect.Events)
	assert.Equal(t, 1, *s.Steps[6].Expect.Events)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/absent.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
definition: d.json
users: {a: {roles: [r]}}
resources: [{alias: x, type: T}]
step:
  - as: a
    get: x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "missing basics",
			src:  "description: nothing here\n",
			want: []string{"name is required", "definition is required", "steps list is required"},
		},
		{
			name: "user without roles",
			src: `
name: s
definition: d.json
users: {nobody: {roles: []}}
resources: [{alias: x, type: T}]
steps: [{as: nobody, get: x}]
`,
			want: []string{`user "nobody": at least one role is required`},
		},
		{
			name: "bad references",
			src: `
name: s
definition: d.json
users: {a: {roles: [r]}}
resources: [{alias: x, type: T, as: ghost}, {alias: x}]
steps:
  - {as: b, get: x}
  - {as: a, get: y}
  - {as: a, perform: {resource: x}}
assertions:
  - {type: final_state, resource: z}
  - {type: trace_order}
  - {type: eventually}
`,
			want: []string{
				`resources[0]: unknown user "ghost"`,
				`resources[1]: duplicate alias "x"`,
				"resources[1]: type is required",
				`steps[0]: unknown user "b"`,
				`steps[1]: unknown resource "y"`,
				"steps[2]: perform.action is required",
				`assertions[0]: unknown resource "z"`,
				"assertions[1]: actions is required",
				`assertions[2]: unknown type "eventually"`,
			},
		},
		{
			name: "two operations in one step",
			src: `
name: s
definition: d.json
users: {a: {roles: [r]}}
resources: [{alias: x, type: T}]
steps: [{as: a, get: x, describe: x}]
`,
			want: []string{"steps[0]: exactly one of perform, update, get, describe or history is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}
