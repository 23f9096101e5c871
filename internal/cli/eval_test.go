package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"arithmetic", []string{`{"+": [1, 2]}`}, "3\n"},
		{"self", []string{`{"stringLength": {"get": "title"}}`, "--self", `{"title": "Plan"}`}, "4\n"},
		{"input", []string{`{"getInput": "voteCount"}`, "--input", `{"voteCount": 7}`}, "7\n"},
		{"user", []string{`{"getUser": "uid"}`, "--as", "ada:admin"}, "\"ada\"\n"},
		{
			"user roles",
			[]string{`{"contains": {"haystack": {"getUser": "roles"}, "needle": "admin"}}`, "--as", "ada:admin,voter"},
			"true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, append([]string{"eval"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestEvalCommand_JSON(t *testing.T) {
	out, _, err := execute(t, "eval", `{"*": [6, 7]}`, "--format", "json")
	require.NoError(t, err)

	var data struct {
		Value float64 `json:"value"`
	}
	resp := jsonResponse(t, out, &data)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 42.0, data.Value)
}

func TestEvalCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"malformed expression", []string{`{"+": [1,`}, ExitCommandError, "Error [E006]: parsing expression"},
		{"malformed self", []string{`1`, "--self", "nope"}, ExitCommandError, "Error [E006]: --self must be a JSON object"},
		{"no user", []string{`{"getUser": "uid"}`}, ExitFailure, "Error [E008]: evaluation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, append([]string{"eval"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			assert.Contains(t, out, tt.wantOut)
		})
	}
}
