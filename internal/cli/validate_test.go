package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const badDefinition = `{
  "name": "Bad",
  "roles": ["user"],
  "resources": {
    "Lamp": {
      "states": ["off", "on"],
      "defaultState": "dim",
      "properties": {}
    }
  }
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommand_Valid(t *testing.T) {
	out, _, err := execute(t, "validate", testdata("switch.json"))
	require.NoError(t, err)
	assert.Equal(t, "✓ Switch system is valid (1 resource types)\n", out)
}

func TestValidateCommand_VerboseHash(t *testing.T) {
	out, stderr, err := execute(t, "validate", testdata("switch.json"), "-v")
	require.NoError(t, err)
	assert.Equal(t, "✓ Switch system is valid (1 resource types)\n", out)
	assert.Contains(t, stderr, "Definition hash: ")
}

func TestValidateCommand_UsesConfiguredDefinition(t *testing.T) {
	out, _, err := execute(t, "validate", "-d", testdata("poll.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Poll system is valid")
}

func TestValidateCommand_AllFormats(t *testing.T) {
	for _, name := range []string{"switch.json", "switch.cue", "document.jsonc", "poll.yaml"} {
		t.Run(name, func(t *testing.T) {
			out, _, err := execute(t, "validate", testdata(name), "--format", "json")
			require.NoError(t, err)

			var result ValidationResult
			resp := jsonResponse(t, out, &result)
			assert.Equal(t, "ok", resp.Status)
			assert.True(t, result.Valid)
			assert.Empty(t, result.Errors)
			assert.NotEmpty(t, result.Hash)
		})
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeFile(t, "bad.json", badDefinition)

	out, _, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed\n")
	assert.Contains(t, out, "defaultState")
}

func TestValidateCommand_InvalidJSON(t *testing.T) {
	path := writeFile(t, "bad.json", badDefinition)

	out, _, err := execute(t, "validate", path, "--format", "json")
	require.Error(t, err)

	var result ValidationResult
	resp := jsonResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDefinition, resp.Error.Code)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateCommand_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"validate", filepath.Join(t.TempDir(), "missing.json")}},
		{"unknown extension", []string{"validate", writeFile(t, "def.txt", "{}")}},
		{"no definition", []string{"validate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E003]")
		})
	}
}
