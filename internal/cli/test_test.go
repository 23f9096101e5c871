package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

// switchScenario renders a scenario against the switch definition whose
// single step expects the given state after turnOn.
func switchScenario(t *testing.T, name, state string) string {
	t.Helper()
	def, err := filepath.Abs(testdata("switch.json"))
	require.NoError(t, err)
	return fmt.Sprintf(`name: %s
definition: %s
users:
  ada: {roles: [admin]}
resources:
  - alias: s
    type: Switch
    as: ada
    data: {maxVoltage: 5, password: pw}
steps:
  - as: ada
    perform: {resource: s, action: turnOn}
    expect: {success: true, state: %q}
`, name, def, state)
}

// scenarioTree writes scenario files under dir/scenarios and returns that
// directory.
func scenarioTree(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return root, dir
}

func TestTestCommand_Harness(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ document_review\n")
	assert.Contains(t, out, "✓ poll_voting\n")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestTestCommand_JSON(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--format", "json")
	require.NoError(t, err)

	var result TestResult
	resp := jsonResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	require.Len(t, result.Scenarios, 2)
	assert.Equal(t, "document_review", result.Scenarios[0].Name)
	assert.Equal(t, "match", result.Scenarios[0].Golden)
	assert.Equal(t, "poll_voting", result.Scenarios[1].Name)
	assert.Equal(t, "missing", result.Scenarios[1].Golden)
}

func TestTestCommand_Filter(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--filter", "poll*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ poll_voting\n")
	assert.NotContains(t, out, "document_review")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_SingleFile(t *testing.T) {
	out, _, err := execute(t, "test", filepath.Join(scenariosDir, "document_review.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ document_review\n")
}

func TestTestCommand_Failure(t *testing.T) {
	_, dir := scenarioTree(t, map[string]string{
		"wrong.yaml": switchScenario(t, "wrong_state", "off"),
	})

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_state\n")
	assert.Contains(t, out, `state = "on", want "off"`)
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTestCommand_FailureJSON(t *testing.T) {
	_, dir := scenarioTree(t, map[string]string{
		"wrong.yaml": switchScenario(t, "wrong_state", "off"),
	})

	out, _, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)

	var result TestResult
	resp := jsonResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.NotEmpty(t, result.Scenarios[0].Errors)
}

func TestTestCommand_UpdateGolden(t *testing.T) {
	root, dir := scenarioTree(t, map[string]string{
		"ok.yaml": switchScenario(t, "switch_on", "on"),
	})

	out, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ switch_on (golden updated)\n")

	golden, err := os.ReadFile(filepath.Join(root, "golden", "switch_on.golden"))
	require.NoError(t, err)
	assert.Equal(t,
		`{"emails":[],"scenario":"switch_on","trace":[`+
			`{"as":"ada","op":"create","resource":"Switch#s","seq":1,"state":"off","success":true},`+
			`{"action":"turnOn","as":"ada","op":"perform","resource":"Switch#s","seq":2,"state":"on","success":true}]}`,
		string(golden))

	out, _, err = execute(t, "test", dir, "--format", "json")
	require.NoError(t, err)
	var result TestResult
	jsonResponse(t, out, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "match", result.Scenarios[0].Golden)
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	root, dir := scenarioTree(t, map[string]string{
		"ok.yaml": switchScenario(t, "switch_on", "on"),
	})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "golden", "switch_on.golden"), []byte("{}"), 0o644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_Errors(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)

	out, _, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E001]: finding scenarios")

	_, dir := scenarioTree(t, map[string]string{"broken.yaml": "name: broken\nbogus: 1\n"})
	out, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml\n")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_Empty(t *testing.T) {
	_, dir := scenarioTree(t, nil)
	out, _, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
