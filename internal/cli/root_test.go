package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func testdata(name string) string {
	return filepath.Join("..", "compiler", "testdata", name)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "flowgate", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"validate"}, {"types"}, {"list"}, {"create"}, {"get"}, {"update"},
		{"actions"}, {"perform"}, {"history"}, {"eval"}, {"test"},
		{"outbox", "list"}, {"outbox", "flush"},
		{"token", "issue"}, {"token", "verify"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "definition"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, name[:1], f.Shorthand)
	}
	for _, name := range []string{"store", "db", "as", "token"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Empty(t, f.DefValue)
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		path []string
		flag string
		def  string
	}{
		{[]string{"create"}, "data", ""},
		{[]string{"update"}, "data", ""},
		{[]string{"perform"}, "input", ""},
		{[]string{"eval"}, "self", ""},
		{[]string{"eval"}, "input", ""},
		{[]string{"test"}, "update", "false"},
		{[]string{"test"}, "filter", ""},
		{[]string{"outbox", "list"}, "limit", "100"},
		{[]string{"outbox", "flush"}, "limit", "100"},
		{[]string{"token", "issue"}, "ttl", "24h0m0s"},
		{[]string{"token", "issue"}, "roles", "[]"},
	}

	cmd := NewRootCommand()
	for _, tt := range tests {
		sub, _, err := cmd.Find(tt.path)
		require.NoError(t, err)
		f := sub.Flags().Lookup(tt.flag)
		require.NotNil(t, f, "%v --%s", tt.path, tt.flag)
		assert.Equal(t, tt.def, f.DefValue, "%v --%s", tt.path, tt.flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, stderr, err := execute(t, "types", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, `invalid format "yaml"`)
}
