package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowgate/internal/compiler"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

// LoadDefinition compiles a definition file, failing the test on error.
func LoadDefinition(t testing.TB, path string) *schema.SystemDefinition {
	t.Helper()
	def, err := compiler.LoadFile(path)
	require.NoError(t, err, "loading %s", path)
	return def
}

// MustDefinition compiles an inline JSON definition, failing the test on
// error.
func MustDefinition(t testing.TB, src string) *schema.SystemDefinition {
	t.Helper()
	def, err := compiler.Load([]byte(src), compiler.FormatJSON, "inline.json")
	require.NoError(t, err)
	return def
}

// User builds a user whose email is derived from the uid.
func User(uid string, roles ...string) *ir.User {
	return &ir.User{
		UID:   uid,
		Email: uid + "@example.com",
		Roles: roles,
	}
}
