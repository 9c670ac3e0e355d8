package agentdef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := write(t, dir, "revenue.yaml", "description: Revenue\ninstructions: |\n  Summarize revenue.\nparameters:\n  quarter: Q3\n")

	def, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "revenue", def.Name)
	require.Equal(t, "Revenue", def.Description)
	require.Equal(t, map[string]string{"quarter": "Q3"}, def.Parameters)
	require.Equal(t, path, def.Path)
	require.Equal(t, "Summarize revenue.\n\nParameters:\n- quarter: Q3", def.Prompt())
}

func TestLoad_Rejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty.yaml", body: "", want: "instructions are required"},
		{name: "blank.yaml", body: "instructions: '   '\n", want: "instructions are required"},
		{name: "unknown.yaml", body: "instructions: x\nprompt: y\n", want: "field prompt not found"},
		{name: "broken.yaml", body: "instructions: [\n", want: "load agent"},
	}
	for _, tc := range tests {
		_, err := Load(write(t, dir, tc.name, tc.body))
		require.ErrorContains(t, err, tc.want, tc.name)
	}

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "b.yaml", "instructions: b\n")
	write(t, dir, "a.yml", "name: alpha\ninstructions: a\n")
	write(t, dir, "notes.txt", "not an agent")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "alpha", defs[0].Name)
	require.Equal(t, "b", defs[1].Name)

	found, err := Find(defs, "b")
	require.NoError(t, err)
	require.Equal(t, "b", found.Instructions)

	_, err = Find(defs, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDir_DuplicateNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "one.yaml", "name: same\ninstructions: a\n")
	write(t, dir, "two.yaml", "name: same\ninstructions: b\n")

	_, err := LoadDir(dir)
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestRequest_MergesOverrides(t *testing.T) {
	t.Parallel()

	def := Definition{Name: "r", Instructions: "go", Parameters: map[string]string{"quarter": "Q3", "region": "EMEA"}}
	request := def.Request(map[string]string{"quarter": "Q4"})

	require.Equal(t, "r", request.Name)
	require.Equal(t, map[string]string{"quarter": "Q4", "region": "EMEA"}, request.Parameters)
	require.Equal(t, "Q3", def.Parameters["quarter"])

	bare := Definition{Name: "x", Instructions: "go"}
	require.Nil(t, bare.Request(nil).Parameters)
	require.Equal(t, map[string]string{"k": "v"}, bare.Request(map[string]string{"k": "v"}).Parameters)
}
