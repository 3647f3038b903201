package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestWorkspace_Resolve(t *testing.T) {
	ws := newWorkspace(t)

	got, err := ws.Resolve("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root(), "src", "main.go"), got)

	got, err = ws.Resolve(filepath.Join(ws.Root(), "a", "..", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root(), "b.txt"), got)

	for _, bad := range []string{"../escape.txt", "a/../../escape.txt", "/etc/passwd"} {
		_, err := ws.Resolve(bad)
		assert.ErrorIs(t, err, ErrOutsideWorkspace, bad)
	}
	_, err = ws.Resolve("  ")
	assert.ErrorIs(t, err, ErrMissingRequiredArg)

	// A sibling directory sharing the root's prefix is still outside.
	_, err = ws.Resolve(ws.Root() + "-sibling/x")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestWorkspaceTools_WriteReadEdit(t *testing.T) {
	ws := newWorkspace(t)
	reg := NewRegistry()
	require.NoError(t, ws.Register(reg))
	assert.Equal(t, []string{"edit_file", "read_file", "write_file"}, reg.Names())
	assert.True(t, reg.Get("write_file").Mutates)
	assert.False(t, reg.Get("read_file").Mutates)

	ctx := context.Background()
	res, err := reg.Execute(ctx, "write_file", map[string]any{"path": "pkg/a.txt", "content": "one\ntwo\nthree\ntwo"})
	require.NoError(t, err)
	assert.Equal(t, "Wrote 17 bytes to pkg/a.txt", res.Result)

	res, err = reg.Execute(ctx, "read_file", map[string]any{"path": "pkg/a.txt", "start_line": 2.0, "end_line": 3.0})
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", res.Result)

	res, err = reg.Execute(ctx, "edit_file", map[string]any{"path": "pkg/a.txt", "old_text": "two", "new_text": "2"})
	require.NoError(t, err)
	assert.Equal(t, "Replaced 1 occurrence(s) in pkg/a.txt", res.Result)

	res, err = reg.Execute(ctx, "edit_file", map[string]any{"path": "pkg/a.txt", "old_text": "two", "new_text": "2", "replace_all": true})
	require.NoError(t, err)
	assert.Equal(t, "Replaced 1 occurrence(s) in pkg/a.txt", res.Result)

	data, err := os.ReadFile(filepath.Join(ws.Root(), "pkg", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\n2\nthree\n2", string(data))

	_, err = reg.Execute(ctx, "edit_file", map[string]any{"path": "pkg/a.txt", "old_text": "missing", "new_text": "x"})
	assert.ErrorContains(t, err, "old_text not found")

	_, err = reg.Execute(ctx, "write_file", map[string]any{"path": "../out.txt", "content": "x"})
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestWriter(t *testing.T) {
	ws := newWorkspace(t)
	w := NewWriter(ws)

	res, err := w.WriteFile(context.Background(), "gen/out.go", "package gen\n")
	require.NoError(t, err)
	assert.True(t, res.Success)
	data, err := os.ReadFile(filepath.Join(ws.Root(), "gen", "out.go"))
	require.NoError(t, err)
	assert.Equal(t, "package gen\n", string(data))

	res, err = w.WriteFile(context.Background(), "../../etc/evil", "x")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, ErrOutsideWorkspace.Error())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.WriteFile(ctx, "late.txt", "x")
	assert.ErrorIs(t, err, context.Canceled)
}
