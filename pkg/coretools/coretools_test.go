package coretools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadhif/lira/pkg/approval"
	"github.com/nadhif/lira/pkg/tool"
)

func setup(t *testing.T, handler approval.Handler) (*tool.Registry, string) {
	t.Helper()

	workspace := t.TempDir()
	store, err := approval.NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	registry := tool.NewRegistry()
	require.NoError(t, Register(registry, Options{
		WorkspaceRoot: workspace,
		Approvals:     approval.NewManager(store, handler),
	}))

	return registry, workspace
}

func TestRegister_AllToolsPresent(t *testing.T) {
	registry, _ := setup(t, approval.AutoApproveHandler{})
	assert.Equal(t, []string{"exec", "read_file", "write_file", "edit_file"}, registry.Names())
}

func TestExec_Success(t *testing.T) {
	registry, _ := setup(t, approval.AutoApproveHandler{})

	result := registry.Execute(context.Background(), "exec",
		map[string]interface{}{"command": "echo hello"}, 0)

	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Output)
}

func TestExec_NonZeroExit(t *testing.T) {
	registry, _ := setup(t, approval.AutoApproveHandler{})

	result := registry.Execute(context.Background(), "exec",
		map[string]interface{}{"command": "echo oops >&2; exit 3"}, 0)

	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "oops")
	assert.Contains(t, result.Output, "exit status 3")
}

func TestExec_Denied(t *testing.T) {
	registry, _ := setup(t, &approval.MockHandler{
		Response: approval.Response{Approved: false, Reason: "nope"},
	})

	result := registry.Execute(context.Background(), "exec",
		map[string]interface{}{"command": "rm -rf /"}, 0)

	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "not approved")
}

func TestExec_PreApprovedSkipsPrompt(t *testing.T) {
	workspace := t.TempDir()
	store, err := approval.NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)
	require.NoError(t, store.RecordApproval("echo safe"))

	denyAll := &approval.MockHandler{Response: approval.Response{Approved: false}}
	registry := tool.NewRegistry()
	require.NoError(t, Register(registry, Options{
		WorkspaceRoot: workspace,
		Approvals:     approval.NewManager(store, denyAll),
	}))

	result := registry.Execute(context.Background(), "exec",
		map[string]interface{}{"command": "echo safe"}, 0)

	assert.True(t, result.Success)
	assert.Equal(t, "safe", result.Output)
	assert.Zero(t, denyAll.Calls)
}

func TestExec_CwdInsideWorkspace(t *testing.T) {
	registry, workspace := setup(t, approval.AutoApproveHandler{})
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "sub"), 0755))

	result := registry.Execute(context.Background(), "exec",
		map[string]interface{}{"command": "pwd", "cwd": "sub"}, 0)

	require.True(t, result.Success)
	assert.Contains(t, result.Output, "sub")

	escaped := registry.Execute(context.Background(), "exec",
		map[string]interface{}{"command": "pwd", "cwd": "../outside"}, 0)
	assert.False(t, escaped.Success)
	assert.Contains(t, escaped.Output, "escapes workspace")
}

func TestReadFile(t *testing.T) {
	registry, workspace := setup(t, approval.AutoApproveHandler{})
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "hello.txt"), []byte("contents"), 0644))

	result := registry.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "hello.txt"}, 0)

	assert.True(t, result.Success)
	assert.Equal(t, "contents", result.Output)
}

func TestReadFile_MissingAndEscaping(t *testing.T) {
	registry, _ := setup(t, approval.AutoApproveHandler{})

	missing := registry.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "nope.txt"}, 0)
	assert.False(t, missing.Success)

	escape := registry.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "../../etc/passwd"}, 0)
	assert.False(t, escape.Success)
	assert.Contains(t, escape.Output, "escapes workspace")
}

func TestReadFile_RespectsLimit(t *testing.T) {
	registry, workspace := setup(t, approval.AutoApproveHandler{})
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "big.txt"),
		[]byte("0123456789"), 0644))

	result := registry.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "big.txt", "max_bytes": float64(4)}, 0)

	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "0123")
	assert.Contains(t, result.Output, "[file truncated]")
	assert.NotContains(t, result.Output, "456789")
}

func TestWriteFile(t *testing.T) {
	registry, workspace := setup(t, approval.AutoApproveHandler{})

	result := registry.Execute(context.Background(), "write_file",
		map[string]interface{}{"path": "dir/new.txt", "content": "first"}, 0)
	require.True(t, result.Success)

	data, err := os.ReadFile(filepath.Join(workspace, "dir", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// Append mode
	result = registry.Execute(context.Background(), "write_file",
		map[string]interface{}{"path": "dir/new.txt", "content": " second", "append": true}, 0)
	require.True(t, result.Success)

	data, err = os.ReadFile(filepath.Join(workspace, "dir", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first second", string(data))
}

func TestEditFile(t *testing.T) {
	registry, workspace := setup(t, approval.AutoApproveHandler{})
	path := filepath.Join(workspace, "code.go")
	require.NoError(t, os.WriteFile(path, []byte("alpha beta gamma"), 0644))

	result := registry.Execute(context.Background(), "edit_file",
		map[string]interface{}{"path": "code.go", "old_text": "beta", "new_text": "delta"}, 0)
	require.True(t, result.Success)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha delta gamma", string(data))
}

func TestEditFile_RequiresUniqueMatch(t *testing.T) {
	registry, workspace := setup(t, approval.AutoApproveHandler{})
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "dup.txt"),
		[]byte("same same"), 0644))

	notFound := registry.Execute(context.Background(), "edit_file",
		map[string]interface{}{"path": "dup.txt", "old_text": "missing", "new_text": "x"}, 0)
	assert.False(t, notFound.Success)
	assert.Contains(t, notFound.Output, "not found")

	ambiguous := registry.Execute(context.Background(), "edit_file",
		map[string]interface{}{"path": "dup.txt", "old_text": "same", "new_text": "x"}, 0)
	assert.False(t, ambiguous.Success)
	assert.Contains(t, ambiguous.Output, "must be unique")
}

func TestResolveInWorkspace_SegmentContainment(t *testing.T) {
	root := t.TempDir()

	// Sibling directory sharing the root as a string prefix must be rejected
	sibling := root + "X/file.txt"
	_, err := resolveInWorkspace(root, sibling)
	assert.Error(t, err)

	inside, err := resolveInWorkspace(root, "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "file.txt"), inside)

	// The root itself is contained
	self, err := resolveInWorkspace(root, ".")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(root), self)

	_, err = resolveInWorkspace(root, "../escape")
	assert.Error(t, err)

	_, err = resolveInWorkspace(root, "")
	assert.Error(t, err)
}
