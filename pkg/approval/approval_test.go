package approval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "exec-approvals.json"))
	require.NoError(t, err)
	return s
}

func TestStore_RecordAndCheck(t *testing.T) {
	s := tempStore(t)

	assert.False(t, s.IsPreApproved("ls -la"))

	require.NoError(t, s.RecordApproval("ls -la"))
	assert.True(t, s.IsPreApproved("ls -la"))
	assert.True(t, s.IsPreApproved("  ls -la  "), "whitespace trimmed before matching")
	assert.False(t, s.IsPreApproved("rm -rf /"))
}

func TestStore_RecordDeduplicates(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.RecordApproval("git status"))
	require.NoError(t, s.RecordApproval("git status"))
	assert.Equal(t, 1, s.Count())
}

func TestStore_PatternMatching(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.AddPattern("git *", "version control is safe"))

	assert.True(t, s.IsPreApproved("git status"))
	assert.True(t, s.IsPreApproved("git log"))
	assert.False(t, s.IsPreApproved("rm -rf /"))

	assert.Error(t, s.AddPattern("[", "broken"))
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec-approvals.json")

	first, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, first.RecordApproval("make test"))

	second, err := NewStore(path)
	require.NoError(t, err)
	assert.True(t, second.IsPreApproved("make test"))
}

func TestStore_Remove(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.RecordApproval("ls"))
	require.NoError(t, s.Remove("ls"))
	assert.False(t, s.IsPreApproved("ls"))

	assert.Error(t, s.Remove("never-added"))
}

func TestManager_PreApprovedSkipsHandler(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.RecordApproval("ls"))

	handler := &MockHandler{Response: Response{Approved: false}}
	m := NewManager(s, handler)

	approved, err := m.Approve(context.Background(), Request{Command: "ls"})
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Zero(t, handler.Calls, "pre-approved commands never prompt")
}

func TestManager_DeniedByHandler(t *testing.T) {
	m := NewManager(tempStore(t), &MockHandler{
		Response: Response{Approved: false, Reason: "too risky"},
	})

	approved, err := m.Approve(context.Background(), Request{Command: "rm -rf /"})
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestManager_RememberPersistsGrant(t *testing.T) {
	s := tempStore(t)
	handler := &MockHandler{Response: Response{Approved: true, Remember: true}}
	m := NewManager(s, handler)

	approved, err := m.Approve(context.Background(), Request{Command: "go test ./..."})
	require.NoError(t, err)
	assert.True(t, approved)
	assert.True(t, s.IsPreApproved("go test ./..."))

	// The second run never reaches the handler
	_, err = m.Approve(context.Background(), Request{Command: "go test ./..."})
	require.NoError(t, err)
	assert.Equal(t, 1, handler.Calls)
}

func TestManager_HandlerError(t *testing.T) {
	m := NewManager(tempStore(t), &MockHandler{Err: errors.New("terminal gone")})

	approved, err := m.Approve(context.Background(), Request{Command: "ls"})
	assert.Error(t, err)
	assert.False(t, approved)
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager(tempStore(t), &MockHandler{
		Response: Response{Approved: true},
		Delay:    5 * time.Second,
	})
	m.SetTimeout(20 * time.Millisecond)

	approved, err := m.Approve(context.Background(), Request{Command: "ls"})
	assert.Error(t, err)
	assert.False(t, approved)
}

func TestManager_NoHandler(t *testing.T) {
	m := NewManager(tempStore(t), nil)

	approved, err := m.Approve(context.Background(), Request{Command: "ls"})
	assert.Error(t, err)
	assert.False(t, approved)
}

func TestAutoApproveHandler(t *testing.T) {
	m := NewManager(tempStore(t), AutoApproveHandler{})

	approved, err := m.Approve(context.Background(), Request{Command: "anything at all"})
	require.NoError(t, err)
	assert.True(t, approved)
}
