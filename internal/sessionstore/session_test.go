package sessionstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLatest(t *testing.T) {
	store := NewStore(t.TempDir())
	started := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(SessionRecord{
		ID: "s1", Workspace: "/ws/a", Branch: "main", StartedAt: started, Status: StatusRunning,
	}))
	require.NoError(t, store.Append(SessionRecord{
		ID: "s1", Workspace: "/ws/a", Branch: "main", StartedAt: started, Status: StatusStopped,
	}))

	latest, ok, err := store.Latest("/ws/a", "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusStopped, latest.Status)

	records, err := store.Records("/ws/a", "main")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecordsIgnoreCorruptTrailingLine(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Append(SessionRecord{ID: "s1", Workspace: "/ws/a", Branch: "main", Status: StatusRunning}))

	path := store.logPath("/ws/a", "main")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := store.Records("/ws/a", "main")
	require.NoError(t, err)
	assert.Len(t, records, 1, "the corrupt trailing record must be ignored, not fail the read")
}

func TestReconcileIncompleteMarksRunningSession(t *testing.T) {
	store := NewStore(t.TempDir())
	started := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(SessionRecord{
		ID: "s1", Workspace: "/ws/a", Branch: "main",
		StartedAt: started, Status: StatusRunning, ExpectedDuration: 2 * time.Hour,
	}))

	now := started.Add(5 * time.Hour)
	require.NoError(t, store.ReconcileIncomplete("/ws/a", "main", now))

	latest, ok, err := store.Latest("/ws/a", "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusIncomplete, latest.Status)
	require.NotNil(t, latest.EndedAt)
	assert.Equal(t, started.Add(2*time.Hour), *latest.EndedAt)
}

func TestReconcileIncompleteIsNoopWhenAlreadyStopped(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Append(SessionRecord{ID: "s1", Workspace: "/ws/a", Branch: "main", Status: StatusStopped}))

	require.NoError(t, store.ReconcileIncomplete("/ws/a", "main", time.Now()))

	records, err := store.Records("/ws/a", "main")
	require.NoError(t, err)
	assert.Len(t, records, 1, "no new record should be appended for an already-terminal session")
}

func TestDifferentBranchesGetSeparateLogs(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Append(SessionRecord{ID: "s1", Workspace: "/ws/a", Branch: "main", Status: StatusRunning}))
	require.NoError(t, store.Append(SessionRecord{ID: "s2", Workspace: "/ws/a", Branch: "feature", Status: StatusRunning}))

	assert.NotEqual(t, store.logPath("/ws/a", "main"), store.logPath("/ws/a", "feature"))

	mainRecords, err := store.Records("/ws/a", "main")
	require.NoError(t, err)
	assert.Len(t, mainRecords, 1)
}

func TestAppendRejectsEmptyID(t *testing.T) {
	store := NewStore(t.TempDir())
	err := store.Append(SessionRecord{Workspace: "/ws/a", Branch: "main"})
	assert.Error(t, err)
}

func TestAppendCreatesDirectoryLazily(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "nested", "sessions")
	store := NewStore(dir)
	require.NoError(t, store.Append(SessionRecord{ID: "s1", Workspace: "/ws/a", Branch: "main", Status: StatusRunning}))
	assert.DirExists(t, dir)
}
