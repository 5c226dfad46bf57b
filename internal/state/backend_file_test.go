package state_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxisdev/oxis/internal/state"
)

func newTestFileBackend(t *testing.T) *state.FileBackend {
	t.Helper()
	b, err := state.NewFileBackend(state.BackendConfig{BasePath: t.TempDir(), Format: state.FormatJSON})
	require.NoError(t, err)
	return b
}

func TestFileBackend_SaveLoadRoundTrip(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	s := state.New("p1", "r1")
	require.NoError(t, b.Save(ctx, s))

	loaded, err := b.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", loaded.PipelineID)
	assert.Equal(t, "r1", loaded.RunID)
}

func TestFileBackend_LoadMissingReturnsNotFound(t *testing.T) {
	b := newTestFileBackend(t)
	_, err := b.Load(context.Background(), "missing")
	require.Error(t, err)
	var notFound *state.PipelineNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestFileBackend_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := state.NewFileBackend(state.BackendConfig{BasePath: dir, Format: state.FormatJSON, AtomicWrites: true})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Save(ctx, state.New("p1", "r1")))

	ids, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)

	entries, err := os.ReadDir(filepath.Join(dir, "states"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1.json", entries[0].Name())
}

func TestFileBackend_YAMLFormat(t *testing.T) {
	dir := t.TempDir()
	b, err := state.NewFileBackend(state.BackendConfig{BasePath: dir, Format: state.FormatYAML})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Save(ctx, state.New("p1", "r1")))

	_, err = os.Stat(filepath.Join(dir, "states", "p1.yaml"))
	require.NoError(t, err)
}

// Scenario 6: lock contention — a second worker must fail to acquire the
// lock while the first holds it, then succeed after release.
func TestFileBackend_LockContention(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	info, err := b.AcquireLock(ctx, "p1", "worker-a", 1000)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", info.WorkerID)

	_, err = b.AcquireLock(ctx, "p1", "worker-b", 150)
	require.Error(t, err)
	var timeout *state.LockTimeoutError
	assert.ErrorAs(t, err, &timeout)

	require.NoError(t, b.ReleaseLock(ctx, "p1", "worker-a"))

	info2, err := b.AcquireLock(ctx, "p1", "worker-b", 1000)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", info2.WorkerID)
}

func TestFileBackend_IsLockedReflectsState(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	info, err := b.IsLocked(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = b.AcquireLock(ctx, "p1", "worker-a", 1000)
	require.NoError(t, err)

	info, err = b.IsLocked(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "worker-a", info.WorkerID)
}

// Scenario 7: repair from backup — a corrupted (unparsable) state file is
// repaired by restoring from the most recent backup.
func TestFileBackend_RepairRestoresFromBackup(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	s := state.New("p1", "r1")
	require.NoError(t, b.Save(ctx, s))

	_, err := b.BackupState(ctx, "p1", state.BackupManual)
	require.NoError(t, err)

	statePath := filepath.Join(b.BasePath(), "states", "p1.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not valid json"), 0o644))

	result, err := b.RepairState(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.RestoredFromBackup)

	loaded, err := b.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", loaded.PipelineID)
}

func TestFileBackend_RepairFixesMinorIssues(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	s := state.New("p1", "r1")
	s.Version = 0
	require.NoError(t, b.Save(ctx, s))

	result, err := b.RepairState(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.AppliedFixes)

	loaded, err := b.Load(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loaded.Version)
}

func TestFileBackend_VerifyIntegrity(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Save(ctx, state.New("good", "r")))

	report, err := b.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalChecked)
	assert.Equal(t, 1.0, report.HealthScore)
}

func TestFileBackend_Cleanup(t *testing.T) {
	b := newTestFileBackend(t)
	ctx := context.Background()

	s := state.New("stale", "r")
	s.LastHeartbeat = s.LastHeartbeat.Add(-1000 * 24 * 60 * time.Minute)
	require.NoError(t, b.Save(ctx, s))

	result, err := b.Cleanup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StatesRemoved)
}
