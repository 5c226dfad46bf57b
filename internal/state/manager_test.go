package state_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxisdev/oxis/internal/state"
)

func TestManager_InitializeAndLoad(t *testing.T) {
	m := state.NewMemoryManager("worker-1")
	ctx := context.Background()

	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	loaded, err := m.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", loaded.PipelineID)
}

func TestManager_UpdateStateAppliesFn(t *testing.T) {
	m := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	s, err := m.UpdateState(ctx, "p1", func(s *state.PipelineState) {
		s.RecordsProcessed = 42
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, s.RecordsProcessed)

	reloaded, err := m.Load(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 42, reloaded.RecordsProcessed)
}

func TestManager_UpdateStateLockedReleasesLock(t *testing.T) {
	m := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	_, err = m.UpdateStateLocked(ctx, "p1", func(s *state.PipelineState) {
		s.CurrentStep = "transform"
	})
	require.NoError(t, err)

	info, err := m.IsLocked(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestManager_AcquireLockThenManualRelease(t *testing.T) {
	m := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	lock, err := m.AcquireLock(ctx, "p1")
	require.NoError(t, err)

	info, err := m.IsLocked(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, info)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx)) // idempotent

	info, err = m.IsLocked(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestManager_AddErrorAndGetStepState(t *testing.T) {
	m := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	_, err = m.AddError(ctx, "p1", state.ConfigError("bad config", "init"))
	require.NoError(t, err)

	s, err := m.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, s.Errors, 1)

	_, err = m.UpdateStepState(ctx, "p1", state.NewStepState("step1", "read"))
	require.NoError(t, err)

	st, err := m.GetStepState(ctx, "p1", "step1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "read", st.StepName)

	missing, err := m.GetStepState(ctx, "p1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestManager_FindStalePipelines(t *testing.T) {
	m := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	_, err = m.UpdateState(ctx, "p1", func(s *state.PipelineState) {
		s.Status = state.PipelineStatus{Kind: state.PipelineRunning}
		s.LastHeartbeat = s.LastHeartbeat.Add(-time.Hour)
	})
	require.NoError(t, err)

	stale, err := m.FindStalePipelines(ctx, 1000)
	require.NoError(t, err)
	assert.Contains(t, stale, "p1")
}

func TestManager_StartHeartbeatStopsCleanly(t *testing.T) {
	m := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	h := m.StartHeartbeat(ctx, "p1")
	assert.True(t, h.Running())
	h.Stop()
	assert.False(t, h.Running())
}

func TestObservableManager_NotifiesOnSave(t *testing.T) {
	m := state.NewObservableManager(state.NewMemoryManager("worker-1"))
	ctx := context.Background()
	_, err := m.Initialize(ctx, "p1", "r1")
	require.NoError(t, err)

	rec := &recordingObserver{}
	m.Subscribe(rec)

	s, err := m.Load(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, m.SaveObserved(ctx, s))

	assert.Equal(t, 1, rec.stateChanges)
}

type recordingObserver struct {
	stateChanges int
	errors       int
	locks        int
	unlocks      int
}

func (r *recordingObserver) OnStateChange(string, *state.PipelineState) { r.stateChanges++ }
func (r *recordingObserver) OnError(string, state.ErrorRecord)          { r.errors++ }
func (r *recordingObserver) OnLockAcquired(string, state.LockInfo)      { r.locks++ }
func (r *recordingObserver) OnLockReleased(string)                     { r.unlocks++ }
