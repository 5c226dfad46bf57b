package tracker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/pipeline"
	"github.com/oxisdev/oxis/internal/state"
	"github.com/oxisdev/oxis/internal/tracker"
)

func TestNew_PersistsRunningState(t *testing.T) {
	mgr := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	decl := &pipeline.Declaration{Pipeline: []pipeline.Step{{Name: "read_file"}}}

	tr, err := tracker.New(ctx, mgr, "p1", decl)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.RunID())

	s, err := tr.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.PipelineRunning, s.Status.Kind)
	assert.EqualValues(t, 1, s.Version)
}

func TestStartStepAndCompleteStep(t *testing.T) {
	mgr := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	decl := &pipeline.Declaration{Pipeline: []pipeline.Step{{Name: "read_file"}}}
	tr, err := tracker.New(ctx, mgr, "p1", decl)
	require.NoError(t, err)

	require.NoError(t, tr.StartStep(ctx, "read_file", "read_file"))
	s, err := tr.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "read_file", s.CurrentStep)
	assert.True(t, s.StepStates["read_file"].IsRunning())

	require.NoError(t, tr.CompleteStep(ctx, pipeline.StepResult{StepID: "read_file", Name: "read_file", Success: true, DurationMS: 10}))
	s, err = tr.GetState(ctx)
	require.NoError(t, err)
	assert.True(t, s.StepStates["read_file"].IsCompleted())
	assert.EqualValues(t, 1, s.RecordsProcessed)
}

func TestCompleteStep_FailureRecordsError(t *testing.T) {
	mgr := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	decl := &pipeline.Declaration{Pipeline: []pipeline.Step{{Name: "read_file"}}}
	tr, err := tracker.New(ctx, mgr, "p1", decl)
	require.NoError(t, err)

	require.NoError(t, tr.StartStep(ctx, "read_file", "read_file"))
	require.NoError(t, tr.CompleteStep(ctx, pipeline.StepResult{StepID: "read_file", Name: "read_file", Success: false, Error: "boom"}))

	s, err := tr.GetState(ctx)
	require.NoError(t, err)
	assert.True(t, s.StepStates["read_file"].IsFailed())
	assert.EqualValues(t, 1, s.RecordsFailed)
	require.Len(t, s.Errors, 1)
	assert.True(t, s.Errors[0].Retryable)
}

func TestCreateCheckpoint(t *testing.T) {
	mgr := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	decl := &pipeline.Declaration{Pipeline: []pipeline.Step{{Name: "read_file"}}}
	tr, err := tracker.New(ctx, mgr, "p1", decl)
	require.NoError(t, err)

	require.NoError(t, tr.CreateCheckpoint(ctx, envelope.FromText("hello"), 1))
	s, err := tr.GetState(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Metadata.CheckpointCount)
	assert.Positive(t, s.DataSizeProcessed)
}

func TestCompletePipeline_SuccessAndFailure(t *testing.T) {
	mgr := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	decl := &pipeline.Declaration{Pipeline: []pipeline.Step{{Name: "read_file"}}}

	tr, err := tracker.New(ctx, mgr, "p1", decl)
	require.NoError(t, err)
	require.NoError(t, tr.CompletePipeline(ctx, &pipeline.PipelineResult{Success: true}))
	s, err := tr.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.PipelineCompleted, s.Status.Kind)

	tr2, err := tracker.New(ctx, mgr, "p2", decl)
	require.NoError(t, err)
	require.NoError(t, tr2.CompletePipeline(ctx, &pipeline.PipelineResult{Success: false, StepsFailed: 1, StepResults: []pipeline.StepResult{{}}}))
	s2, err := tr2.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.PipelineFailed, s2.Status.Kind)
}

func TestCanResumeAndResume(t *testing.T) {
	mgr := state.NewMemoryManager("worker-1")
	ctx := context.Background()
	decl := &pipeline.Declaration{Pipeline: []pipeline.Step{{Name: "read_file"}}}

	can, err := tracker.CanResume(ctx, mgr, "missing")
	require.NoError(t, err)
	assert.False(t, can)

	tr, err := tracker.New(ctx, mgr, "p1", decl)
	require.NoError(t, err)

	can, err = tracker.CanResume(ctx, mgr, "p1")
	require.NoError(t, err)
	assert.True(t, can)

	resumed, err := tracker.Resume(ctx, mgr, "p1")
	require.NoError(t, err)
	assert.Equal(t, tr.RunID(), resumed.RunID())

	require.NoError(t, resumed.CompletePipeline(ctx, &pipeline.PipelineResult{Success: true}))
	can, err = tracker.CanResume(ctx, mgr, "p1")
	require.NoError(t, err)
	assert.False(t, can)
}
