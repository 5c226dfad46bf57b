package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/pipeline"
	"github.com/oxisdev/oxis/internal/stage"
	"github.com/oxisdev/oxis/internal/stageconfig"
)

type alwaysFailStage struct{ stage.BaseStage }

func (alwaysFailStage) Name() string                      { return "always_fail" }
func (alwaysFailStage) ConfigSchema() envelope.Schema      { return envelope.NewSchema() }
func (alwaysFailStage) ProcessingLimits() stage.ProcessingLimits {
	return stage.ProcessingLimits{}
}
func (alwaysFailStage) Process(context.Context, envelope.Envelope, stageconfig.Config) (envelope.Envelope, error) {
	return envelope.Envelope{}, &stage.ExecutionError{Details: "x"}
}

type passthroughStage struct{ stage.BaseStage }

func (passthroughStage) Name() string                 { return "passthrough" }
func (passthroughStage) ConfigSchema() envelope.Schema { return envelope.NewSchema() }
func (passthroughStage) ProcessingLimits() stage.ProcessingLimits {
	return stage.ProcessingLimits{}
}
func (passthroughStage) Process(_ context.Context, in envelope.Envelope, _ stageconfig.Config) (envelope.Envelope, error) {
	return in, nil
}

func newTestRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()
	r.Register(alwaysFailStage{})
	r.Register(passthroughStage{})
	return r
}

// Scenario 4: retry accounting.
func TestExecutor_RetryAccounting(t *testing.T) {
	decl := &pipeline.Declaration{
		Pipeline: []pipeline.Step{
			{Name: "always_fail", RetryAttempts: 2},
		},
	}

	exec := pipeline.NewExecutor(newTestRegistry(), nil, nil)
	result, err := exec.Run(context.Background(), decl)
	require.NoError(t, err)

	assert.Equal(t, 0, result.StepsExecuted)
	assert.Equal(t, 1, result.StepsFailed)
	assert.False(t, result.Success)
	assert.Nil(t, result.FinalEnvelope)
	require.Len(t, result.StepResults, 1)
	assert.EqualValues(t, 2, result.StepResults[0].RetryCount)
}

// Scenario 5: continue-on-error.
func TestExecutor_ContinueOnError(t *testing.T) {
	decl := &pipeline.Declaration{
		Pipeline: []pipeline.Step{
			{Name: "always_fail", ContinueOnError: true},
			{Name: "passthrough"},
		},
	}

	exec := pipeline.NewExecutor(newTestRegistry(), nil, nil)
	result, err := exec.Run(context.Background(), decl)
	require.NoError(t, err)

	assert.Equal(t, 1, result.StepsExecuted)
	assert.Equal(t, 1, result.StepsFailed)
	assert.Equal(t, 0, result.StepsSkipped)
}

func TestExecutor_AbortSkipsRemainingSteps(t *testing.T) {
	decl := &pipeline.Declaration{
		Pipeline: []pipeline.Step{
			{Name: "always_fail"},
			{Name: "passthrough"},
			{Name: "passthrough"},
		},
	}

	exec := pipeline.NewExecutor(newTestRegistry(), nil, nil)
	result, err := exec.Run(context.Background(), decl)
	require.NoError(t, err)

	assert.Equal(t, 0, result.StepsExecuted)
	assert.Equal(t, 1, result.StepsFailed)
	assert.Equal(t, 2, result.StepsSkipped)
	assert.False(t, result.Success)
}

func TestExecutor_UnknownStageNameFails(t *testing.T) {
	decl := &pipeline.Declaration{
		Pipeline: []pipeline.Step{{Name: "nonexistent"}},
	}

	exec := pipeline.NewExecutor(newTestRegistry(), nil, nil)
	result, err := exec.Run(context.Background(), decl)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StepsFailed)
	assert.False(t, result.Success)
}

func TestExecutor_SuccessfulPipelineReturnsFinalEnvelope(t *testing.T) {
	decl := &pipeline.Declaration{
		Pipeline: []pipeline.Step{{Name: "passthrough"}},
	}

	exec := pipeline.NewExecutor(newTestRegistry(), nil, nil)
	result, err := exec.Run(context.Background(), decl)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.FinalEnvelope)
}
