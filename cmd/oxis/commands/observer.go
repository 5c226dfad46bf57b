package commands

import (
	"time"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/event"
	"github.com/oxisdev/oxis/internal/pipeline"
)

// emittingObserver wraps the state-tracking observer and additionally emits
// a lifecycle event for each callback, so a run is both checkpointed and
// visible to whatever is consuming the CLI's event stream.
type emittingObserver struct {
	inner      pipeline.Observer
	emitter    event.EventEmitter
	pipelineID string
}

func (o *emittingObserver) OnStepStart(stepID string) {
	o.inner.OnStepStart(stepID)
	o.emitter.Emit(event.Event{Timestamp: time.Now(), PipelineID: o.pipelineID, StepID: stepID, State: event.StateRunning})
}

func (o *emittingObserver) OnStepComplete(result pipeline.StepResult) {
	o.inner.OnStepComplete(result)
	state := event.StateCompleted
	if result.Skipped {
		state = event.StateSkipped
	} else if !result.Success {
		state = event.StateFailed
	}
	o.emitter.Emit(event.Event{
		Timestamp:  time.Now(),
		PipelineID: o.pipelineID,
		StepID:     result.StepID,
		State:      state,
		DurationMs: result.DurationMS,
		Message:    result.Error,
		RetryCount: result.RetryCount,
	})
}

func (o *emittingObserver) OnCheckpoint(current envelope.Envelope) {
	o.inner.OnCheckpoint(current)
	o.emitter.Emit(event.Event{Timestamp: time.Now(), PipelineID: o.pipelineID, State: event.StateCheckpoint})
}
