// Package tracker adapts pipeline executor lifecycle events into state
// manager calls, so execution progress is durably checkpointed as it happens.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/pipeline"
	"github.com/oxisdev/oxis/internal/state"
)

// retryableThreshold mirrors the engine's rule: an error is considered
// retryable only below this many prior attempts.
const retryableThreshold = 3

// Tracker couples a running pipeline to its persisted state through a
// state.Manager, translating executor events into locked state mutations.
type Tracker struct {
	manager    *state.Manager
	pipelineID string
	runID      string
	startedAt  time.Time
}

// New creates a fresh run: generates a run id, persists an initial Running
// state at version 1 with an empty step map.
func New(ctx context.Context, manager *state.Manager, pipelineID string, _ *pipeline.Declaration) (*Tracker, error) {
	runID := uuid.NewString()
	now := time.Now().UTC()

	s, err := manager.Initialize(ctx, pipelineID, runID)
	if err != nil {
		return nil, err
	}
	s.Status = state.PipelineStatus{Kind: state.PipelineRunning, StartedAt: now}
	if err := manager.Save(ctx, s); err != nil {
		return nil, err
	}

	return &Tracker{manager: manager, pipelineID: pipelineID, runID: runID, startedAt: now}, nil
}

func (t *Tracker) RunID() string { return t.runID }

// StartStep records a step's transition to Running, sets it as current_step,
// and refreshes the pipeline heartbeat — all under the pipeline's lock.
func (t *Tracker) StartStep(ctx context.Context, stepID, stepName string) error {
	_, err := t.manager.UpdateStateLocked(ctx, t.pipelineID, func(s *state.PipelineState) {
		s.CurrentStep = stepID
		st := state.NewStepState(stepID, stepName)
		st.Start()
		s.StepStates[stepID] = st
		s.UpdateHeartbeat()
	})
	return err
}

// CompleteStep records a step's terminal outcome and updates pipeline-level
// counters: records_processed on success, records_failed plus an error
// record on failure.
func (t *Tracker) CompleteStep(ctx context.Context, result pipeline.StepResult) error {
	_, err := t.manager.UpdateStateLocked(ctx, t.pipelineID, func(s *state.PipelineState) {
		st, ok := s.StepStates[result.StepID]
		if !ok {
			st = state.NewStepState(result.StepID, result.Name)
		}
		st.ProcessingTimeMS = uint64(result.DurationMS)
		st.RetryCount = uint64(result.RetryCount)

		if result.Success {
			st.Complete()
			s.RecordsProcessed++
		} else {
			st.Fail(result.Error)
			s.RecordsFailed++
			retryable := result.RetryCount < retryableThreshold
			s.AddError(state.ProcessingError(result.StepID, result.Error, "step execution", retryable))
		}
		s.StepStates[result.StepID] = st
		s.IncrementVersion()
	})
	return err
}

// CreateCheckpoint advances checkpoint bookkeeping and re-estimates
// completion time by linear extrapolation from elapsed-time-per-record.
func (t *Tracker) CreateCheckpoint(ctx context.Context, current envelope.Envelope, totalSteps int) error {
	_, err := t.manager.UpdateStateLocked(ctx, t.pipelineID, func(s *state.PipelineState) {
		s.Metadata.CheckpointCount++
		s.Metadata.LastCheckpointAt = time.Now().UTC()
		s.DataSizeProcessed += uint64(current.EstimatedMemoryUsage())

		if s.RecordsProcessed > 0 && totalSteps > 0 {
			elapsed := time.Since(s.StartedAt)
			perRecord := elapsed / time.Duration(s.RecordsProcessed)
			remaining := totalSteps - int(s.RecordsProcessed)
			if remaining > 0 {
				eta := time.Now().UTC().Add(perRecord * time.Duration(remaining))
				s.EstimatedCompletion = &eta
			} else {
				s.EstimatedCompletion = nil
			}
		}
		s.IncrementVersion()
	})
	return err
}

// CompletePipeline records the run's final status. On success,
// last_success_timestamp is refreshed.
func (t *Tracker) CompletePipeline(ctx context.Context, result *pipeline.PipelineResult) error {
	_, err := t.manager.UpdateStateLocked(ctx, t.pipelineID, func(s *state.PipelineState) {
		now := time.Now().UTC()
		if result.Success {
			s.Status = state.PipelineStatus{Kind: state.PipelineCompleted, CompletedAt: now}
			s.LastSuccessTimestamp = now
		} else {
			errMsg := fmt.Sprintf("%d of %d steps failed", result.StepsFailed, len(result.StepResults))
			s.Status = state.PipelineStatus{Kind: state.PipelineFailed, FailedAt: now, Error: errMsg}
		}
		s.IncrementVersion()
	})
	return err
}

func (t *Tracker) SendHeartbeat(ctx context.Context) error {
	_, err := t.manager.UpdateHeartbeat(ctx, t.pipelineID)
	return err
}

func (t *Tracker) GetState(ctx context.Context) (*state.PipelineState, error) {
	return t.manager.Load(ctx, t.pipelineID)
}

// CanResume reports whether pipelineID's persisted state is Running or Paused.
func CanResume(ctx context.Context, manager *state.Manager, pipelineID string) (bool, error) {
	s, err := manager.Load(ctx, pipelineID)
	if err != nil {
		if _, ok := err.(*state.PipelineNotFoundError); ok {
			return false, nil
		}
		return false, err
	}
	return s.Status.Kind == state.PipelineRunning || s.Status.Kind == state.PipelinePaused, nil
}

// ExecutorObserver adapts a Tracker to pipeline.Observer, so the executor can
// drive checkpointing without knowing about the state subsystem. Observer
// callbacks cannot return an error (per the executor's Observer contract);
// failures are handed to onErr if set, otherwise dropped.
type ExecutorObserver struct {
	tracker    *Tracker
	ctx        context.Context
	totalSteps int
	onErr      func(error)
}

// NewExecutorObserver builds an Observer bound to tr for a run of totalSteps
// steps. onErr may be nil.
func NewExecutorObserver(ctx context.Context, tr *Tracker, totalSteps int, onErr func(error)) *ExecutorObserver {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &ExecutorObserver{tracker: tr, ctx: ctx, totalSteps: totalSteps, onErr: onErr}
}

func (o *ExecutorObserver) OnStepStart(stepID string) {
	if err := o.tracker.StartStep(o.ctx, stepID, stepID); err != nil {
		o.onErr(err)
	}
}

func (o *ExecutorObserver) OnStepComplete(result pipeline.StepResult) {
	if err := o.tracker.CompleteStep(o.ctx, result); err != nil {
		o.onErr(err)
	}
}

func (o *ExecutorObserver) OnCheckpoint(current envelope.Envelope) {
	if err := o.tracker.CreateCheckpoint(o.ctx, current, o.totalSteps); err != nil {
		o.onErr(err)
	}
}

// Resume returns a Tracker bound to pipelineID's existing run_id if the
// persisted state is resumable.
func Resume(ctx context.Context, manager *state.Manager, pipelineID string) (*Tracker, error) {
	ok, err := CanResume(ctx, manager, pipelineID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tracker: pipeline %q is not resumable", pipelineID)
	}
	s, err := manager.Load(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	return &Tracker{manager: manager, pipelineID: pipelineID, runID: s.RunID, startedAt: s.StartedAt}, nil
}
