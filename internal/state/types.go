// Package state implements the persistent pipeline state subsystem: the data
// types, the file and in-memory backends, and the high-level manager façade
// described by the engine's state model.
package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PipelineStatusKind enumerates the overall lifecycle phase of a pipeline run.
type PipelineStatusKind string

const (
	PipelinePending   PipelineStatusKind = "pending"
	PipelineRunning   PipelineStatusKind = "running"
	PipelineCompleted PipelineStatusKind = "completed"
	PipelineFailed    PipelineStatusKind = "failed"
	PipelinePaused    PipelineStatusKind = "paused"
)

// PipelineStatus is a tagged status value; only the fields relevant to Kind are
// meaningful.
type PipelineStatus struct {
	Kind        PipelineStatusKind `json:"kind" yaml:"kind"`
	StartedAt   time.Time          `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt time.Time          `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	FailedAt    time.Time          `json:"failed_at,omitempty" yaml:"failed_at,omitempty"`
	PausedAt    time.Time          `json:"paused_at,omitempty" yaml:"paused_at,omitempty"`
	Error       string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// StepStatusKind enumerates the lifecycle phase of a single step's state.
type StepStatusKind string

const (
	StepPending   StepStatusKind = "pending"
	StepRunning   StepStatusKind = "running"
	StepCompleted StepStatusKind = "completed"
	StepFailed    StepStatusKind = "failed"
	StepSkipped   StepStatusKind = "skipped"
)

// StepStatus is a tagged status value for an individual step.
type StepStatus struct {
	Kind        StepStatusKind `json:"kind" yaml:"kind"`
	StartedAt   time.Time      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	FailedAt    time.Time      `json:"failed_at,omitempty" yaml:"failed_at,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Reason      string         `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ErrorKind classifies an error record by its origin.
type ErrorKind string

const (
	ErrorConfiguration ErrorKind = "configuration"
	ErrorNetwork       ErrorKind = "network"
	ErrorProcessing    ErrorKind = "processing"
	ErrorResource      ErrorKind = "resource"
	ErrorUnknown       ErrorKind = "unknown"
)

// ErrorRecord is an append-only entry in a pipeline's error history.
type ErrorRecord struct {
	ErrorID    string    `json:"error_id" yaml:"error_id"`
	StepID     string    `json:"step_id,omitempty" yaml:"step_id,omitempty"` // empty for pipeline-level errors
	Kind       ErrorKind `json:"kind" yaml:"kind"`
	Message    string    `json:"message" yaml:"message"`
	Context    string    `json:"context" yaml:"context"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Retryable  bool      `json:"retryable" yaml:"retryable"`
	StackTrace string    `json:"stack_trace,omitempty" yaml:"stack_trace,omitempty"`
}

// NewErrorRecord creates an error record with a generated id and the current
// timestamp.
func NewErrorRecord(stepID string, kind ErrorKind, message, context string, retryable bool) ErrorRecord {
	return ErrorRecord{
		ErrorID:   uuid.NewString(),
		StepID:    stepID,
		Kind:      kind,
		Message:   message,
		Context:   context,
		Timestamp: time.Now().UTC(),
		Retryable: retryable,
	}
}

// ConfigError builds a pipeline-level (no step) configuration error record.
func ConfigError(message, context string) ErrorRecord {
	return NewErrorRecord("", ErrorConfiguration, message, context, false)
}

// ProcessingError builds a step-level processing error record.
func ProcessingError(stepID, message, context string, retryable bool) ErrorRecord {
	return NewErrorRecord(stepID, ErrorProcessing, message, context, retryable)
}

// NetworkError builds a step-level, always-retryable network error record.
func NetworkError(stepID, message, context string) ErrorRecord {
	return NewErrorRecord(stepID, ErrorNetwork, message, context, true)
}

// StepState tracks the execution state of one pipeline step.
type StepState struct {
	StepID           string     `json:"step_id" yaml:"step_id"`
	StepName         string     `json:"step_name" yaml:"step_name"`
	Status           StepStatus `json:"status" yaml:"status"`
	LastProcessedID  string     `json:"last_processed_id,omitempty" yaml:"last_processed_id,omitempty"`
	RecordsProcessed uint64     `json:"records_processed" yaml:"records_processed"`
	ProcessingTimeMS uint64     `json:"processing_time_ms" yaml:"processing_time_ms"`
	WorkerID         string     `json:"worker_id,omitempty" yaml:"worker_id,omitempty"`
	LastHeartbeat    time.Time  `json:"last_heartbeat" yaml:"last_heartbeat"`
	RetryCount       uint64     `json:"retry_count" yaml:"retry_count"`
	ErrorCount       uint64     `json:"error_count" yaml:"error_count"`
	ConfigHash       string     `json:"config_hash,omitempty" yaml:"config_hash,omitempty"`
}

// NewStepState creates a pending step state.
func NewStepState(stepID, stepName string) StepState {
	now := time.Now().UTC()
	return StepState{
		StepID:        stepID,
		StepName:      stepName,
		Status:        StepStatus{Kind: StepPending},
		LastHeartbeat: now,
	}
}

func (s *StepState) Start() {
	now := time.Now().UTC()
	s.Status = StepStatus{Kind: StepRunning, StartedAt: now}
	s.LastHeartbeat = now
}

func (s *StepState) Complete() {
	now := time.Now().UTC()
	s.Status = StepStatus{Kind: StepCompleted, CompletedAt: now}
	s.LastHeartbeat = now
}

func (s *StepState) Fail(errMsg string) {
	now := time.Now().UTC()
	s.Status = StepStatus{Kind: StepFailed, Error: errMsg, FailedAt: now}
	s.ErrorCount++
	s.LastHeartbeat = now
}

func (s *StepState) IsRunning() bool   { return s.Status.Kind == StepRunning }
func (s *StepState) IsCompleted() bool { return s.Status.Kind == StepCompleted }
func (s *StepState) IsFailed() bool    { return s.Status.Kind == StepFailed }

// Metadata carries identifying and bookkeeping information about the state
// document itself, distinct from pipeline execution progress.
type Metadata struct {
	CreatedAt        time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" yaml:"updated_at"`
	SchemaVersion    string            `json:"schema_version" yaml:"schema_version"`
	StateBackend     string            `json:"state_backend" yaml:"state_backend"`
	CheckpointCount  uint64            `json:"checkpoint_count" yaml:"checkpoint_count"`
	LastCheckpointAt time.Time         `json:"last_checkpoint_at" yaml:"last_checkpoint_at"`
	PipelineName     string            `json:"pipeline_name,omitempty" yaml:"pipeline_name,omitempty"`
	PipelineVersion  string            `json:"pipeline_version,omitempty" yaml:"pipeline_version,omitempty"`
	Environment      string            `json:"environment,omitempty" yaml:"environment,omitempty"`
	Tags             map[string]string `json:"tags" yaml:"tags"`
}

const currentSchemaVersion = "1.0.0"

// PipelineState is the full persistent record of one pipeline run.
type PipelineState struct {
	PipelineID string `json:"pipeline_id" yaml:"pipeline_id"`
	RunID      string `json:"run_id" yaml:"run_id"`
	Version    uint64 `json:"version" yaml:"version"`

	LastProcessedID   string `json:"last_processed_id,omitempty" yaml:"last_processed_id,omitempty"`
	BatchNumber       uint64 `json:"batch_number" yaml:"batch_number"`
	RecordsProcessed  uint64 `json:"records_processed" yaml:"records_processed"`
	RecordsFailed     uint64 `json:"records_failed" yaml:"records_failed"`
	DataSizeProcessed uint64 `json:"data_size_processed" yaml:"data_size_processed"`

	CurrentStep string               `json:"current_step,omitempty" yaml:"current_step,omitempty"`
	StepStates  map[string]StepState `json:"step_states" yaml:"step_states"`
	Status      PipelineStatus       `json:"status" yaml:"status"`

	StartedAt            time.Time  `json:"started_at" yaml:"started_at"`
	LastSuccessTimestamp time.Time  `json:"last_success_timestamp" yaml:"last_success_timestamp"`
	EstimatedCompletion  *time.Time `json:"estimated_completion,omitempty" yaml:"estimated_completion,omitempty"`

	Errors     []ErrorRecord `json:"errors" yaml:"errors"`
	RetryCount uint64        `json:"retry_count" yaml:"retry_count"`

	WorkerID      string    `json:"worker_id,omitempty" yaml:"worker_id,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat" yaml:"last_heartbeat"`

	Metadata Metadata `json:"metadata" yaml:"metadata"`
}

// New creates a fresh pipeline state with version 1, status Pending.
func New(pipelineID, runID string) *PipelineState {
	now := time.Now().UTC()
	return &PipelineState{
		PipelineID:           pipelineID,
		RunID:                runID,
		Version:              1,
		StepStates:           make(map[string]StepState),
		Status:               PipelineStatus{Kind: PipelinePending},
		StartedAt:            now,
		LastSuccessTimestamp: now,
		LastHeartbeat:        now,
		Metadata: Metadata{
			CreatedAt:     now,
			UpdatedAt:     now,
			SchemaVersion: currentSchemaVersion,
			StateBackend:  "file",
			Tags:          make(map[string]string),
		},
	}
}

// IncrementVersion bumps the optimistic-concurrency version and refreshes
// UpdatedAt. Every mutator below calls this, satisfying invariant I1.
func (p *PipelineState) IncrementVersion() {
	p.Version++
	p.Metadata.UpdatedAt = time.Now().UTC()
}

func (p *PipelineState) AddError(e ErrorRecord) {
	p.Errors = append(p.Errors, e)
	p.IncrementVersion()
}

func (p *PipelineState) UpdateHeartbeat() {
	p.LastHeartbeat = time.Now().UTC()
	p.IncrementVersion()
}

// IsStale reports whether the pipeline has not heartbeated within threshold.
func (p *PipelineState) IsStale(thresholdMS int64) bool {
	return time.Since(p.LastHeartbeat) > time.Duration(thresholdMS)*time.Millisecond
}

// DurationMS returns elapsed time since the run started.
func (p *PipelineState) DurationMS() int64 {
	return time.Since(p.StartedAt).Milliseconds()
}

// Validate checks the invariants described in the state model (§3 I1-I6 plus
// timestamp ordering). It returns the full list of violations, nil if valid.
func (p *PipelineState) Validate() []string {
	var errs []string

	if p.PipelineID == "" {
		errs = append(errs, "pipeline ID cannot be empty")
	}
	if p.RunID == "" {
		errs = append(errs, "run ID cannot be empty")
	}
	if p.Version == 0 {
		errs = append(errs, "version must be greater than 0")
	}

	now := time.Now().UTC()
	switch p.Status.Kind {
	case PipelineRunning:
		if p.Status.StartedAt.After(now) {
			errs = append(errs, "pipeline start time cannot be in the future")
		}
		if p.CurrentStep == "" {
			errs = append(errs, "running pipeline must have a current step")
		}
	case PipelineCompleted:
		if p.Status.CompletedAt.Before(p.StartedAt) {
			errs = append(errs, "completion time cannot be before start time")
		}
		if p.Status.CompletedAt.After(now) {
			errs = append(errs, "completion time cannot be in the future")
		}
	case PipelineFailed:
		if p.Status.FailedAt.Before(p.StartedAt) {
			errs = append(errs, "failure time cannot be before start time")
		}
		if p.Status.FailedAt.After(now) {
			errs = append(errs, "failure time cannot be in the future")
		}
	}

	for stepID, st := range p.StepStates {
		if st.StepID != stepID {
			errs = append(errs, fmt.Sprintf("step ID mismatch: key %q vs state %q", stepID, st.StepID))
		}
		switch st.Status.Kind {
		case StepCompleted:
			if st.RecordsProcessed == 0 && st.ProcessingTimeMS == 0 {
				errs = append(errs, fmt.Sprintf("completed step %q should have processing metrics", stepID))
			}
			if st.Status.CompletedAt.After(now) {
				errs = append(errs, fmt.Sprintf("step %q completion time cannot be in the future", stepID))
			}
		case StepFailed:
			if st.Status.FailedAt.After(now) {
				errs = append(errs, fmt.Sprintf("step %q failure time cannot be in the future", stepID))
			}
		}
	}

	var stepTotal uint64
	for _, st := range p.StepStates {
		stepTotal += st.RecordsProcessed
	}
	if stepTotal > 0 && p.RecordsProcessed == 0 {
		errs = append(errs, "total records processed should reflect step totals")
	}

	if p.LastSuccessTimestamp.Before(p.StartedAt) {
		errs = append(errs, "last success timestamp cannot be before start time")
	}
	if p.LastHeartbeat.Before(p.StartedAt) {
		errs = append(errs, "last heartbeat cannot be before start time")
	}

	for idx, e := range p.Errors {
		if e.Timestamp.Before(p.StartedAt) {
			errs = append(errs, fmt.Sprintf("error %d timestamp cannot be before pipeline start", idx))
		}
		if e.Message == "" {
			errs = append(errs, fmt.Sprintf("error %d message cannot be empty", idx))
		}
	}

	return errs
}

// IsCorrupted is the backend's quick triage check: empty identity fields, a
// zero version, or any validation failure.
func (p *PipelineState) IsCorrupted() bool {
	return p.PipelineID == "" || p.RunID == "" || p.Version == 0 || len(p.Validate()) > 0
}

// LockRecord is the content written to a pipeline's advisory lock file.
type LockRecord struct {
	PipelineID  string     `json:"pipeline_id"`
	WorkerID    string     `json:"worker_id"`
	LockedAt    time.Time  `json:"locked_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LockVersion uint64     `json:"lock_version"`
}
