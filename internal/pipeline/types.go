// Package pipeline implements the declaration loader, the sequential
// executor, and the result types that make up a pipeline run.
package pipeline

import (
	"time"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/stageconfig"
)

// Step is one entry in a pipeline declaration's ordered step list.
type Step struct {
	Name            string             `yaml:"name"`
	ID              string             `yaml:"id,omitempty"`
	Config          stageconfig.Config `yaml:"config,omitempty"`
	ContinueOnError bool               `yaml:"continue_on_error,omitempty"`
	RetryAttempts   uint32             `yaml:"retry_attempts,omitempty"`
	TimeoutSeconds  *uint64            `yaml:"timeout_seconds,omitempty"`
}

// StepID returns ID if set, else Name — the id defaults to the stage name.
func (s Step) StepID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// Metadata is optional pipeline-level descriptive information.
type Metadata struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Version     string `yaml:"version,omitempty"`
	Author      string `yaml:"author,omitempty"`
}

// Declaration is the full parsed YAML document describing a pipeline run.
type Declaration struct {
	Pipeline []Step    `yaml:"pipeline"`
	Metadata *Metadata `yaml:"metadata,omitempty"`
}

// StepResult records one step's outcome within a PipelineResult.
type StepResult struct {
	StepID      string
	Name        string
	Success     bool
	Skipped     bool
	RetryCount  uint32
	DurationMS  int64
	Error       string
	Output      *envelope.Envelope
}

// PipelineResult is the aggregate outcome of running a Declaration.
type PipelineResult struct {
	Success        bool
	StepsExecuted  int
	StepsFailed    int
	StepsSkipped   int
	TotalDurationMS int64
	StepResults    []StepResult
	FinalEnvelope  *envelope.Envelope
}

// Elapsed returns the wall-clock duration since start, in milliseconds.
func Elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
