// Package stage defines the uniform contract every pipeline stage (an "Oxi")
// must honour: identity, resource limits, input validation, schema propagation,
// and the core processing operation.
package stage

import (
	"context"
	"fmt"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/stageconfig"
)

// SchemaStrategyKind declares how a stage's output schema relates to its input.
type SchemaStrategyKind string

const (
	// SchemaPassthrough carries the input schema through unchanged.
	SchemaPassthrough SchemaStrategyKind = "passthrough"
	// SchemaModify means the stage supplies a transformed schema.
	SchemaModify SchemaStrategyKind = "modify"
	// SchemaInfer means the schema is re-inferred from the output payload.
	SchemaInfer SchemaStrategyKind = "infer"
)

// SchemaStrategy pairs a strategy kind with an optional human description, used
// when Kind == SchemaModify.
type SchemaStrategy struct {
	Kind        SchemaStrategyKind
	Description string
}

// ProcessingLimits bounds the resources a stage invocation may consume.
type ProcessingLimits struct {
	MaxBatchSize        int
	MaxMemoryMB         int
	MaxProcessingTimeMS int64
	SupportedInputTypes []envelope.Kind
}

// Stage is the uniform contract implemented by every concrete data-transformation
// unit selected by name from a pipeline declaration.
type Stage interface {
	// Name returns the stable identifier matching the YAML `name` field.
	Name() string
	// ConfigSchema returns an informational description of recognized config keys.
	ConfigSchema() envelope.Schema
	// ProcessingLimits returns the resource bounds enforced before Process runs.
	ProcessingLimits() ProcessingLimits
	// SchemaStrategyFor declares how this stage's output schema is derived.
	SchemaStrategyFor() SchemaStrategy
	// ValidateInput checks the envelope before Process is invoked. The default
	// behavior (embedded via BaseStage) accepts all inputs.
	ValidateInput(in envelope.Envelope) error
	// OutputSchema computes the schema attached to Process's return value.
	OutputSchema(inputSchema envelope.Schema, cfg stageconfig.Config) envelope.Schema
	// Process is the stage's core operation.
	Process(ctx context.Context, in envelope.Envelope, cfg stageconfig.Config) (envelope.Envelope, error)
}

// BaseStage supplies the protocol's documented defaults (accept any input,
// Passthrough schema strategy) for embedding in concrete stage implementations
// that only need to override Process and the identity/limits methods.
type BaseStage struct{}

func (BaseStage) ValidateInput(envelope.Envelope) error { return nil }

func (BaseStage) SchemaStrategyFor() SchemaStrategy {
	return SchemaStrategy{Kind: SchemaPassthrough}
}

func (BaseStage) OutputSchema(inputSchema envelope.Schema, _ stageconfig.Config) envelope.Schema {
	return inputSchema
}

// Failure taxonomy surfaced at the protocol boundary.

type ValidationError struct{ Details string }

func (e *ValidationError) Error() string { return fmt.Sprintf("validation error: %s", e.Details) }

type TypeMismatchError struct {
	Expected, Actual string
	Step             string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch in step %q: expected %s, got %s", e.Step, e.Expected, e.Actual)
}

type ConfigError struct{ Details string }

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Details) }

type MissingConfigError struct{ Key string }

func (e *MissingConfigError) Error() string { return fmt.Sprintf("missing config key %q", e.Key) }

type ExecutionError struct{ Details string }

func (e *ExecutionError) Error() string { return fmt.Sprintf("execution error: %s", e.Details) }

type UnsupportedInputTypeError struct {
	Kind     envelope.Kind
	Expected []envelope.Kind
}

func (e *UnsupportedInputTypeError) Error() string {
	return fmt.Sprintf("unsupported input type %q, expected one of %v", e.Kind, e.Expected)
}

type MemoryLimitExceededError struct{ LimitMB, ActualBytes int }

func (e *MemoryLimitExceededError) Error() string {
	return fmt.Sprintf("memory limit exceeded: %d bytes over %d MiB limit", e.ActualBytes, e.LimitMB)
}

type BatchSizeExceededError struct{ Limit, Actual int }

func (e *BatchSizeExceededError) Error() string {
	return fmt.Sprintf("batch size %d exceeds limit %d", e.Actual, e.Limit)
}

type ProcessingTimeoutError struct{ Step string }

func (e *ProcessingTimeoutError) Error() string {
	return fmt.Sprintf("processing timeout in step %q", e.Step)
}

type JSONOperationError struct{ Details string }

func (e *JSONOperationError) Error() string { return fmt.Sprintf("json operation error: %s", e.Details) }

type FormatIncompatibleError struct{ Details string }

func (e *FormatIncompatibleError) Error() string {
	return fmt.Sprintf("format incompatible: %s", e.Details)
}

type QueryError struct{ Details string }

func (e *QueryError) Error() string { return fmt.Sprintf("query error: %s", e.Details) }
