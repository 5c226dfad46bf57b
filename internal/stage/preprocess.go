package stage

import (
	"context"
	"time"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/stageconfig"
)

const bytesPerMiB = 1 << 20

// Run enforces the stage protocol's five-step pre-process contract and then
// invokes Process, attaching the declared output schema on success:
//  1. input variant must be in the stage's supported input types
//  2. estimated memory usage must not exceed max_memory_mb
//  3. a JSON array input must not exceed max_batch_size
//  4. ValidateInput must pass
//  5. the call is bounded by the supplied timeout, if any
func Run(ctx context.Context, s Stage, in envelope.Envelope, cfg stageconfig.Config, timeout time.Duration) (envelope.Envelope, error) {
	limits := s.ProcessingLimits()

	if len(limits.SupportedInputTypes) > 0 && !supportsKind(limits.SupportedInputTypes, in.Kind) {
		return envelope.Envelope{}, &UnsupportedInputTypeError{Kind: in.Kind, Expected: limits.SupportedInputTypes}
	}

	if limits.MaxMemoryMB > 0 {
		used := in.EstimatedMemoryUsage()
		if used > limits.MaxMemoryMB*bytesPerMiB {
			return envelope.Envelope{}, &MemoryLimitExceededError{LimitMB: limits.MaxMemoryMB, ActualBytes: used}
		}
	}

	if limits.MaxBatchSize > 0 && in.Kind == envelope.KindJSON {
		if arr, ok := in.JSON.([]any); ok && len(arr) > limits.MaxBatchSize {
			return envelope.Envelope{}, &BatchSizeExceededError{Limit: limits.MaxBatchSize, Actual: len(arr)}
		}
	}

	if err := s.ValidateInput(in); err != nil {
		return envelope.Envelope{}, err
	}

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	out, err := s.Process(runCtx, in, cfg)
	if err != nil {
		if runCtx.Err() != nil {
			return envelope.Envelope{}, &ProcessingTimeoutError{Step: s.Name()}
		}
		return envelope.Envelope{}, err
	}

	out.Schema = s.OutputSchema(in.Schema, cfg)
	return out, nil
}

func supportsKind(kinds []envelope.Kind, k envelope.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
