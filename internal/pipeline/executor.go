package pipeline

import (
	"context"
	"time"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/resolver"
	"github.com/oxisdev/oxis/internal/stage"
	"github.com/oxisdev/oxis/internal/stageconfig"
)

// Observer receives lifecycle callbacks as the executor runs a declaration.
// Implementations (the progress tracker, in the common case) must not block
// the executor; heavy work should be dispatched elsewhere.
type Observer interface {
	OnStepStart(stepID string)
	OnStepComplete(result StepResult)
	OnCheckpoint(current envelope.Envelope)
}

// NoopObserver satisfies Observer by doing nothing, for runs with no tracker.
type NoopObserver struct{}

func (NoopObserver) OnStepStart(string)              {}
func (NoopObserver) OnStepComplete(StepResult)        {}
func (NoopObserver) OnCheckpoint(envelope.Envelope)   {}

// Executor runs a Declaration strictly sequentially, threading a single
// envelope through the declared step order.
type Executor struct {
	registry *Registry
	resolver *resolver.Resolver
	observer Observer
}

// NewExecutor builds an executor over the given stage registry. If res is
// nil, a default resolver (pre-seeded with common env vars) is used. If obs
// is nil, a no-op observer is used.
func NewExecutor(registry *Registry, res *resolver.Resolver, obs Observer) *Executor {
	if res == nil {
		res = resolver.NewDefault()
	}
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Executor{registry: registry, resolver: res, observer: obs}
}

// Run executes every step of decl in order, returning the aggregate result.
// It never returns a non-nil error for step-level failures — those are
// represented in the returned PipelineResult; a non-nil error indicates a
// problem with the run itself (e.g. a cancelled context before any step ran).
func (e *Executor) Run(ctx context.Context, decl *Declaration) (*PipelineResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	current := envelope.Empty()
	result := &PipelineResult{}

	abort := false
	for _, step := range decl.Pipeline {
		stepID := step.StepID()

		if abort {
			result.StepsSkipped++
			result.StepResults = append(result.StepResults, StepResult{StepID: stepID, Name: step.Name, Skipped: true})
			continue
		}

		e.observer.OnStepStart(stepID)
		sr, out, err := e.runStep(ctx, step, current)
		e.observer.OnStepComplete(sr)

		if err == nil {
			current = out
			e.resolver.AddStepOutput(stepID, current)
			result.StepsExecuted++
			result.StepResults = append(result.StepResults, sr)
			e.observer.OnCheckpoint(current)
			continue
		}

		result.StepsFailed++
		result.StepResults = append(result.StepResults, sr)

		if step.ContinueOnError {
			continue
		}

		abort = true
	}

	result.Success = result.StepsFailed == 0
	result.TotalDurationMS = time.Since(start).Milliseconds()
	if result.Success {
		result.FinalEnvelope = &current
	}
	return result, nil
}

// runStep builds the step's resolved configuration, resolves its stage
// implementation, and drives the retry loop. It never returns a transport
// error for a failed step; the failure is encoded in the returned StepResult
// and surfaced as err so the caller can apply the continue-or-abort policy.
func (e *Executor) runStep(ctx context.Context, step Step, input envelope.Envelope) (StepResult, envelope.Envelope, error) {
	stepID := step.StepID()

	resolvedCfg, err := e.resolveConfig(step.Config)
	if err != nil {
		cfgErr := &ConfigError{StepID: stepID, Err: err}
		return StepResult{StepID: stepID, Name: step.Name, Success: false, Error: cfgErr.Error()}, envelope.Envelope{}, cfgErr
	}

	impl, err := e.registry.Resolve(step.Name)
	if err != nil {
		return StepResult{StepID: stepID, Name: step.Name, Success: false, Error: err.Error()}, envelope.Envelope{}, err
	}

	var timeout time.Duration
	if step.TimeoutSeconds != nil {
		timeout = time.Duration(*step.TimeoutSeconds) * time.Second
	}

	maxAttempts := int(step.RetryAttempts) + 1
	var lastErr error
	var out envelope.Envelope
	var attemptDuration int64
	var retryCount uint32

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			retryCount++
			time.Sleep(time.Duration(1000*attempt) * time.Millisecond)
		}

		attemptStart := time.Now()
		out, lastErr = stage.Run(ctx, impl, input, resolvedCfg, timeout)
		attemptDuration = time.Since(attemptStart).Milliseconds()

		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		stepErr := &StepError{StepID: stepID, Err: lastErr}
		return StepResult{
			StepID:     stepID,
			Name:       step.Name,
			Success:    false,
			RetryCount: retryCount,
			DurationMS: attemptDuration,
			Error:      stepErr.Error(),
		}, envelope.Envelope{}, stepErr
	}

	return StepResult{
		StepID:     stepID,
		Name:       step.Name,
		Success:    true,
		RetryCount: retryCount,
		DurationMS: attemptDuration,
		Output:     &out,
	}, out, nil
}

// resolveConfig runs every leaf of a step's configuration mapping through the
// resolver, returning a fresh stageconfig.Config.
func (e *Executor) resolveConfig(cfg stageconfig.Config) (stageconfig.Config, error) {
	if cfg == nil {
		return stageconfig.Config{}, nil
	}
	resolved, err := e.resolver.ResolveValue(map[string]any(cfg))
	if err != nil {
		return nil, err
	}
	m, _ := resolved.(map[string]any)
	return stageconfig.Config(m), nil
}
