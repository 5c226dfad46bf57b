package stage_test

import (
	"context"
	"time"

	"github.com/oxisdev/oxis/internal/envelope"
	"github.com/oxisdev/oxis/internal/stage"
	"github.com/oxisdev/oxis/internal/stageconfig"
)

// passthroughStage is a minimal Stage used only by this package's tests.
type passthroughStage struct {
	stage.BaseStage
	limits    stage.ProcessingLimits
	delay     time.Duration
	failWith  error
	transform func(envelope.Envelope) envelope.Envelope
}

func (s *passthroughStage) Name() string                       { return "passthrough" }
func (s *passthroughStage) ConfigSchema() envelope.Schema       { return envelope.NewSchema() }
func (s *passthroughStage) ProcessingLimits() stage.ProcessingLimits { return s.limits }

func (s *passthroughStage) Process(ctx context.Context, in envelope.Envelope, _ stageconfig.Config) (envelope.Envelope, error) {
	if s.failWith != nil {
		return envelope.Envelope{}, s.failWith
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return envelope.Envelope{}, ctx.Err()
		}
	}
	if s.transform != nil {
		return s.transform(in), nil
	}
	return in, nil
}
