// Package logging builds the engine's structured logger: zap, configured for
// either human-readable console output or JSON, with credential-shaped
// substrings scrubbed from every field and message before they reach a sink.
package logging

import (
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var credentialPatterns = []string{
	`API[_-]?KEY`,
	`TOKEN`,
	`SECRET`,
	`PASSWORD`,
	`CREDENTIAL`,
	`AUTH`,
	`PRIVATE[_-]?KEY`,
	`ACCESS[_-]?KEY`,
}

var credentialRegex = regexp.MustCompile(`(?i)(` + strings.Join(credentialPatterns, `|`) + `)[=:]?\s*[\w\-]+`)

func scrub(s string) string {
	return credentialRegex.ReplaceAllString(s, "[REDACTED]")
}

// scrubbingCore wraps a zapcore.Core, redacting credential-shaped substrings
// from the log message and any string-valued field before the entry reaches
// the wrapped core.
type scrubbingCore struct {
	zapcore.Core
}

func newScrubbingCore(core zapcore.Core) zapcore.Core {
	return &scrubbingCore{Core: core}
}

func (c *scrubbingCore) With(fields []zapcore.Field) zapcore.Core {
	return &scrubbingCore{Core: c.Core.With(scrubFields(fields))}
}

func (c *scrubbingCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *scrubbingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = scrub(entry.Message)
	return c.Core.Write(entry, scrubFields(fields))
}

func scrubFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = scrub(f.String)
		}
		out[i] = f
	}
	return out
}

// Config selects the logger's verbosity and rendering.
type Config struct {
	Level         string // debug, info, warn, error
	HumanReadable bool   // console encoder vs JSON
}

// New builds a zap.Logger per cfg, wrapped in the credential-scrubbing core.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var encoder zapcore.Encoder
	if cfg.HumanReadable {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
	return zap.New(newScrubbingCore(core)), nil
}

// PipelineFields builds the common identifying fields attached to every log
// line emitted during a pipeline run.
func PipelineFields(pipelineID, stepID string) []zap.Field {
	fields := []zap.Field{zap.String("pipeline_id", pipelineID)}
	if stepID != "" {
		fields = append(fields, zap.String("step_id", stepID))
	}
	return fields
}
