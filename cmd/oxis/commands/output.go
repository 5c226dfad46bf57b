package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oxisdev/oxis/internal/event"
)

// Output format constants.
const (
	OutputFormatAuto  = "auto"
	OutputFormatJSON  = "json"
	OutputFormatQuiet = "quiet"
)

// OutputConfig holds the resolved output configuration from CLI flags.
type OutputConfig struct {
	Format string
}

// GetOutputConfig reads the -o/--output persistent flag from the command.
func GetOutputConfig(cmd *cobra.Command) OutputConfig {
	format, _ := cmd.Root().PersistentFlags().GetString("output")
	return OutputConfig{Format: format}
}

// ValidateOutputFormat checks that the output format is one this build knows.
func ValidateOutputFormat(format string) error {
	switch format {
	case OutputFormatAuto, OutputFormatJSON, OutputFormatQuiet:
		return nil
	default:
		return fmt.Errorf("invalid output format %q: must be auto, json, or quiet", format)
	}
}

// NewEmitter builds the event emitter matching the requested output format.
//
// Modes:
//   - json:  NDJSON to stdout, no human-readable line
//   - quiet: no output at all
//   - auto:  NDJSON to stdout plus a colorized human-readable line to stderr
func NewEmitter(cfg OutputConfig) event.EventEmitter {
	switch cfg.Format {
	case OutputFormatJSON:
		return event.NewNDJSONEmitter()
	case OutputFormatQuiet:
		return &noopEmitter{}
	default:
		return event.NewNDJSONEmitterWithHumanReadable()
	}
}

type noopEmitter struct{}

func (*noopEmitter) Emit(event.Event) {}
