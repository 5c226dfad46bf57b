package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oxisdev/oxis/internal/config"
	"github.com/oxisdev/oxis/internal/event"
	"github.com/oxisdev/oxis/internal/logging"
	"github.com/oxisdev/oxis/internal/pathfmt"
	"github.com/oxisdev/oxis/internal/pipeline"
	"github.com/oxisdev/oxis/internal/state"
	"github.com/oxisdev/oxis/internal/tracker"
)

type RunOptions struct {
	Declaration string
	PipelineID  string
	Output      OutputConfig
}

func NewRunCmd() *cobra.Command {
	var opts RunOptions

	cmd := &cobra.Command{
		Use:   "run [declaration]",
		Short: "Run a pipeline declaration",
		Long: `Load a YAML pipeline declaration and execute its steps in order,
resolving ${VAR} and ${stage.field} references before each step runs and
checkpointing progress to durable state as it goes.`,
		Example: `  oxis run pipeline.yaml
  oxis run --pipeline-id nightly-etl pipeline.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Declaration = args[0]
			opts.Output = GetOutputConfig(cmd)
			if err := ValidateOutputFormat(opts.Output.Format); err != nil {
				return err
			}
			cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")
			return runRun(opts, cfgFile)
		},
	}

	cmd.Flags().StringVar(&opts.PipelineID, "pipeline-id", "", "Pipeline id to track state under (defaults to the declaration's metadata name, else its file base name)")

	return cmd
}

func runRun(opts RunOptions, cfgFile string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, HumanReadable: opts.Output.Format != OutputFormatJSON})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	decl, err := pipeline.LoadFile(opts.Declaration)
	if err != nil {
		return err
	}

	if abs, err := filepath.Abs(opts.Declaration); err == nil {
		logger.Sugar().Infow("loaded pipeline declaration", "path", pathfmt.FileURI(abs))
	}

	pipelineID := opts.PipelineID
	if pipelineID == "" {
		pipelineID = declarationName(opts.Declaration, decl)
	}

	backend, err := state.NewBackend(state.BackendConfig{
		Kind:          state.BackendKind(cfg.StateBackend),
		BasePath:      cfg.StateBasePath,
		Format:        state.SerializationFormat(cfg.StateFormat),
		AtomicWrites:  cfg.StateAtomicWrites,
		LockTimeoutMS: cfg.StateLockTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("initializing state backend: %w", err)
	}

	manager := state.NewManager(backend, state.ManagerConfig{
		WorkerID:             cfg.WorkerID,
		DefaultLockTimeoutMS: cfg.StateLockTimeoutMS,
		HeartbeatIntervalMS:  cfg.HeartbeatIntervalMS,
		MaxRetries:           cfg.MaxRetries,
		CleanupIntervalHours: cfg.CleanupIntervalHours,
		MaxStateAgeHours:     cfg.MaxStateAgeHours,
	})
	tr, err := tracker.New(ctx, manager, pipelineID, decl)
	if err != nil {
		return fmt.Errorf("initializing run state: %w", err)
	}

	heartbeat := manager.StartHeartbeat(ctx, pipelineID)
	defer heartbeat.Stop()

	emitter := NewEmitter(opts.Output)
	var stepErr error
	observer := tracker.NewExecutorObserver(ctx, tr, len(decl.Pipeline), func(err error) { stepErr = err })

	registry := pipeline.NewRegistry()
	executor := pipeline.NewExecutor(registry, nil, &emittingObserver{inner: observer, emitter: emitter, pipelineID: tr.RunID()})

	start := time.Now()
	emitter.Emit(event.Event{Timestamp: start, PipelineID: tr.RunID(), State: event.StateStarted, Message: fmt.Sprintf("running %s", pipelineID)})

	result, err := executor.Run(ctx, decl)
	if err != nil {
		return fmt.Errorf("pipeline execution failed: %w", err)
	}
	if stepErr != nil {
		logger.Sugar().Warnw("state tracking error during run", "error", stepErr)
	}

	if err := tr.CompletePipeline(ctx, result); err != nil {
		logger.Sugar().Warnw("failed to persist final pipeline status", "error", err)
	}

	elapsed := time.Since(start)
	finalState := event.StateCompleted
	if !result.Success {
		finalState = event.StateFailed
	}
	emitter.Emit(event.Event{
		Timestamp:        time.Now(),
		PipelineID:       tr.RunID(),
		State:            finalState,
		DurationMs:       elapsed.Milliseconds(),
		Message:          fmt.Sprintf("%d executed, %d failed, %d skipped", result.StepsExecuted, result.StepsFailed, result.StepsSkipped),
		RecordsProcessed: uint64(result.StepsExecuted),
	})

	if !result.Success {
		return fmt.Errorf("pipeline %q failed: %d of %d steps failed", pipelineID, result.StepsFailed, len(decl.Pipeline))
	}
	return nil
}

func declarationName(path string, decl *pipeline.Declaration) string {
	if decl.Metadata != nil && decl.Metadata.Name != "" {
		return decl.Metadata.Name
	}
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
