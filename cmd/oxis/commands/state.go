package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oxisdev/oxis/internal/config"
	"github.com/oxisdev/oxis/internal/state"
)

// NewStateCmd builds the "oxis state" command group, for inspecting and
// maintaining the persisted run state independently of a pipeline run.
func NewStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and maintain persisted pipeline state",
	}
	cmd.AddCommand(newStateListCmd())
	cmd.AddCommand(newStateShowCmd())
	cmd.AddCommand(newStateCleanupCmd())
	return cmd
}

func newManagerFromConfig(cmd *cobra.Command) (*state.Manager, error) {
	cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	backend, err := state.NewBackend(state.BackendConfig{
		Kind:          state.BackendKind(cfg.StateBackend),
		BasePath:      cfg.StateBasePath,
		Format:        state.SerializationFormat(cfg.StateFormat),
		AtomicWrites:  cfg.StateAtomicWrites,
		LockTimeoutMS: cfg.StateLockTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing state backend: %w", err)
	}
	return state.NewManager(backend, state.ManagerConfig{
		WorkerID:             cfg.WorkerID,
		DefaultLockTimeoutMS: cfg.StateLockTimeoutMS,
		HeartbeatIntervalMS:  cfg.HeartbeatIntervalMS,
		MaxRetries:           cfg.MaxRetries,
		CleanupIntervalHours: cfg.CleanupIntervalHours,
		MaxStateAgeHours:     cfg.MaxStateAgeHours,
	}), nil
}

func newStateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked pipeline ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManagerFromConfig(cmd)
			if err != nil {
				return err
			}
			ids, err := m.ListPipelines(context.Background())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newStateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [pipeline-id]",
		Short: "Print a pipeline's persisted state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManagerFromConfig(cmd)
			if err != nil {
				return err
			}
			s, err := m.Load(context.Background(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}
}

func newStateCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove pipeline state older than the configured max age",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManagerFromConfig(cmd)
			if err != nil {
				return err
			}
			result, err := m.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d state document(s), cleared %d stale lock(s), removed %d backup(s)\n", result.StatesRemoved, result.ExpiredLocksCleared, result.BackupsRemoved)
			return nil
		},
	}
}
