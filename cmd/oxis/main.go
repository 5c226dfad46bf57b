package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oxisdev/oxis/cmd/oxis/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "oxis",
	Short: "Oxis declarative data pipeline engine",
	Long: `Oxis runs declarative, YAML-defined data transformation pipelines.

Each pipeline is a sequence of named steps; each step feeds a typed
data envelope through a registered stage, with schema propagation,
retries, and checkpointed state tracked across the run.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

func init() {
	rootCmd.SetVersionTemplate("oxis version {{.Version}}\n")

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringP("output", "o", "auto", "Output format: auto, json, quiet")

	rootCmd.AddCommand(commands.NewRunCmd())
	rootCmd.AddCommand(commands.NewStateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
