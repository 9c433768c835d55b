package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantor/scheduler/cmd/schedulerd/commands"
	"github.com/quantor/scheduler/logger"
)

var rootCmd = &cobra.Command{
	Use:   "schedulerd",
	Short: "Job dispatch scheduler daemon",
	Long: `schedulerd - scheduled job dispatch over a message broker.

The daemon creates jobs from periodic definitions, publishes them to a
worker pool through the broker, records worker outcomes, and retries
jobs that were never acknowledged within their deadline.

Available commands:
  serve   - Run the scheduler daemon
  jobs    - Inspect the job store
  version - Show version information

Examples:
  schedulerd serve                     # Run with defaults
  schedulerd serve --config sched.yaml # Run with a config file
  schedulerd jobs ls                   # List recent jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
