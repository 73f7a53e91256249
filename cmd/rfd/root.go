package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevelFlag string
	jsonFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "rfd",
	Short: "Retain-Focus-Delete multi-agent orchestrator",
	Long: `rfd breaks a goal into sub-tasks, runs each one in a fresh, single-use
worker agent, and merges the results into one answer.

Each worker sees only its own objective, the shared context, and the outputs
of the sub-tasks it depends on. Workers are deleted as soon as they finish.

Configuration is read from ~/.config/rfd/config.yaml, then .rfd.yaml in the
current directory or a parent, then RFD_* environment variables. A .env file
in the working directory is loaded first.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print machine-readable JSON instead of formatted output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(forkCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
