package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/config"
	"github.com/ShayCichocki/taskmaster/internal/runner"
	"github.com/ShayCichocki/taskmaster/internal/state"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

var (
	flagConfig    string
	flagVerbose   bool
	flagLogFormat string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "taskmaster",
	Short: "Drive a task list to completion with a code-generation agent",
	Long: `taskmaster runs the tasks of a task file one at a time. Each attempt runs
the task's pre-hooks, asks the configured agent for changes, applies them and
validates the result with the task's post-hooks.

Failed attempts are retried with the failure as context. Tasks that keep
failing are escalated to you. Every transition is saved under the state
directory, so an interrupted or paused run continues with 'taskmaster resume'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a code describing the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors onto process exit codes. Configuration problems and
// unusable state are 2; any other failure is 1.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, runner.ErrConfiguration),
		errors.Is(err, runner.ErrStateCorrupted),
		errors.Is(err, state.ErrStateMismatch),
		errors.Is(err, config.ErrInvalidConfig):
		return exitConfigError
	default:
		return exitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: user and project config search)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: text or json (overrides log.format)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error (overrides log.level)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
