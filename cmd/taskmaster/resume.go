package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/state"
)

var (
	resumeProvider string
	resumeDryRun   bool
	resumeNoPrompt bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the saved run",
	Long: `Continue the run recorded in the state directory using the task file it
was started with. Completed tasks are never re-run.

A run paused for escalation applies the decision recorded with
'taskmaster decide', or asks again when none was recorded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		cfg, err := loadConfig(w)
		if err != nil {
			return err
		}
		_, st, err := readState(cfg)
		if errors.Is(err, state.ErrNotFound) {
			fmt.Fprintln(w, "No saved run. Run 'taskmaster run <task-file>' to start.")
			return nil
		}
		if err != nil {
			return err
		}
		if st.Status == state.RunCompleted {
			printStatus(w, "✓", fmt.Sprintf("Run %s already completed", st.RunID), color.FgGreen)
			return nil
		}
		fmt.Fprintf(w, "Resuming run %s (%s) from %s\n", st.RunID, st.Status, st.TaskFile)
		return execute(cmd.Context(), w, st.TaskFile, runOptions{
			provider: resumeProvider,
			dryRun:   resumeDryRun,
			noPrompt: resumeNoPrompt,
		})
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeProvider, "provider", "", "Provider to use (overrides active_provider)")
	resumeCmd.Flags().BoolVar(&resumeDryRun, "dry-run", false, "Run hooks and the agent but do not apply edits")
	resumeCmd.Flags().BoolVar(&resumeNoPrompt, "no-prompt", false, "Pause on escalation instead of asking")
}
