package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/history"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

var decideCmd = &cobra.Command{
	Use:   "decide <task-id> retry|skip|abort",
	Short: "Record a decision for an escalated task",
	Long: `Record how an escalated task should proceed. The decision is applied by
the next 'taskmaster resume'.

  retry  reset the task's attempt budget and try again
  skip   mark the task skipped and continue with the next one
  abort  keep the run paused; resume later to be asked again`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		taskID := args[0]
		decision, ok := models.ParseIntervention(args[1])
		if !ok {
			return fmt.Errorf("unknown decision %q (want retry, skip or abort)", args[1])
		}

		cfg, err := loadConfig(w)
		if err != nil {
			return err
		}
		store, st, err := readState(cfg)
		if err != nil {
			return err
		}
		if _, ok := st.Tasks[taskID]; !ok {
			return fmt.Errorf("task %q is not part of run %s", taskID, st.RunID)
		}
		if _, err := store.RecordIntervention(st, taskID, decision); err != nil {
			return err
		}

		lg, err := newLogger(cfg)
		if err == nil {
			defer lg.Close()
			rec, closeHistory := openHistory(cfg, lg.Logger)
			if err := rec.RecordEvent(&history.Event{
				RunID:     st.RunID,
				TaskID:    taskID,
				Kind:      history.EventIntervention,
				Detail:    string(decision) + " (recorded offline)",
				CreatedAt: time.Now(),
			}); err != nil {
				lg.Warn("recording decision in history failed", "error", err)
			}
			closeHistory()
		}

		printStatus(w, "✓", fmt.Sprintf("Recorded %s for %s", decision, taskID), color.FgGreen)
		fmt.Fprintln(w, "  Run 'taskmaster resume' to apply it.")
		return nil
	},
}
