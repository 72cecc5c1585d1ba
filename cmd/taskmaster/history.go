package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/history"
	"github.com/ShayCichocki/taskmaster/internal/state"
)

var (
	historyRun    string
	historyTask   string
	historyLimit  int
	historyEvents bool
	historyPurge  time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs and attempts",
	Long: `Show the attempt history recorded in the state directory.

Without flags, lists recent runs. --run or --task lists the attempts of a
run or task; --events lists pauses, resumes and decisions instead.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Only show this run")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "Only show this task")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of rows")
	historyCmd.Flags().BoolVar(&historyEvents, "events", false, "Show run events instead of attempts")
	historyCmd.Flags().DurationVar(&historyPurge, "purge", 0, "Delete runs last updated longer ago than this")
}

func runHistory(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	cfg, err := loadConfig(w)
	if err != nil {
		return err
	}
	path := history.DBPath(cfg.StateDir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, "No history yet.")
		return nil
	}
	db, err := history.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if historyPurge > 0 {
		n, err := db.Purge(historyPurge, time.Now())
		if err != nil {
			return err
		}
		printStatus(w, "✓", fmt.Sprintf("Purged %d run(s)", n), color.FgGreen)
		return nil
	}

	filter := history.Filter{RunID: historyRun, TaskID: historyTask, Limit: historyLimit}
	switch {
	case historyEvents:
		return displayEvents(w, db, filter)
	case historyRun != "" || historyTask != "":
		return displayAttempts(w, db, filter)
	default:
		return displayRuns(w, db, historyLimit)
	}
}

func displayRuns(w io.Writer, r history.Reader, limit int) error {
	runs, err := r.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	fmt.Fprintln(w, headingStyle.Render("Runs"))
	for _, run := range runs {
		fmt.Fprintf(w, "  %s  %-20s %-8s %s ago  %s\n",
			run.ID, statusColor(state.RunStatus(run.Status)).Sprint(run.Status), run.Provider,
			formatDuration(time.Since(run.UpdatedAt)), dimStyle.Render(run.TaskFile))
	}
	return nil
}

func displayAttempts(w io.Writer, r history.Reader, f history.Filter) error {
	attempts, err := r.ListAttempts(f)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No attempts recorded.")
		return nil
	}
	fmt.Fprintln(w, headingStyle.Render("Attempts"))
	for _, a := range attempts {
		outcome := color.GreenString(a.Outcome)
		if a.Outcome != "success" {
			outcome = color.RedString(a.Outcome)
		}
		line := fmt.Sprintf("  %s  %-20s #%d %-10s %6s  in=%d out=%d",
			a.StartedAt.Local().Format(time.DateTime), a.TaskID, a.Attempt, outcome,
			formatDuration(a.Duration), a.InputTokens, a.OutputTokens)
		if a.Decision != "" {
			line += "  -> " + a.Decision
		}
		fmt.Fprintln(w, line)
		if a.Error != "" {
			fmt.Fprintf(w, "      %s\n", dimStyle.Render(firstLine(a.Error, 100)))
		}
	}
	return nil
}

func displayEvents(w io.Writer, r history.Reader, f history.Filter) error {
	events, err := r.ListEvents(f)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return nil
	}
	fmt.Fprintln(w, headingStyle.Render("Events"))
	for _, e := range events {
		task := e.TaskID
		if task == "" {
			task = "-"
		}
		fmt.Fprintf(w, "  %s  %-12s %-20s %s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Kind, task, firstLine(e.Detail, 80))
	}
	return nil
}
