package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/config"
	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
	"github.com/ShayCichocki/taskmaster/internal/state"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved run state",
	Long: `Display the state of the saved run.

Shows:
  - Run status and why it stopped
  - Per-task progress and attempt counters
  - Pending decisions for escalated tasks
  - Rate limit windows and time until reset (with -v)`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	displayRun(w, st)
	fmt.Fprintln(w)
	displayTasks(w, st)
	if flagVerbose {
		fmt.Fprintln(w)
		displayRateLimits(w, cfg, st)
	}
	return nil
}

func displayRun(w io.Writer, st *state.RunState) {
	fmt.Fprintf(w, "%s %s\n", headingStyle.Render("Run"), st.RunID)
	fmt.Fprintf(w, "  Task file: %s\n", st.TaskFile)
	fmt.Fprintf(w, "  Status:    %s\n", statusColor(st.Status).Sprint(st.Status))
	if st.StopReason != "" {
		fmt.Fprintf(w, "  Reason:    %s\n", firstLine(st.StopReason, 100))
	}
	if st.PausedUntil != nil {
		fmt.Fprintf(w, "  Until:     %s (in %s)\n",
			st.PausedUntil.Local().Format(time.DateTime), formatDuration(time.Until(*st.PausedUntil)))
	}
	fmt.Fprintf(w, "  Progress:  %d/%d (%d completed, %d skipped)\n",
		st.CurrentTaskIndex, len(st.TaskIDs), len(st.CompletedTaskIDs), len(st.SkippedTaskIDs))
	fmt.Fprintf(w, "  Consecutive failures: %d\n", st.ConsecutiveFailures)
	fmt.Fprintf(w, "  Started:   %s ago, updated %s ago\n",
		formatDuration(time.Since(st.CreatedAt)), formatDuration(time.Since(st.UpdatedAt)))
}

func displayTasks(w io.Writer, st *state.RunState) {
	fmt.Fprintln(w, headingStyle.Render("Tasks"))
	for i, id := range st.TaskIDs {
		tp := st.Task(id)
		marker := " "
		if i == st.CurrentTaskIndex {
			marker = ">"
		}
		line := fmt.Sprintf("%s %-20s %-12s attempts=%d failures=%d non-progress=%d",
			marker, id, taskStatusColor(tp.Status).Sprint(tp.Status),
			tp.AttemptCount, tp.FailureCount, tp.NonProgressCount)
		fmt.Fprintln(w, line)
		if tp.Escalated {
			decision := "awaiting decision"
			if tp.UserIntervention != nil {
				decision = "decision recorded: " + string(*tp.UserIntervention)
			}
			fmt.Fprintf(w, "    %s\n", color.YellowString("escalated, %s", decision))
		}
		if tp.LastError != nil && tp.Status != models.TaskStatusCompleted {
			fmt.Fprintf(w, "    %s\n", dimStyle.Render("last error: "+firstLine(*tp.LastError, 100)))
		}
	}
}

func displayRateLimits(w io.Writer, cfg *config.Config, st *state.RunState) {
	fmt.Fprintln(w, headingStyle.Render("Rate limits"))
	limiter := ratelimit.New(cfg.RateLimits())
	for provider, usage := range st.RateLimits {
		limiter.Restore(provider, usage)
	}
	for _, name := range sortedProviders(cfg) {
		fmt.Fprintf(w, "  %s\n", name)
		shown := false
		for _, s := range limiter.Status(name) {
			if !s.Limited() {
				continue
			}
			shown = true
			fmt.Fprintf(w, "    %-6s requests %s  tokens %s  resets in %s\n",
				s.Window, ceiling(s.Requests, s.MaxRequests), ceiling(s.Tokens, s.MaxTokens), formatDuration(s.ResetIn))
		}
		if !shown {
			fmt.Fprintln(w, "    unlimited")
		}
	}
}

func ceiling(used, limit int) string {
	if limit == 0 {
		return fmt.Sprintf("%d/-", used)
	}
	return fmt.Sprintf("%d/%d", used, limit)
}

func statusColor(s state.RunStatus) *color.Color {
	switch {
	case s == state.RunCompleted:
		return color.New(color.FgGreen)
	case s == state.RunAborted:
		return color.New(color.FgRed)
	case s.Paused():
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func taskStatusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusSkipped:
		return color.New(color.Faint)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}
