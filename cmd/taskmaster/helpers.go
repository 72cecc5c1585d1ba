package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"

	"github.com/ShayCichocki/taskmaster/internal/config"
	"github.com/ShayCichocki/taskmaster/internal/history"
	"github.com/ShayCichocki/taskmaster/internal/logging"
	"github.com/ShayCichocki/taskmaster/internal/state"
)

// loadConfig loads and validates configuration. Warnings are printed but do
// not fail the command.
func loadConfig(w io.Writer) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFromPath(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, warning := range cfg.Warnings() {
		printStatus(w, "⚠", warning, color.FgYellow)
	}
	return cfg, nil
}

// newLogger opens the run log. Flags override the configured level and format.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	format := cfg.Log.Format
	if flagLogFormat != "" {
		format = flagLogFormat
	}
	return logging.New(logging.Options{
		Dir:     cfg.LogDir,
		Level:   level,
		Format:  format,
		Verbose: flagVerbose,
	})
}

// readState loads the saved run state of the configured state directory.
func readState(cfg *config.Config) (*state.Store, *state.RunState, error) {
	store := state.NewStore(afero.NewOsFs(), cfg.StateDir)
	st, err := store.Read()
	if err != nil {
		return store, nil, err
	}
	return store, st, nil
}

// openHistory opens the attempt history, falling back to a no-op recorder.
func openHistory(cfg *config.Config, logger *slog.Logger) (history.Recorder, func()) {
	db, err := history.OpenStateDir(cfg.StateDir)
	if err != nil {
		logger.Warn("attempt history unavailable", "error", err)
		return history.Nop{}, func() {}
	}
	if marked, err := db.MarkInterrupted(time.Now()); err != nil {
		logger.Warn("checking for interrupted runs failed", "error", err)
	} else {
		for _, run := range marked {
			logger.Info("marked stale run as interrupted", "run_id", run.RunID, "pid", run.PID)
		}
	}
	return db, func() { db.Close() }
}

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// formatDuration formats a duration as a short human string.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%02dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// firstLine returns the first line of s, truncated to n runes.
func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
