package hooks

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// LogWriter saves hook output under <dir>/<task-id>/attempt-<n>-<phase>.log.
type LogWriter struct {
	fs  afero.Fs
	dir string
}

// NewLogWriter creates a writer rooted at dir.
func NewLogWriter(fs afero.Fs, dir string) *LogWriter {
	return &LogWriter{fs: fs, dir: dir}
}

// Path returns the log file for a task attempt phase.
func (w *LogWriter) Path(taskID string, attempt int, phase Phase) string {
	return filepath.Join(w.dir, taskID, fmt.Sprintf("attempt-%d-%s.log", attempt, phase))
}

// Write records every result of a phase. An empty outcome writes nothing.
func (w *LogWriter) Write(taskID string, attempt int, out Outcome) (string, error) {
	if len(out.Results) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, r := range out.Results {
		fmt.Fprintf(&b, "=== %s hook %s ===\n", out.Phase, r.Spec.ID)
		if r.Spec.Description != "" {
			fmt.Fprintf(&b, "description: %s\n", r.Spec.Description)
		}
		fmt.Fprintf(&b, "command: %s\n", r.Spec.Command)
		fmt.Fprintf(&b, "working_dir: %s\n", r.Spec.WorkDir)
		fmt.Fprintf(&b, "exit_code: %d\n", r.ExitCode)
		fmt.Fprintf(&b, "duration: %s\n", r.Duration.Round(time.Millisecond))
		if r.TimedOut {
			b.WriteString("timed_out: true\n")
		}
		if r.Err != nil {
			fmt.Fprintf(&b, "error: %v\n", r.Err)
		}
		fmt.Fprintf(&b, "--- stdout ---\n%s\n--- stderr ---\n%s\n\n", r.Stdout, r.Stderr)
	}

	path := w.Path(taskID, attempt, out.Phase)
	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create hook log directory: %w", err)
	}
	if err := afero.WriteFile(w.fs, path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write hook log: %w", err)
	}
	return path, nil
}
