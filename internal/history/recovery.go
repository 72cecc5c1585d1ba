package history

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// InterruptedRun is a run still marked active whose process is gone.
type InterruptedRun struct {
	RunID     string
	TaskFile  string
	PID       int
	StartedAt time.Time
	UpdatedAt time.Time
}

// FindInterrupted returns active runs whose recorded process is no longer
// alive. The current process is never reported.
func (db *DB) FindInterrupted() ([]InterruptedRun, error) {
	rows, err := db.Query(`
		SELECT id, task_file, provider, pid, status, started_at, updated_at
		FROM runs WHERE status = 'active' ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()

	var out []InterruptedRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if r.PID == os.Getpid() || isProcessAlive(r.PID) {
			continue
		}
		out = append(out, InterruptedRun{
			RunID:     r.ID,
			TaskFile:  r.TaskFile,
			PID:       r.PID,
			StartedAt: r.StartedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, rows.Err()
}

// MarkInterrupted closes out runs left active by a crashed process and
// records an interrupted event for each. Returns the runs it marked.
func (db *DB) MarkInterrupted(now time.Time) ([]InterruptedRun, error) {
	runs, err := db.FindInterrupted()
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if err := db.FinishRun(r.RunID, "interrupted", now); err != nil {
			return nil, err
		}
		if err := db.RecordEvent(&Event{
			RunID:     r.RunID,
			Kind:      EventInterrupted,
			Detail:    fmt.Sprintf("process %d exited without recording a final status", r.PID),
			CreatedAt: now,
		}); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
