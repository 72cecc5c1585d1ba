// Package state persists run progress as a single JSON snapshot that is
// replaced atomically on every save.
package state

import (
	"slices"
	"time"

	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// SchemaVersion is the RunState layout written by this package.
const SchemaVersion = 1

// RunStatus is the run-level state.
type RunStatus string

const (
	RunActive            RunStatus = "active"
	RunCompleted         RunStatus = "completed"
	RunPausedRateLimit   RunStatus = "paused-rate-limit"
	RunPausedEscalation  RunStatus = "paused-escalation"
	RunPausedInterrupted RunStatus = "paused-interrupted"
	RunPausedUserAbort   RunStatus = "paused-user-abort"
	RunAborted           RunStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunActive, RunCompleted, RunPausedRateLimit, RunPausedEscalation,
		RunPausedInterrupted, RunPausedUserAbort, RunAborted:
		return true
	default:
		return false
	}
}

// Paused returns true for the resumable stop states.
func (s RunStatus) Paused() bool {
	switch s {
	case RunPausedRateLimit, RunPausedEscalation, RunPausedInterrupted, RunPausedUserAbort:
		return true
	default:
		return false
	}
}

// Identity ties a RunState to the task file it was built from.
type Identity struct {
	TaskFile string
	TaskIDs  []string
}

// TaskProgress holds the counters for one task.
type TaskProgress struct {
	Status           models.TaskStatus    `json:"status"`
	AttemptCount     int                  `json:"attempt_count"`
	FailureCount     int                  `json:"failure_count"`
	NonProgressCount int                  `json:"non_progress_count"`
	LastError        *string              `json:"last_error"`
	UserIntervention *models.Intervention `json:"user_intervention"`
	// Escalated is set while the task waits for a human decision.
	Escalated       bool   `json:"escalated"`
	LastFingerprint string `json:"last_fingerprint,omitempty"`
}

// RunState is the complete persisted record of a run. Values are treated as
// immutable: every transition returns a modified copy.
type RunState struct {
	Version  int    `json:"version"`
	Revision int    `json:"revision"`
	RunID    string `json:"run_id"`

	TaskFile string   `json:"task_file"`
	TaskIDs  []string `json:"task_ids"`

	Status      RunStatus  `json:"status"`
	StopReason  string     `json:"stop_reason,omitempty"`
	PausedUntil *time.Time `json:"paused_until,omitempty"`

	CurrentTaskIndex    int      `json:"current_task_index"`
	CompletedTaskIDs    []string `json:"completed_task_ids"`
	SkippedTaskIDs      []string `json:"skipped_task_ids"`
	ConsecutiveFailures int      `json:"consecutive_failures"`

	Tasks      map[string]TaskProgress    `json:"tasks"`
	RateLimits map[string]ratelimit.Usage `json:"rate_limits"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns the zero state for a task file.
func New(id Identity, runID string, now time.Time) *RunState {
	now = now.UTC()
	st := &RunState{
		Version:          SchemaVersion,
		RunID:            runID,
		TaskFile:         id.TaskFile,
		TaskIDs:          slices.Clone(id.TaskIDs),
		Status:           RunActive,
		CompletedTaskIDs: []string{},
		SkippedTaskIDs:   []string{},
		Tasks:            make(map[string]TaskProgress, len(id.TaskIDs)),
		RateLimits:       map[string]ratelimit.Usage{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, tid := range id.TaskIDs {
		st.Tasks[tid] = TaskProgress{Status: models.TaskStatusPending}
	}
	return st
}

// Clone returns a deep copy.
func (s *RunState) Clone() *RunState {
	c := *s
	c.TaskIDs = slices.Clone(s.TaskIDs)
	c.CompletedTaskIDs = slices.Clone(s.CompletedTaskIDs)
	c.SkippedTaskIDs = slices.Clone(s.SkippedTaskIDs)
	if s.PausedUntil != nil {
		t := *s.PausedUntil
		c.PausedUntil = &t
	}
	c.Tasks = make(map[string]TaskProgress, len(s.Tasks))
	for id, tp := range s.Tasks {
		if tp.LastError != nil {
			e := *tp.LastError
			tp.LastError = &e
		}
		if tp.UserIntervention != nil {
			i := *tp.UserIntervention
			tp.UserIntervention = &i
		}
		c.Tasks[id] = tp
	}
	c.RateLimits = make(map[string]ratelimit.Usage, len(s.RateLimits))
	for p, u := range s.RateLimits {
		c.RateLimits[p] = u.Clone()
	}
	return &c
}

// Task returns the progress for a task, defaulting to pending.
func (s *RunState) Task(id string) TaskProgress {
	tp, ok := s.Tasks[id]
	if !ok {
		return TaskProgress{Status: models.TaskStatusPending}
	}
	return tp
}

// CurrentTaskID returns the task at the current index, if any remain.
func (s *RunState) CurrentTaskID() (string, bool) {
	if s.CurrentTaskIndex >= len(s.TaskIDs) {
		return "", false
	}
	return s.TaskIDs[s.CurrentTaskIndex], true
}

// Done returns true when every task has been completed or skipped.
func (s *RunState) Done() bool {
	return s.CurrentTaskIndex >= len(s.TaskIDs)
}

// Matches reports whether the state was built from the same task IDs.
func (s *RunState) Matches(id Identity) bool {
	return slices.Equal(s.TaskIDs, id.TaskIDs)
}

// IsCompleted reports whether a task is in completed_task_ids.
func (s *RunState) IsCompleted(taskID string) bool {
	return slices.Contains(s.CompletedTaskIDs, taskID)
}
