// Package models holds the task types shared between the task list loader,
// the runner and the CLI.
package models

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates an attempt is in flight.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task passed all of its post-hooks.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the last attempt failed and the task is waiting
	// for a retry or a human decision.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates a human chose to skip the task.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further attempts will be made for the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// Task represents a unit of agent-driven work.
type Task struct {
	// ID is the unique identifier for this task within its task list.
	ID string `json:"id" yaml:"id" toml:"id"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title" toml:"title"`
	// Description holds the free-text instructions sent to the agent.
	Description string `json:"description" yaml:"description" toml:"description"`
	// Path scopes the task to a directory relative to the project root.
	// Fingerprinting and edits are confined to it.
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	// PreHooks lists hook IDs run before the agent call, in order.
	PreHooks []string `json:"pre_hooks,omitempty" yaml:"pre_hooks,omitempty" toml:"pre_hooks,omitempty"`
	// PostHooks lists hook IDs run after the agent call, in order.
	PostHooks []string `json:"post_hooks,omitempty" yaml:"post_hooks,omitempty" toml:"post_hooks,omitempty"`
	// Metadata is opaque to the engine and passed to the prompt as context.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" toml:"metadata,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status,omitempty" yaml:"status,omitempty" toml:"status,omitempty"`
}

// WorkPath returns the task's working path, defaulting to the project root.
func (t Task) WorkPath() string {
	if t.Path == "" {
		return "."
	}
	return t.Path
}

// Intervention is a human decision recorded for an escalated task.
type Intervention string

const (
	// InterventionRetry grants the task a fresh attempt budget.
	InterventionRetry Intervention = "retry"
	// InterventionSkip marks the task skipped and moves on.
	InterventionSkip Intervention = "skip"
	// InterventionAbort stops the run so it can be resumed later.
	InterventionAbort Intervention = "abort"
)

// Valid returns true if the intervention is a known value.
func (i Intervention) Valid() bool {
	switch i {
	case InterventionRetry, InterventionSkip, InterventionAbort:
		return true
	default:
		return false
	}
}

// ParseIntervention converts user input into an Intervention.
func ParseIntervention(s string) (Intervention, bool) {
	switch s {
	case "r", "retry":
		return InterventionRetry, true
	case "s", "skip":
		return InterventionSkip, true
	case "a", "abort":
		return InterventionAbort, true
	}
	return "", false
}
