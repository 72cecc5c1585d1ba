// Package tasklist loads ordered task lists from YAML, JSON or TOML files.
package tasklist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/taskmaster/pkg/models"
)

var (
	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported task file format")
	// ErrNoTasks is returned when a file parses but contains no tasks.
	ErrNoTasks = errors.New("task file contains no tasks")
	// ErrDuplicateID is returned when two tasks share an identifier.
	ErrDuplicateID = errors.New("duplicate task id")
	// ErrMissingField is returned when a required task field is empty.
	ErrMissingField = errors.New("missing required field")
)

// TaskList is an ordered set of tasks loaded from one file.
type TaskList struct {
	// Path is the file the tasks were read from.
	Path  string
	Tasks []models.Task
}

// document is the on-disk shape with a top-level "tasks" key.
type document struct {
	Tasks []models.Task `json:"tasks" yaml:"tasks" toml:"tasks"`
}

// Load reads and validates a task file. The format is chosen by extension.
func Load(fs afero.Fs, path string) (*TaskList, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	tasks, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &TaskList{Path: path, Tasks: tasks}, nil
}

// Parse decodes task data in the format named by ext (".yaml", ".yml",
// ".json" or ".toml") and validates the result.
func Parse(data []byte, ext string) ([]models.Task, error) {
	var (
		tasks []models.Task
		err   error
	)
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		tasks, err = parseYAML(data)
	case ".json":
		tasks, err = parseJSON(data)
	case ".toml":
		var doc document
		err = toml.Unmarshal(data, &doc)
		tasks = doc.Tasks
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	if err := Validate(tasks); err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].Status == "" {
			tasks[i].Status = models.TaskStatusPending
		}
	}
	return tasks, nil
}

// parseYAML accepts either a top-level "tasks" mapping or a bare list.
func parseYAML(data []byte) ([]models.Task, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var tasks []models.Task
		err := node.Content[0].Decode(&tasks)
		return tasks, err
	}
	var doc document
	err := node.Decode(&doc)
	return doc.Tasks, err
}

// parseJSON accepts either a top-level "tasks" object or a bare array.
func parseJSON(data []byte) ([]models.Task, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tasks []models.Task
		err := json.Unmarshal(trimmed, &tasks)
		return tasks, err
	}
	var doc document
	err := json.Unmarshal(trimmed, &doc)
	return doc.Tasks, err
}

// Validate checks required fields and identifier uniqueness.
func Validate(tasks []models.Task) error {
	if len(tasks) == 0 {
		return ErrNoTasks
	}

	seen := make(map[string]int, len(tasks))
	for i, t := range tasks {
		switch {
		case strings.TrimSpace(t.ID) == "":
			return fmt.Errorf("task %d: %w: id", i+1, ErrMissingField)
		case strings.TrimSpace(t.Title) == "":
			return fmt.Errorf("task %s: %w: title", t.ID, ErrMissingField)
		case strings.TrimSpace(t.Description) == "":
			return fmt.Errorf("task %s: %w: description", t.ID, ErrMissingField)
		}
		if first, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w %q (tasks %d and %d)", ErrDuplicateID, t.ID, first+1, i+1)
		}
		seen[t.ID] = i
	}
	return nil
}

// IDs returns the task identifiers in order.
func (l *TaskList) IDs() []string {
	ids := make([]string, len(l.Tasks))
	for i, t := range l.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// Find returns the task with the given ID.
func (l *TaskList) Find(id string) (models.Task, bool) {
	for _, t := range l.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}

// ApplyHookDefaults fills empty hook lists with the given defaults.
func (l *TaskList) ApplyHookDefaults(pre, post []string) {
	for i := range l.Tasks {
		if len(l.Tasks[i].PreHooks) == 0 && len(pre) > 0 {
			l.Tasks[i].PreHooks = append([]string(nil), pre...)
		}
		if len(l.Tasks[i].PostHooks) == 0 && len(post) > 0 {
			l.Tasks[i].PostHooks = append([]string(nil), post...)
		}
	}
}

// UnknownHooks returns every referenced hook ID for which known returns
// false, formatted as "task-id: hook-id".
func (l *TaskList) UnknownHooks(known func(id string) bool) []string {
	var missing []string
	for _, t := range l.Tasks {
		for _, id := range append(append([]string{}, t.PreHooks...), t.PostHooks...) {
			if !known(id) {
				missing = append(missing, t.ID+": "+id)
			}
		}
	}
	return missing
}
