package state

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Load when no state file exists.
	ErrNotFound = errors.New("no saved run state")
	// ErrStateCorrupted matches any CorruptedError.
	ErrStateCorrupted = errors.New("run state corrupted")
	// ErrStateMismatch matches any MismatchError.
	ErrStateMismatch = errors.New("run state does not match task file")
	// ErrRegression is returned when a save would lose recorded progress.
	ErrRegression = errors.New("run state regression")
	// ErrUnknownTask is returned for task IDs not in the state.
	ErrUnknownTask = errors.New("unknown task")
	// ErrNotEscalated is returned when recording a decision for a task that
	// is not waiting for one.
	ErrNotEscalated = errors.New("task is not awaiting a decision")
)

// CorruptedError reports a state file that exists but cannot be used.
type CorruptedError struct {
	Path string
	Err  error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("run state %s is corrupted: %v", e.Path, e.Err)
}

func (e *CorruptedError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrStateCorrupted.
func (e *CorruptedError) Is(target error) bool { return target == ErrStateCorrupted }

// MismatchError reports a state built from a different task list.
type MismatchError struct {
	Path    string
	Stored  []string
	Current []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("run state %s was built for tasks [%s], task file now has [%s]; use --fresh to start over",
		e.Path, strings.Join(e.Stored, ", "), strings.Join(e.Current, ", "))
}

// Is lets errors.Is match ErrStateMismatch.
func (e *MismatchError) Is(target error) bool { return target == ErrStateMismatch }
