// Package exec runs external commands and reports their observable result.
package exec

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a command exceeds its timeout.
	ErrTimeout = errors.New("command timed out")
	// ErrUnresolvable is returned when the program or working directory
	// cannot be found, so the command never started.
	ErrUnresolvable = errors.New("command could not be started")
)

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is appended to the parent environment as KEY=VALUE pairs.
	Env []string
	// Timeout bounds the run. Zero means no timeout beyond ctx.
	Timeout time.Duration
	// Stdin is fed to the process when non-nil.
	Stdin []byte
}

// Shell builds a command that runs script through "sh -c".
func Shell(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}

// Result is the observable outcome of a command that started.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	TimedOut bool
}

// Success returns true if the command exited zero.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes the command. A non-zero exit is reported through
	// Result.ExitCode, not as an error; only ErrTimeout, ErrUnresolvable and
	// context cancellation are errors.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// LookPath reports the resolved path of a program.
	LookPath(name string) (string, error)
}
