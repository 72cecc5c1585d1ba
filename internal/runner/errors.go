package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/taskmaster/internal/hooks"
	"github.com/ShayCichocki/taskmaster/internal/state"
)

var (
	// ErrConfiguration matches any ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrHookFailure matches any HookFailure.
	ErrHookFailure = errors.New("hook failed")
	// ErrAgentFailure matches any AgentFailure.
	ErrAgentFailure = errors.New("agent failed")
	// ErrRateLimited matches any RateLimited.
	ErrRateLimited = errors.New("rate limited")
	// ErrNonProgress is the cause of an escalation triggered by attempts
	// that changed nothing.
	ErrNonProgress = errors.New("no progress")
	// ErrEscalated is the cause of a run paused for a human decision.
	ErrEscalated = errors.New("task escalated")
	// ErrStateCorrupted is returned when the saved state cannot be used.
	ErrStateCorrupted = state.ErrStateCorrupted
	// ErrConsecutiveFailureLimitExceeded is returned when the run is aborted
	// by too many failed attempts in a row.
	ErrConsecutiveFailureLimitExceeded = errors.New("consecutive failure limit exceeded")
	// ErrInterrupted is the cause of a run paused by cancellation.
	ErrInterrupted = errors.New("run interrupted")
)

// ConfigurationError is a fatal problem with the task list or config that
// no retry can fix.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configError(format string, args ...any) error {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// HookFailure is a blocking hook that did not pass.
type HookFailure struct {
	Phase  hooks.Phase
	Result hooks.Result
}

func (e *HookFailure) Error() string {
	msg := fmt.Sprintf("%s-hook failed: %s", e.Phase, e.Result.Summary())
	if tail := outputTail(e.Result, 20); tail != "" {
		msg += "\n" + tail
	}
	return msg
}

// Is lets errors.Is match ErrHookFailure.
func (e *HookFailure) Is(target error) bool { return target == ErrHookFailure }

// AgentFailure is a provider call that returned no usable response.
type AgentFailure struct {
	Provider string
	Err      error
}

func (e *AgentFailure) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Provider, e.Err)
}

func (e *AgentFailure) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrAgentFailure.
func (e *AgentFailure) Is(target error) bool { return target == ErrAgentFailure }

// RateLimited is the cause of a run paused on a rate limit, either our own
// budget or the provider's.
type RateLimited struct {
	Provider   string
	RetryAfter time.Duration
	Until      time.Time
	// Window is set when the local budget denied the request.
	Window string
}

func (e *RateLimited) Error() string {
	if e.Window != "" {
		return fmt.Sprintf("provider %s: %s budget exhausted, retry after %s",
			e.Provider, e.Window, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("provider %s rate limited the request, retry after %s",
		e.Provider, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is match ErrRateLimited.
func (e *RateLimited) Is(target error) bool { return target == ErrRateLimited }

// outputTail returns the last n lines of a hook's combined output.
func outputTail(r hooks.Result, n int) string {
	out := r.Stderr
	if r.Stdout != "" {
		if out != "" {
			out = r.Stdout + "\n" + out
		} else {
			out = r.Stdout
		}
	}
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return ""
	}
	lines := strings.Split(out, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
