// Package hooks runs the shell checks configured before and after each
// agent call.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/taskmaster/internal/config"
	"github.com/ShayCichocki/taskmaster/internal/exec"
)

// Phase says whether a hook runs before or after the agent call.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// ErrUnknownHook is returned when a task references an undefined hook.
var ErrUnknownHook = errors.New("unknown hook")

// Spec is a resolved hook ready to run.
type Spec struct {
	ID            string
	Command       string
	WorkDir       string
	Timeout       time.Duration
	Env           map[string]string
	StopOnFailure bool
	Description   string
}

// Result is the outcome of one hook run.
type Result struct {
	Spec     Spec
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	// Err is set when the hook could not run to completion: a timeout or an
	// unresolvable command. A non-zero exit is not an Err.
	Err error
}

// Passed returns true if the hook ran and exited zero.
func (r Result) Passed() bool {
	return r.Err == nil && r.ExitCode == 0 && !r.TimedOut
}

// Summary is a one-line description used in errors and prompts.
func (r Result) Summary() string {
	switch {
	case r.TimedOut:
		return fmt.Sprintf("hook %s timed out after %s", r.Spec.ID, r.Spec.Timeout)
	case r.Err != nil:
		return fmt.Sprintf("hook %s could not run: %v", r.Spec.ID, r.Err)
	case r.ExitCode != 0:
		return fmt.Sprintf("hook %s exited %d", r.Spec.ID, r.ExitCode)
	default:
		return fmt.Sprintf("hook %s passed", r.Spec.ID)
	}
}

// Executor runs a single hook.
type Executor interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ShellExecutor runs hooks through "sh -c" relative to a project root.
type ShellExecutor struct {
	runner exec.CommandRunner
	root   string
}

// NewShellExecutor creates an executor rooted at root.
func NewShellExecutor(runner exec.CommandRunner, root string) *ShellExecutor {
	return &ShellExecutor{runner: runner, root: root}
}

// Run executes the hook. The returned error is only non-nil when ctx was
// cancelled; timeouts and unresolvable commands are reported in Result.Err
// so they count as hook failures.
func (e *ShellExecutor) Run(ctx context.Context, spec Spec) (Result, error) {
	cmd := exec.Shell(spec.Command)
	cmd.Dir = e.resolveDir(spec.WorkDir)
	cmd.Timeout = spec.Timeout
	cmd.Env = envList(spec.Env)

	res, err := e.runner.Run(ctx, cmd)
	out := Result{Spec: spec}
	if res != nil {
		out.ExitCode = res.ExitCode
		out.Stdout = string(res.Stdout)
		out.Stderr = string(res.Stderr)
		out.Duration = res.Duration
		out.TimedOut = res.TimedOut
	}
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.Err = err
		if out.ExitCode == 0 {
			out.ExitCode = -1
		}
	}
	return out, nil
}

func (e *ShellExecutor) resolveDir(dir string) string {
	if dir == "" {
		dir = "."
	}
	if filepath.IsAbs(dir) || e.root == "" {
		return dir
	}
	return filepath.Join(e.root, dir)
}

// envList renders env as sorted KEY=VALUE pairs. Keys are upper-cased
// because the config loader folds map keys to lower case.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, strings.ToUpper(k)+"="+v)
	}
	sort.Strings(out)
	return out
}

// Resolve turns hook IDs into specs using the configured hooks. Hooks
// without a working_dir run in taskPath.
func Resolve(cfg *config.Config, ids []string, taskPath string) ([]Spec, error) {
	specs := make([]Spec, 0, len(ids))
	for _, id := range ids {
		h, ok := cfg.Hook(id)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownHook, id)
		}
		dir := h.WorkingDir
		if dir == "" {
			dir = taskPath
		}
		specs = append(specs, Spec{
			ID:            id,
			Command:       h.Command,
			WorkDir:       dir,
			Timeout:       cfg.HookTimeout(h),
			Env:           h.Environment,
			StopOnFailure: h.StopsOnFailure(),
			Description:   h.Description,
		})
	}
	return specs, nil
}

var _ Executor = (*ShellExecutor)(nil)
