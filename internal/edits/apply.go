package edits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ShayCichocki/taskmaster/internal/exec"
	"github.com/ShayCichocki/taskmaster/internal/protect"
)

// ErrPathEscape is returned for edits that resolve outside the task path.
var ErrPathEscape = errors.New("edit path escapes task directory")

// Failure pairs an edit with the reason it was not applied.
type Failure struct {
	Edit Edit
	Err  error
}

// Report summarizes an Apply call.
type Report struct {
	Written  []string
	Patched  int
	Commands []string
	Failed   []Failure
}

// Changed returns true if anything was written.
func (r Report) Changed() bool {
	return len(r.Written) > 0 || r.Patched > 0
}

// Applier writes parsed edits under a project root.
type Applier struct {
	fs     afero.Fs
	runner exec.CommandRunner
	root   string
	dryRun bool
	guard  *protect.Guard
	logger *slog.Logger
}

// NewApplier creates an Applier. runner is used for git apply; a nil runner
// makes diffs fail. In dry-run mode nothing is written.
func NewApplier(fs afero.Fs, runner exec.CommandRunner, root string, dryRun bool, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Applier{fs: fs, runner: runner, root: root, dryRun: dryRun, logger: logger}
}

// WithGuard rejects edits whose targets match a protected pattern.
func (a *Applier) WithGuard(g *protect.Guard) *Applier {
	a.guard = g
	return a
}

// Apply writes every edit scoped to taskPath. Individual failures are
// collected in the report; the error is only set when ctx is cancelled.
func (a *Applier) Apply(ctx context.Context, taskPath string, edits []Edit) (Report, error) {
	var rep Report
	base := filepath.Join(a.root, taskPath)

	for _, e := range edits {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		switch e.Kind {
		case KindWrite:
			target, err := scoped(base, e.Path)
			if err == nil {
				err = a.checkGuard(target)
			}
			if err != nil {
				rep.Failed = append(rep.Failed, Failure{Edit: e, Err: err})
				continue
			}
			if a.dryRun {
				a.logger.Info("dry run: would write file", "path", target, "bytes", len(e.Content))
				continue
			}
			if err := a.write(target, e.Content); err != nil {
				rep.Failed = append(rep.Failed, Failure{Edit: e, Err: err})
				continue
			}
			rep.Written = append(rep.Written, target)
		case KindDiff:
			if err := a.checkDiff(base, e.Content); err != nil {
				rep.Failed = append(rep.Failed, Failure{Edit: e, Err: err})
				continue
			}
			if a.dryRun {
				a.logger.Info("dry run: would apply diff", "bytes", len(e.Content))
				continue
			}
			if err := a.applyDiff(ctx, base, e.Content); err != nil {
				if ctx.Err() != nil {
					return rep, ctx.Err()
				}
				rep.Failed = append(rep.Failed, Failure{Edit: e, Err: err})
				continue
			}
			rep.Patched++
		case KindCommand:
			rep.Commands = append(rep.Commands, e.Content)
		}
	}

	for _, f := range rep.Failed {
		a.logger.Warn("edit not applied", "kind", string(f.Edit.Kind), "path", f.Edit.Path, "error", f.Err)
	}
	if len(rep.Commands) > 0 {
		a.logger.Info("agent suggested commands; not executed", "commands", strings.Join(rep.Commands, "; "))
	}
	return rep, nil
}

func (a *Applier) write(path, content string) error {
	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := afero.WriteFile(a.fs, path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (a *Applier) applyDiff(ctx context.Context, dir, patch string) error {
	if a.runner == nil {
		return errors.New("no command runner for diffs")
	}
	res, err := a.runner.Run(ctx, exec.Command{
		Name:  "git",
		Args:  []string{"apply", "--whitespace=nowarn", "--recount", "-"},
		Dir:   dir,
		Stdin: []byte(patch),
	})
	if err != nil {
		return fmt.Errorf("git apply: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("git apply exited %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

func (a *Applier) checkGuard(target string) error {
	if a.guard == nil {
		return nil
	}
	rel, err := filepath.Rel(a.root, target)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathEscape, target)
	}
	return a.guard.Check(rel)
}

// checkDiff rejects a patch touching a file outside base or a protected one.
func (a *Applier) checkDiff(base, patch string) error {
	for _, name := range protect.DiffTargets(patch) {
		target, err := scoped(base, name)
		if err != nil {
			return err
		}
		if err := a.checkGuard(target); err != nil {
			return err
		}
	}
	return nil
}

// scoped joins rel onto base and rejects results outside base.
func scoped(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s is absolute", ErrPathEscape, rel)
	}
	target := filepath.Join(base, rel)
	r, err := filepath.Rel(base, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return target, nil
}
