package hooks

import (
	"context"
	"log/slog"
)

// Outcome is the result of running a phase's hooks in order.
type Outcome struct {
	Phase   Phase
	Results []Result
	// Blocking is the first failed hook with StopOnFailure set, if any.
	Blocking *Result
}

// Passed returns true if no blocking hook failed.
func (o Outcome) Passed() bool {
	return o.Blocking == nil
}

// RunPhase runs specs in order and stops at the first failure of a hook
// marked StopOnFailure. Failures of other hooks are logged and skipped over.
// observe, when non-nil, is called after every hook. An executor error is
// returned only when ctx is done; otherwise it becomes the hook's Result.Err
// and counts as a failure of that hook.
func RunPhase(ctx context.Context, ex Executor, phase Phase, specs []Spec, logger *slog.Logger, observe func(Result)) (Outcome, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	out := Outcome{Phase: phase}
	for _, spec := range specs {
		res, err := ex.Run(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return out, err
			}
			res.Spec = spec
			res.Err = err
		}
		out.Results = append(out.Results, res)
		if observe != nil {
			observe(res)
		}

		if res.Passed() {
			logger.Debug("hook passed", "phase", string(phase), "hook", spec.ID, "duration", res.Duration)
			continue
		}
		if !spec.StopOnFailure {
			logger.Warn("hook failed, continuing", "phase", string(phase), "hook", spec.ID, "summary", res.Summary())
			continue
		}
		logger.Warn("hook failed", "phase", string(phase), "hook", spec.ID, "summary", res.Summary())
		blocking := res
		out.Blocking = &blocking
		return out, nil
	}
	return out, nil
}
