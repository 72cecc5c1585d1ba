package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/taskmaster/internal/agent"
	"github.com/ShayCichocki/taskmaster/internal/edits"
	"github.com/ShayCichocki/taskmaster/internal/escalation"
	"github.com/ShayCichocki/taskmaster/internal/history"
	"github.com/ShayCichocki/taskmaster/internal/hooks"
	"github.com/ShayCichocki/taskmaster/internal/prompt"
	"github.com/ShayCichocki/taskmaster/internal/state"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// attempt is the transient record of one pre-hook, agent, post-hook pass.
// It is folded into the run state by a single RecordAttempt.
type attempt struct {
	task    *models.Task
	number  int
	started time.Time

	fingerprintBefore string
	fingerprintAfter  string
	usage             agent.Usage

	failure *escalation.Failure
}

func (a *attempt) fail(kind escalation.FailureKind, err error) {
	a.failure = &escalation.Failure{
		Kind:              kind,
		Error:             err.Error(),
		FingerprintBefore: a.fingerprintBefore,
		FingerprintAfter:  a.fingerprintAfter,
	}
}

// attempt runs one pass over task. A non-nil cause stops the loop in a
// paused or aborted state; a non-nil error is fatal.
func (r *Runner) attempt(ctx context.Context, st *state.RunState, task *models.Task) (*state.RunState, error, error) {
	tp := st.Task(task.ID)
	a := &attempt{task: task, number: tp.AttemptCount + 1, started: r.now()}
	log := r.logger.With("task", task.ID, "attempt", a.number)
	log.Info("starting attempt", "title", task.Title)

	preSpecs, err := r.resolveHooks(task.PreHooks, task.WorkPath())
	if err != nil {
		return st, nil, &ConfigurationError{Err: err}
	}
	pre, err := hooks.RunPhase(ctx, r.hooks, hooks.PhasePre, preSpecs, log, r.observeHook(hooks.PhasePre))
	r.saveHookLog(a, pre, log)
	if err != nil {
		return r.interrupt(st, context.Cause(ctx))
	}
	if !pre.Passed() {
		a.fail(escalation.FailurePreHook, &HookFailure{Phase: hooks.PhasePre, Result: *pre.Blocking})
		return r.conclude(st, a)
	}

	provider := r.agent.Name()
	p := r.prompts.Build(prompt.Input{
		Task:          task,
		Attempt:       a.number,
		MaxAttempts:   r.escalator.Policy().MaxAttemptsPerTask,
		PreviousError: derefString(tp.LastError),
		Hooks:         r.hookCommands,
	})
	req := agent.Request{
		TaskID:     task.ID,
		System:     p.System,
		Prompt:     p.User,
		MaxTokens:  r.maxTokens,
		BudgetHint: r.limiter.Limits(provider).SmallestTokenCeiling(),
	}

	decision, err := r.limiter.Check(provider, req.Estimate(0))
	if err != nil {
		return st, nil, &ConfigurationError{Err: err}
	}
	if !decision.Allowed {
		log.Warn("rate limit budget exhausted", "window", string(decision.Window), "retry_after", decision.RetryAfter)
		return r.pauseRateLimited(st, &RateLimited{
			Provider:   provider,
			RetryAfter: decision.RetryAfter,
			Until:      r.now().Add(decision.RetryAfter),
			Window:     string(decision.Window),
		})
	}

	workDir := r.workDir(task)
	if a.fingerprintBefore, err = r.fingerprinter.Fingerprint(ctx, workDir); err != nil {
		if ctx.Err() != nil {
			return r.interrupt(st, context.Cause(ctx))
		}
		return st, nil, fmt.Errorf("fingerprinting %s: %w", workDir, err)
	}

	callStart := r.now()
	resp, err := r.agent.Generate(ctx, req)
	callTime := r.now().Sub(callStart)
	if err != nil {
		return r.agentError(ctx, st, a, provider, callTime, err)
	}
	a.usage = resp.Usage
	r.limiter.Record(provider, 1, int(resp.Usage.Total()))
	r.metrics.ObserveAgent(provider, "ok", callTime, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	log.Info("agent responded", "model", resp.Model, "edits", len(resp.Edits),
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)

	report, err := r.applier.Apply(ctx, task.WorkPath(), resp.Edits)
	if err != nil {
		return r.interrupt(st, context.Cause(ctx))
	}
	if len(report.Written) > 0 || report.Patched > 0 {
		log.Info("applied edits", "files", len(report.Written), "patches", report.Patched)
	}

	if a.fingerprintAfter, err = r.fingerprinter.Fingerprint(ctx, workDir); err != nil {
		if ctx.Err() != nil {
			return r.interrupt(st, context.Cause(ctx))
		}
		return st, nil, fmt.Errorf("fingerprinting %s: %w", workDir, err)
	}

	postSpecs, err := r.resolveHooks(task.PostHooks, task.WorkPath())
	if err != nil {
		return st, nil, &ConfigurationError{Err: err}
	}
	post, err := hooks.RunPhase(ctx, r.hooks, hooks.PhasePost, postSpecs, log, r.observeHook(hooks.PhasePost))
	r.saveHookLog(a, post, log)
	if err != nil {
		return r.interrupt(st, context.Cause(ctx))
	}
	if !post.Passed() {
		var hf error = &HookFailure{Phase: hooks.PhasePost, Result: *post.Blocking}
		if len(report.Failed) > 0 {
			hf = fmt.Errorf("%w\n%s", hf, editFailures(report.Failed))
		}
		a.fail(escalation.FailurePostHook, hf)
	}
	return r.conclude(st, a)
}

// agentError maps a failed Generate onto a pause, a fatal error or an
// attempt failure.
func (r *Runner) agentError(ctx context.Context, st *state.RunState, a *attempt, provider string, callTime time.Duration, err error) (*state.RunState, error, error) {
	var (
		rl     *agent.RateLimitedError
		apiErr *agent.Error
	)
	switch {
	case errors.As(err, &rl):
		r.limiter.Record(provider, 1, 0)
		r.metrics.ObserveAgent(provider, "rate_limited", callTime, 0, 0)
		return r.pauseRateLimited(st, &RateLimited{
			Provider:   provider,
			RetryAfter: rl.RetryAfter,
			Until:      r.now().Add(rl.RetryAfter),
		})
	case errors.Is(err, agent.ErrBudgetExceeded):
		return st, nil, &ConfigurationError{Err: err}
	case ctx.Err() != nil:
		return r.interrupt(st, context.Cause(ctx))
	case errors.As(err, &apiErr) && apiErr.Kind == agent.KindAuthentication:
		r.metrics.ObserveAgent(provider, "error", callTime, 0, 0)
		return st, nil, &ConfigurationError{Err: err}
	}

	r.limiter.Record(provider, 1, 0)
	r.metrics.ObserveAgent(provider, "error", callTime, 0, 0)
	a.fail(escalation.FailureAgent, &AgentFailure{Provider: provider, Err: err})
	return r.conclude(st, a)
}

// conclude evaluates the attempt and persists it with one transition.
func (r *Runner) conclude(st *state.RunState, a *attempt) (*state.RunState, error, error) {
	task := a.task
	tp := st.Task(task.ID)
	out := state.AttemptOutcome{
		TaskID:      task.ID,
		Succeeded:   a.failure == nil,
		Fingerprint: a.fingerprintAfter,
		Usage:       r.usageSnapshot(),
	}
	if out.Fingerprint == "" {
		out.Fingerprint = a.fingerprintBefore
	}

	var ev escalation.Evaluation
	if a.failure != nil {
		ev = r.escalator.Evaluate(task.ID, escalation.Counters{
			AttemptCount:        a.number,
			FailureCount:        tp.FailureCount,
			NonProgressCount:    tp.NonProgressCount,
			ConsecutiveFailures: st.ConsecutiveFailures,
		}, *a.failure)
		out.FailureCount = ev.Counters.FailureCount
		out.NonProgressCount = ev.Counters.NonProgressCount
		out.ConsecutiveFailures = ev.Counters.ConsecutiveFailures
		out.LastError = ev.LastError
		switch ev.Decision {
		case escalation.Escalate:
			out.Escalate = true
		case escalation.Abort:
			out.Abort = true
			out.StopReason = ev.Reason
		}
	}

	next, err := r.store.RecordAttempt(st, out)
	if err != nil {
		return st, nil, fmt.Errorf("recording attempt %d of %s: %w", a.number, task.ID, err)
	}
	r.attempts++
	r.recordHistory(next, a, ev)

	if a.failure == nil {
		r.metrics.RecordAttempt(task.ID, "success")
		r.logger.Info("task completed", "task", task.ID, "attempt", a.number)
		return next, nil, nil
	}
	r.metrics.RecordAttempt(task.ID, string(a.failure.Kind))
	r.metrics.RecordDecision(ev.Decision.String())

	switch ev.Decision {
	case escalation.Escalate:
		r.event(next, task.ID, history.EventEscalation, ev.Reason)
	case escalation.Abort:
		return next, fmt.Errorf("%w: %s", ErrConsecutiveFailureLimitExceeded, ev.Reason), nil
	}
	return next, nil, nil
}

func (r *Runner) pauseRateLimited(st *state.RunState, rl *RateLimited) (*state.RunState, error, error) {
	until := rl.Until
	return r.pauseRun(st, state.RunPausedRateLimit, rl, &until)
}

func (r *Runner) recordHistory(st *state.RunState, a *attempt, ev escalation.Evaluation) {
	rec := &history.Attempt{
		RunID:             st.RunID,
		TaskID:            a.task.ID,
		Attempt:           a.number,
		Outcome:           "success",
		InputTokens:       a.usage.InputTokens,
		OutputTokens:      a.usage.OutputTokens,
		FingerprintBefore: a.fingerprintBefore,
		FingerprintAfter:  a.fingerprintAfter,
		Duration:          r.now().Sub(a.started),
		StartedAt:         a.started,
	}
	if a.failure != nil {
		rec.Outcome = string(a.failure.Kind)
		rec.Decision = ev.Decision.String()
		rec.Error = a.failure.Error
	}
	if err := r.history.RecordAttempt(rec); err != nil {
		r.logger.Warn("recording attempt history failed", "task", a.task.ID, "error", err)
	}
}

func (r *Runner) observeHook(phase hooks.Phase) func(hooks.Result) {
	return func(res hooks.Result) {
		r.metrics.ObserveHook(string(phase), res.Passed(), res.Duration)
	}
}

func (r *Runner) saveHookLog(a *attempt, out hooks.Outcome, log *slog.Logger) {
	if r.hookLogs == nil {
		return
	}
	path, err := r.hookLogs.Write(a.task.ID, a.number, out)
	if err != nil {
		log.Warn("saving hook output failed", "phase", string(out.Phase), "error", err)
		return
	}
	if path != "" {
		r.lastLogs[a.task.ID] = path
	}
}

func editFailures(failed []edits.Failure) string {
	var b strings.Builder
	b.WriteString("edits not applied:")
	for _, f := range failed {
		fmt.Fprintf(&b, "\n  %s %s: %v", f.Edit.Kind, f.Edit.Path, f.Err)
	}
	return b.String()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
