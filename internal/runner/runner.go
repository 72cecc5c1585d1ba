// Package runner drives a task list to completion, one attempt at a time,
// persisting every transition so an interrupted run can resume.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/ShayCichocki/taskmaster/internal/agent"
	"github.com/ShayCichocki/taskmaster/internal/edits"
	"github.com/ShayCichocki/taskmaster/internal/escalation"
	iexec "github.com/ShayCichocki/taskmaster/internal/exec"
	"github.com/ShayCichocki/taskmaster/internal/fingerprint"
	"github.com/ShayCichocki/taskmaster/internal/history"
	"github.com/ShayCichocki/taskmaster/internal/hooks"
	"github.com/ShayCichocki/taskmaster/internal/metrics"
	"github.com/ShayCichocki/taskmaster/internal/prompt"
	"github.com/ShayCichocki/taskmaster/internal/protect"
	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
	"github.com/ShayCichocki/taskmaster/internal/signals"
	"github.com/ShayCichocki/taskmaster/internal/state"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// Default escalation ceilings.
const (
	DefaultMaxAttemptsPerTask     = 3
	DefaultMaxConsecutiveFailures = 5
)

// Result describes how a Run ended.
type Result struct {
	RunID      string
	Status     state.RunStatus
	StopReason string
	// Resumed is set when saved state was picked up.
	Resumed bool
	// Attempts counts the attempts made by this invocation.
	Attempts    int
	PausedUntil *time.Time
	// Cause explains a pause: a *RateLimited, ErrEscalated, ErrNonProgress,
	// ErrInterrupted or a control-file sentinel.
	Cause error
	State *state.RunState
}

// Paused returns true if the run stopped in a resumable state.
func (r *Result) Paused() bool {
	return r.Status.Paused()
}

// Runner executes tasks sequentially. It is not safe for concurrent use;
// a single goroutine drives the whole run.
type Runner struct {
	taskFile     string
	tasks        []models.Task
	byID         map[string]*models.Task
	store        *state.Store
	agent        agent.Client
	hooks        hooks.Executor
	resolveHooks HookResolver

	limiter       *ratelimit.Limiter
	escalator     *escalation.Escalator
	fingerprinter Fingerprinter
	applier       Applier
	prompts       *prompt.Builder
	prompter      escalation.Prompter
	history       history.Recorder
	metrics       *metrics.Metrics
	hookLogs      *hooks.LogWriter
	pause         PauseSignal
	logger        *slog.Logger
	now           func() time.Time
	fresh         bool
	projectRoot   string
	maxTokens     int
	hookCommands  map[string]string

	// lastLogs remembers the hook log of each task's latest attempt.
	lastLogs map[string]string
	attempts int
}

// New validates the configuration and creates a Runner.
func New(cfg RequiredConfig, opts ...Option) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New("runner: state store is required")
	}
	if cfg.Agent == nil {
		return nil, errors.New("runner: agent client is required")
	}
	if cfg.Hooks == nil {
		return nil, errors.New("runner: hook executor is required")
	}
	if cfg.ResolveHooks == nil {
		return nil, errors.New("runner: hook resolver is required")
	}

	o := runnerOptions{
		policy: escalation.Policy{
			MaxAttemptsPerTask:     DefaultMaxAttemptsPerTask,
			MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.limiter == nil {
		o.limiter = ratelimit.New(nil)
	}
	if o.fingerprinter == nil {
		o.fingerprinter = fingerprint.OS()
	}
	if o.applier == nil {
		o.applier = edits.NewApplier(afero.NewOsFs(), iexec.NewRunner(), o.projectRoot, false, o.logger).
			WithGuard(protect.New())
	}
	if o.prompts == nil {
		o.prompts = prompt.NewBuilder("")
	}
	if o.history == nil {
		o.history = history.Nop{}
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	byID := make(map[string]*models.Task, len(cfg.Tasks))
	tasks := make([]models.Task, len(cfg.Tasks))
	copy(tasks, cfg.Tasks)
	for i := range tasks {
		t := &tasks[i]
		if t.ID == "" {
			return nil, configError("task %d has no id", i+1)
		}
		if _, dup := byID[t.ID]; dup {
			return nil, configError("duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
	}

	r := &Runner{
		taskFile:      cfg.TaskFile,
		tasks:         tasks,
		byID:          byID,
		store:         cfg.Store,
		agent:         cfg.Agent,
		hooks:         cfg.Hooks,
		resolveHooks:  cfg.ResolveHooks,
		limiter:       o.limiter,
		escalator:     escalation.New(o.policy, o.logger),
		fingerprinter: o.fingerprinter,
		applier:       o.applier,
		prompts:       o.prompts,
		prompter:      o.prompter,
		history:       o.history,
		metrics:       o.metrics,
		pause:         o.pause,
		logger:        o.logger,
		now:           o.now,
		fresh:         o.fresh,
		projectRoot:   o.projectRoot,
		maxTokens:     o.maxTokens,
		hookLogs:      o.hookLogs,
		hookCommands:  o.hookCommands,
		lastLogs:      make(map[string]string),
	}
	return r, nil
}

// Identity returns the identity of the run state this runner works on.
func (r *Runner) Identity() state.Identity {
	ids := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		ids[i] = t.ID
	}
	return state.Identity{TaskFile: r.taskFile, TaskIDs: ids}
}

// Run executes tasks from the saved position until the list completes, a
// pause condition is hit, or a fatal error occurs. Pauses return a nil
// error; the Result says why the run stopped.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.checkHooks(); err != nil {
		return nil, err
	}

	st, resumed, err := r.store.LoadOrCreate(r.Identity(), r.fresh)
	if err != nil {
		if errors.Is(err, state.ErrStateMismatch) {
			return nil, &ConfigurationError{Err: fmt.Errorf("%w; start over with --fresh", err)}
		}
		return nil, fmt.Errorf("loading run state: %w", err)
	}
	for provider, usage := range st.RateLimits {
		r.limiter.Restore(provider, usage)
	}

	res := &Result{RunID: st.RunID, Resumed: resumed}
	log := r.logger.With("run_id", st.RunID)

	if resumed {
		log.Info("resuming run", "status", string(st.Status), "task_index", st.CurrentTaskIndex,
			"completed", len(st.CompletedTaskIDs), "tasks", len(st.TaskIDs))
		if st.Status != state.RunActive && st.Status != state.RunCompleted {
			if st, err = r.store.RecordResume(st); err != nil {
				return nil, fmt.Errorf("resuming run: %w", err)
			}
		}
	} else {
		log.Info("starting run", "task_file", r.taskFile, "tasks", len(st.TaskIDs), "provider", r.agent.Name())
	}

	if err := r.history.StartRun(&history.Run{
		ID:        st.RunID,
		TaskFile:  r.taskFile,
		Provider:  r.agent.Name(),
		PID:       os.Getpid(),
		Status:    string(st.Status),
		StartedAt: r.now(),
	}); err != nil {
		log.Warn("recording run start failed", "error", err)
	}
	if resumed {
		r.event(st, "", history.EventResume, fmt.Sprintf("resumed at task index %d", st.CurrentTaskIndex))
	}

	st, cause, err := r.loop(ctx, st)
	return r.finish(res, st, cause, err)
}

func (r *Runner) loop(ctx context.Context, st *state.RunState) (*state.RunState, error, error) {
	for !st.Done() {
		if ctx.Err() != nil {
			return r.interrupt(st, context.Cause(ctx))
		}

		taskID, _ := st.CurrentTaskID()
		task, ok := r.byID[taskID]
		if !ok {
			return st, nil, configError("task %q from run state is not in the task list", taskID)
		}

		var (
			cause error
			err   error
		)
		if st.Task(taskID).Escalated {
			st, cause, err = r.resolveEscalation(ctx, st, task)
		} else if r.pause != nil && r.pause.ShouldPause() {
			st, cause, err = r.pauseRun(st, state.RunPausedInterrupted, signals.ErrPauseRequested, nil)
		} else {
			st, cause, err = r.attempt(ctx, st, task)
		}
		if err != nil || cause != nil {
			return st, cause, err
		}
	}
	return st, nil, nil
}

// resolveEscalation applies a recorded decision, asks the prompter for one,
// or pauses the run to wait for one.
func (r *Runner) resolveEscalation(ctx context.Context, st *state.RunState, task *models.Task) (*state.RunState, error, error) {
	tp := st.Task(task.ID)
	log := r.logger.With("task", task.ID)

	if tp.UserIntervention == nil {
		if r.prompter == nil {
			return r.awaitDecision(st, task)
		}
		decision, err := r.prompter.Ask(ctx, r.escalationRequest(st, task))
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupt(st, context.Cause(ctx))
			}
			log.Warn("escalation prompt returned no decision", "error", err)
			return r.awaitDecision(st, task)
		}
		if st, err = r.store.RecordIntervention(st, task.ID, decision); err != nil {
			return st, nil, fmt.Errorf("recording decision for %s: %w", task.ID, err)
		}
		r.event(st, task.ID, history.EventIntervention, string(decision))
	}

	decision := *st.Task(task.ID).UserIntervention
	resolved, err := escalation.Resolve(decision)
	if err != nil {
		return st, nil, configError("task %s: %w", task.ID, err)
	}
	next, err := r.store.RecordResolution(st, task.ID)
	if err != nil {
		return st, nil, fmt.Errorf("applying decision for %s: %w", task.ID, err)
	}
	r.metrics.RecordDecision("human_" + resolved.String())
	log.Info("applied human decision", "decision", resolved.String())

	if next.Status == state.RunPausedUserAbort {
		return next, fmt.Errorf("%w: aborted by user at task %s", ErrEscalated, task.ID), nil
	}
	return next, nil, nil
}

// awaitDecision leaves the run paused until a decision is recorded.
func (r *Runner) awaitDecision(st *state.RunState, task *models.Task) (*state.RunState, error, error) {
	tp := st.Task(task.ID)
	reason := r.escalationReason(tp)
	cause := fmt.Errorf("%w: task %s: %s", ErrEscalated, task.ID, reason)
	if tp.NonProgressCount >= escalation.NonProgressThreshold {
		cause = fmt.Errorf("%w: task %s: %s", ErrNonProgress, task.ID, reason)
	}
	if st.Status == state.RunPausedEscalation {
		return st, cause, nil
	}
	stopReason := fmt.Sprintf("task %s needs a decision: %s", task.ID, reason)
	next, err := r.store.RecordPause(st, state.RunPausedEscalation, stopReason, nil, nil)
	if err != nil {
		return st, nil, fmt.Errorf("pausing for escalation: %w", err)
	}
	return next, cause, nil
}

func (r *Runner) escalationRequest(st *state.RunState, task *models.Task) escalation.Request {
	tp := st.Task(task.ID)
	req := escalation.Request{
		TaskID: task.ID,
		Title:  task.Title,
		Counters: escalation.Counters{
			AttemptCount:        tp.AttemptCount,
			FailureCount:        tp.FailureCount,
			NonProgressCount:    tp.NonProgressCount,
			ConsecutiveFailures: st.ConsecutiveFailures,
		},
		MaxAttempts: r.escalator.Policy().MaxAttemptsPerTask,
		Reason:      r.escalationReason(tp),
		LogFile:     r.lastLogs[task.ID],
	}
	if tp.LastError != nil {
		req.LastError = *tp.LastError
	}
	return req
}

func (r *Runner) escalationReason(tp state.TaskProgress) string {
	if tp.NonProgressCount >= escalation.NonProgressThreshold {
		return fmt.Sprintf("%d attempts made no change to the working tree while validation failed", tp.NonProgressCount)
	}
	return fmt.Sprintf("attempt budget exhausted (%d/%d)", tp.AttemptCount, r.escalator.Policy().MaxAttemptsPerTask)
}

// interrupt abandons the in-flight attempt and persists paused-interrupted.
func (r *Runner) interrupt(st *state.RunState, cause error) (*state.RunState, error, error) {
	if cause == nil || errors.Is(cause, context.Canceled) {
		cause = ErrInterrupted
	}
	return r.pauseRun(st, state.RunPausedInterrupted, cause, nil)
}

func (r *Runner) pauseRun(st *state.RunState, status state.RunStatus, cause error, until *time.Time) (*state.RunState, error, error) {
	next, err := r.store.RecordPause(st, status, cause.Error(), until, r.usageSnapshot())
	if err != nil {
		return st, nil, fmt.Errorf("pausing run: %w", err)
	}
	return next, cause, nil
}

func (r *Runner) usageSnapshot() map[string]ratelimit.Usage {
	name := r.agent.Name()
	return map[string]ratelimit.Usage{name: r.limiter.Usage(name)}
}

// finish records the end of an invocation and builds its Result.
func (r *Runner) finish(res *Result, st *state.RunState, cause, err error) (*Result, error) {
	res.State = st
	res.Status = st.Status
	res.StopReason = st.StopReason
	res.PausedUntil = st.PausedUntil
	res.Attempts = r.attempts
	res.Cause = cause

	r.publishTasks(st)
	log := r.logger.With("run_id", st.RunID, "status", string(st.Status))

	switch {
	case err != nil:
		log.Error("run stopped", "error", err)
	case st.Status == state.RunCompleted:
		log.Info("run completed", "completed", len(st.CompletedTaskIDs), "skipped", len(st.SkippedTaskIDs))
		r.event(st, "", history.EventCompleted, fmt.Sprintf("%d completed, %d skipped", len(st.CompletedTaskIDs), len(st.SkippedTaskIDs)))
	case st.Status == state.RunAborted:
		log.Error("run aborted", "reason", st.StopReason)
		err = fmt.Errorf("%w: %s", ErrConsecutiveFailureLimitExceeded, st.StopReason)
	case st.Status.Paused():
		log.Warn("run paused", "reason", st.StopReason)
		r.metrics.RecordPause(string(st.Status))
		kind := history.EventPause
		if st.Status == state.RunPausedInterrupted {
			kind = history.EventInterrupted
		}
		r.event(st, "", kind, st.StopReason)
	}

	if herr := r.history.FinishRun(st.RunID, string(st.Status), r.now()); herr != nil {
		log.Warn("recording run end failed", "error", herr)
	}
	return res, err
}

func (r *Runner) publishTasks(st *state.RunState) {
	completed, skipped := len(st.CompletedTaskIDs), len(st.SkippedTaskIDs)
	pending := len(st.TaskIDs) - completed - skipped
	if pending < 0 {
		pending = 0
	}
	r.metrics.SetTasks(completed, skipped, pending)
}

func (r *Runner) event(st *state.RunState, taskID string, kind history.EventKind, detail string) {
	err := r.history.RecordEvent(&history.Event{
		RunID:     st.RunID,
		TaskID:    taskID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: r.now(),
	})
	if err != nil {
		r.logger.Warn("recording history event failed", "kind", string(kind), "error", err)
	}
}

// checkHooks fails fast on hook IDs that do not resolve.
func (r *Runner) checkHooks() error {
	for _, t := range r.tasks {
		if _, err := r.resolveHooks(t.PreHooks, t.WorkPath()); err != nil {
			return &ConfigurationError{Err: fmt.Errorf("task %s pre_hooks: %w", t.ID, err)}
		}
		if _, err := r.resolveHooks(t.PostHooks, t.WorkPath()); err != nil {
			return &ConfigurationError{Err: fmt.Errorf("task %s post_hooks: %w", t.ID, err)}
		}
	}
	return nil
}

func (r *Runner) workDir(task *models.Task) string {
	return filepath.Join(r.projectRoot, task.WorkPath())
}
