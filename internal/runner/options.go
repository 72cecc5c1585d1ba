package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/ShayCichocki/taskmaster/internal/agent"
	"github.com/ShayCichocki/taskmaster/internal/edits"
	"github.com/ShayCichocki/taskmaster/internal/escalation"
	"github.com/ShayCichocki/taskmaster/internal/history"
	"github.com/ShayCichocki/taskmaster/internal/hooks"
	"github.com/ShayCichocki/taskmaster/internal/metrics"
	"github.com/ShayCichocki/taskmaster/internal/prompt"
	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
	"github.com/ShayCichocki/taskmaster/internal/state"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// Fingerprinter content-addresses a working directory.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (string, error)
}

// Applier writes the edits of an agent response under a task path.
type Applier interface {
	Apply(ctx context.Context, taskPath string, e []edits.Edit) (edits.Report, error)
}

// PauseSignal reports an operator request to stop after the current attempt.
type PauseSignal interface {
	ShouldPause() bool
}

// HookResolver turns hook IDs into runnable specs for a task path.
type HookResolver func(ids []string, taskPath string) ([]hooks.Spec, error)

// RequiredConfig contains the collaborators a Runner cannot work without.
type RequiredConfig struct {
	// TaskFile is recorded in the run state. Resume matches on task IDs
	// only, so a moved task file still resumes.
	TaskFile string
	// Tasks are executed in order.
	Tasks []models.Task
	// Store persists the run state.
	Store *state.Store
	// Agent generates changes for each attempt.
	Agent agent.Client
	// Hooks runs pre- and post-hooks.
	Hooks hooks.Executor
	// ResolveHooks maps the hook IDs of a task to specs.
	ResolveHooks HookResolver
}

// Option configures a Runner. Use With* functions to create Options.
type Option func(*runnerOptions)

type runnerOptions struct {
	limiter       *ratelimit.Limiter
	policy        escalation.Policy
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
}

// WithLimiter sets the rate limiter. Without one requests are never denied.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *runnerOptions) { o.limiter = l }
}

// WithPolicy sets the attempt and consecutive-failure ceilings.
func WithPolicy(p escalation.Policy) Option {
	return func(o *runnerOptions) { o.policy = p }
}

// WithFingerprinter overrides how working directories are fingerprinted.
func WithFingerprinter(f Fingerprinter) Option {
	return func(o *runnerOptions) { o.fingerprinter = f }
}

// WithApplier overrides how agent edits are applied.
func WithApplier(a Applier) Option {
	return func(o *runnerOptions) { o.applier = a }
}

// WithPromptBuilder sets the prompt builder.
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(o *runnerOptions) { o.prompts = b }
}

// WithPrompter sets who is asked when a task is escalated. Without a
// prompter the run pauses until a decision is recorded.
func WithPrompter(p escalation.Prompter) Option {
	return func(o *runnerOptions) { o.prompter = p }
}

// WithHistory sets the attempt history recorder.
func WithHistory(h history.Recorder) Option {
	return func(o *runnerOptions) { o.history = h }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *runnerOptions) { o.metrics = m }
}

// WithHookLogs saves hook output for every attempt.
func WithHookLogs(w *hooks.LogWriter) Option {
	return func(o *runnerOptions) { o.hookLogs = w }
}

// WithPauseSignal lets an operator pause the run between attempts.
func WithPauseSignal(p PauseSignal) Option {
	return func(o *runnerOptions) { o.pause = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *runnerOptions) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *runnerOptions) { o.now = now }
}

// WithFresh discards any saved state and starts over.
func WithFresh(b bool) Option {
	return func(o *runnerOptions) { o.fresh = b }
}

// WithProjectRoot sets the directory task paths are relative to.
func WithProjectRoot(dir string) Option {
	return func(o *runnerOptions) { o.projectRoot = dir }
}

// WithMaxTokens sets the output token budget of each request.
func WithMaxTokens(n int) Option {
	return func(o *runnerOptions) { o.maxTokens = n }
}

// WithHookCommands lists hook commands by ID for the prompt requirements.
func WithHookCommands(m map[string]string) Option {
	return func(o *runnerOptions) { o.hookCommands = m }
}
