package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/agent"
	"github.com/ShayCichocki/taskmaster/internal/config"
	"github.com/ShayCichocki/taskmaster/internal/edits"
	"github.com/ShayCichocki/taskmaster/internal/escalation"
	iexec "github.com/ShayCichocki/taskmaster/internal/exec"
	"github.com/ShayCichocki/taskmaster/internal/fingerprint"
	"github.com/ShayCichocki/taskmaster/internal/hooks"
	"github.com/ShayCichocki/taskmaster/internal/metrics"
	"github.com/ShayCichocki/taskmaster/internal/prompt"
	"github.com/ShayCichocki/taskmaster/internal/protect"
	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
	"github.com/ShayCichocki/taskmaster/internal/runner"
	"github.com/ShayCichocki/taskmaster/internal/signals"
	"github.com/ShayCichocki/taskmaster/internal/state"
	"github.com/ShayCichocki/taskmaster/internal/tasklist"
	"github.com/ShayCichocki/taskmaster/internal/tui"
)

// errSignal is the cancellation cause for SIGINT and SIGTERM.
var errSignal = errors.New("interrupted by signal")

var (
	runFresh    bool
	runProvider string
	runDryRun   bool
	runNoPrompt bool
)

var runCmd = &cobra.Command{
	Use:   "run <task-file>",
	Short: "Run the tasks of a task file",
	Long: `Run the tasks of a YAML, JSON or TOML task file in order.

If saved state for the same task file exists, the run continues where it
stopped. Use --fresh to discard it and start over.

When a task exhausts its attempt budget or stops making progress you are
asked to retry, skip or abort it. With --no-prompt, or when stdin is not a
terminal, the run pauses instead; record a decision with 'taskmaster decide'
and continue with 'taskmaster resume'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(cmd.Context(), cmd.OutOrStdout(), args[0], runOptions{
			fresh:    runFresh,
			provider: runProvider,
			dryRun:   runDryRun,
			noPrompt: runNoPrompt,
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "Discard saved state and start over")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "Provider to use (overrides active_provider)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Run hooks and the agent but do not apply edits")
	runCmd.Flags().BoolVar(&runNoPrompt, "no-prompt", false, "Pause on escalation instead of asking")
}

type runOptions struct {
	fresh    bool
	provider string
	dryRun   bool
	noPrompt bool
}

// execute wires the runner for a task file and reports how the run ended.
func execute(ctx context.Context, w io.Writer, taskFile string, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(w)
	if err != nil {
		return err
	}

	providerName := cfg.ActiveProvider
	if opts.provider != "" {
		providerName = opts.provider
	}
	provider, ok := cfg.Provider(providerName)
	if !ok {
		return &runner.ConfigurationError{Err: fmt.Errorf("provider %q is not configured", providerName)}
	}

	lg, err := newLogger(cfg)
	if err != nil {
		return &runner.ConfigurationError{Err: err}
	}
	defer lg.Close()
	logger := lg.Logger

	fs := afero.NewOsFs()
	if abs, err := filepath.Abs(taskFile); err == nil {
		taskFile = abs
	}
	list, err := tasklist.Load(fs, taskFile)
	if err != nil {
		return &runner.ConfigurationError{Err: err}
	}
	list.ApplyHookDefaults(cfg.HookDefaults.PreHooks, cfg.HookDefaults.PostHooks)
	if unknown := list.UnknownHooks(func(id string) bool { _, ok := cfg.Hook(id); return ok }); len(unknown) > 0 {
		return &runner.ConfigurationError{Err: fmt.Errorf("%w: %v", hooks.ErrUnknownHook, unknown)}
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(w, "\nReceived interrupt, finishing up...")
			cancel(errSignal)
		case <-ctx.Done():
		}
	}()

	client, err := agent.New(ctx, cfg, providerName, logger)
	if err != nil {
		return &runner.ConfigurationError{Err: err}
	}

	watcher, err := signals.New(cfg.StateDir)
	if err != nil {
		logger.Warn("control files unavailable", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Clear(); err != nil {
			logger.Warn("clearing control files failed", "error", err)
		}
		watcher.Bind(cancel)
	}

	rec, closeHistory := openHistory(cfg, logger)
	defer closeHistory()
	m := metrics.New()
	cmdRunner := iexec.NewRunner()

	hookCommands := make(map[string]string, len(cfg.Hooks))
	for id, h := range cfg.Hooks {
		hookCommands[id] = h.Command
	}

	guard := protect.New(cfg.ProtectedPaths...)
	protectDir(guard, root, cfg.StateDir)
	protectDir(guard, root, cfg.LogDir)

	runnerOpts := []runner.Option{
		runner.WithLimiter(ratelimit.New(cfg.RateLimits())),
		runner.WithPolicy(escalation.Policy{
			MaxAttemptsPerTask:     cfg.MaxAttemptsPerTask,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		}),
		runner.WithFingerprinter(fingerprint.New(fs, cfg.Fingerprint.Ignore...).
			Exclude(resolveDir(root, cfg.StateDir), resolveDir(root, cfg.LogDir))),
		runner.WithApplier(edits.NewApplier(fs, cmdRunner, root, opts.dryRun, logger).WithGuard(guard)),
		runner.WithPromptBuilder(prompt.NewBuilder("")),
		runner.WithHistory(rec),
		runner.WithMetrics(m),
		runner.WithHookLogs(hooks.NewLogWriter(fs, cfg.LogDir)),
		runner.WithLogger(logger),
		runner.WithFresh(opts.fresh),
		runner.WithProjectRoot(root),
		runner.WithMaxTokens(provider.MaxTokens),
		runner.WithHookCommands(hookCommands),
	}
	if watcher != nil {
		runnerOpts = append(runnerOpts, runner.WithPauseSignal(watcher))
	}
	if !opts.noPrompt && isTerminal(os.Stdin) {
		runnerOpts = append(runnerOpts, runner.WithPrompter(tui.NewTerminalPrompter(os.Stdin, os.Stdout)))
	}

	r, err := runner.New(runner.RequiredConfig{
		TaskFile: list.Path,
		Tasks:    list.Tasks,
		Store:    state.NewStore(fs, cfg.StateDir),
		Agent:    client,
		Hooks:    hooks.NewShellExecutor(cmdRunner, root),
		ResolveHooks: func(ids []string, taskPath string) ([]hooks.Spec, error) {
			return hooks.Resolve(cfg, ids, taskPath)
		},
	}, runnerOpts...)
	if err != nil {
		return err
	}

	if opts.dryRun {
		printStatus(w, "•", "Dry run: edits are reported, not written", color.FgCyan)
	}
	res, runErr := r.Run(ctx)

	if path, err := m.WriteFile(cfg.StateDir); err != nil {
		logger.Warn("writing metrics failed", "error", err)
	} else {
		logger.Debug("metrics written", "path", path)
	}
	if res != nil {
		printResult(w, cfg, res)
	}
	if lg.Path() != "" {
		fmt.Fprintf(w, "Log: %s\n", lg.Path())
	}
	return runErr
}

// resolveDir anchors a configured directory at the project root.
func resolveDir(root, dir string) string {
	if dir == "" {
		return ""
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Clean(dir)
}

// protectDir keeps edits out of dir when it lies inside the project.
func protectDir(g *protect.Guard, root, dir string) {
	if dir == "" {
		return
	}
	dir = resolveDir(root, dir)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}
	g.Add(rel + "/")
}

// printResult tells the operator how the run ended and what to do next.
func printResult(w io.Writer, cfg *config.Config, res *runner.Result) {
	st := res.State
	switch res.Status {
	case state.RunCompleted:
		printStatus(w, "✓", fmt.Sprintf("Run completed: %d task(s) completed, %d skipped",
			len(st.CompletedTaskIDs), len(st.SkippedTaskIDs)), color.FgGreen)
	case state.RunPausedRateLimit:
		msg := "Paused: rate limited"
		if res.PausedUntil != nil {
			msg = fmt.Sprintf("Paused: rate limited until %s (in %s)",
				res.PausedUntil.Local().Format(time.Kitchen), formatDuration(time.Until(*res.PausedUntil)))
		}
		printStatus(w, "⏸", msg, color.FgYellow)
		fmt.Fprintln(w, "  Run 'taskmaster resume' once the window has reset.")
	case state.RunPausedEscalation:
		taskID, _ := st.CurrentTaskID()
		printStatus(w, "⏸", "Paused: "+res.StopReason, color.FgYellow)
		fmt.Fprintf(w, "  Run 'taskmaster decide %s retry|skip|abort', then 'taskmaster resume'.\n", taskID)
		if tp := st.Task(taskID); tp.LastError != nil {
			fmt.Fprintf(w, "  Last error: %s\n", firstLine(*tp.LastError, 120))
		}
	case state.RunPausedInterrupted, state.RunPausedUserAbort:
		printStatus(w, "⏸", "Paused: "+res.StopReason, color.FgYellow)
		fmt.Fprintln(w, "  Run 'taskmaster resume' to continue.")
	case state.RunAborted:
		printStatus(w, "✗", "Aborted: "+res.StopReason, color.FgRed)
		fmt.Fprintln(w, "  Fix the cause, then 'taskmaster resume' continues with a fresh failure streak.")
	default:
		printStatus(w, "•", fmt.Sprintf("Run stopped with status %s", res.Status), color.FgCyan)
	}
	fmt.Fprintf(w, "  Progress: %d/%d, attempts this run: %d, state: %s\n",
		st.CurrentTaskIndex, len(st.TaskIDs), res.Attempts, filepath.Join(cfg.StateDir, state.FileName))
}
