// Package escalation turns failed task attempts into retry, escalate or
// abort decisions.
package escalation

import (
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// Decision is the outcome of evaluating a failed attempt.
type Decision int

const (
	// Retry runs the same task again with the last error as context.
	Retry Decision = iota
	// Escalate hands the task to a human.
	Escalate
	// Abort stops the whole run.
	Abort
	// Skip marks the task skipped. Only produced by Resolve.
	Skip
)

// String returns a human-readable representation of the decision.
func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Escalate:
		return "escalate"
	case Abort:
		return "abort"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// NonProgressThreshold is the number of unchanged-fingerprint failures that
// forces escalation regardless of the remaining attempt budget.
const NonProgressThreshold = 2

// FailureKind identifies which step of an attempt failed.
type FailureKind string

const (
	FailurePreHook  FailureKind = "pre-hook"
	FailureAgent    FailureKind = "agent"
	FailurePostHook FailureKind = "post-hook"
)

// Failure describes a failed attempt.
type Failure struct {
	Kind  FailureKind
	Error string
	// FingerprintBefore and FingerprintAfter bracket the agent call. They are
	// empty when the agent did not run.
	FingerprintBefore string
	FingerprintAfter  string
}

// NonProgress reports whether the agent ran, validation failed, and the
// working content did not change.
func (f Failure) NonProgress() bool {
	return f.Kind == FailurePostHook &&
		f.FingerprintBefore != "" &&
		f.FingerprintBefore == f.FingerprintAfter
}

// Counters are the inputs and outputs of an evaluation.
type Counters struct {
	// AttemptCount includes the attempt being evaluated.
	AttemptCount        int
	FailureCount        int
	NonProgressCount    int
	ConsecutiveFailures int
}

// Policy holds the configured ceilings.
type Policy struct {
	MaxAttemptsPerTask     int
	MaxConsecutiveFailures int
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	Decision Decision
	Counters Counters
	// LastError is carried into the next prompt on Retry.
	LastError string
	Reason    string
}

// Escalator applies the failure policy. It holds no per-task state; all
// counters come from and return to the caller.
type Escalator struct {
	policy Policy
	logger *slog.Logger
}

// New creates an Escalator. A nil logger discards output.
func New(policy Policy, logger *slog.Logger) *Escalator {
	if policy.MaxAttemptsPerTask < 1 {
		policy.MaxAttemptsPerTask = 1
	}
	if policy.MaxConsecutiveFailures < 1 {
		policy.MaxConsecutiveFailures = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Escalator{policy: policy, logger: logger}
}

// Policy returns the configured ceilings.
func (e *Escalator) Policy() Policy {
	return e.policy
}

// Evaluate decides what to do after a failed attempt of taskID.
// Checks run in order: consecutive failures abort the run, repeated
// non-progress escalates, an exhausted attempt budget escalates, and
// anything else retries.
func (e *Escalator) Evaluate(taskID string, c Counters, f Failure) Evaluation {
	c.FailureCount++
	c.ConsecutiveFailures++
	if f.NonProgress() {
		c.NonProgressCount++
	}

	ev := Evaluation{Counters: c, LastError: f.Error}
	log := e.logger.With("task", taskID, "attempt", c.AttemptCount, "failure", string(f.Kind))

	switch {
	case c.ConsecutiveFailures >= e.policy.MaxConsecutiveFailures:
		ev.Decision = Abort
		ev.Reason = fmt.Sprintf("%d consecutive failed attempts (max_consecutive_failures=%d)",
			c.ConsecutiveFailures, e.policy.MaxConsecutiveFailures)
	case c.NonProgressCount >= NonProgressThreshold:
		ev.Decision = Escalate
		ev.Reason = fmt.Sprintf("%d attempts made no change to the working tree while validation failed", c.NonProgressCount)
	case c.AttemptCount >= e.policy.MaxAttemptsPerTask:
		ev.Decision = Escalate
		ev.Reason = fmt.Sprintf("attempt budget exhausted (%d/%d)", c.AttemptCount, e.policy.MaxAttemptsPerTask)
	default:
		ev.Decision = Retry
		ev.Reason = fmt.Sprintf("attempt %d/%d failed", c.AttemptCount, e.policy.MaxAttemptsPerTask)
	}

	log.Info("attempt failed", "decision", ev.Decision.String(), "reason", ev.Reason, "error", f.Error)
	return ev
}

// Resolve maps a human decision onto the decision space. Retry implies the
// caller resets the attempt, non-progress and consecutive-failure counters.
func Resolve(i models.Intervention) (Decision, error) {
	switch i {
	case models.InterventionRetry:
		return Retry, nil
	case models.InterventionSkip:
		return Skip, nil
	case models.InterventionAbort:
		return Abort, nil
	default:
		return 0, fmt.Errorf("unknown intervention %q", i)
	}
}

// Summary formats the context shown to a human when a task is escalated.
func Summary(taskID string, c Counters, lastError, reason string) string {
	return fmt.Sprintf("Task %s escalated after %d attempt(s), %d failure(s), %d without progress.\nReason: %s\nLast error: %s",
		taskID, c.AttemptCount, c.FailureCount, c.NonProgressCount, reason, lastError)
}
