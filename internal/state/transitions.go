package state

import (
	"fmt"
	"slices"
	"time"

	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// AttemptOutcome is everything one attempt contributes to the run state.
// Counters are the values after the escalation policy has been applied.
type AttemptOutcome struct {
	TaskID    string
	Succeeded bool

	FailureCount        int
	NonProgressCount    int
	ConsecutiveFailures int
	LastError           string
	Fingerprint         string

	// Escalate marks the task as waiting for a human decision.
	Escalate bool
	// Abort stops the run; StopReason records why.
	Abort      bool
	StopReason string

	// Usage holds provider rate-limit snapshots taken after the attempt.
	Usage map[string]ratelimit.Usage
}

// next clones the state, applies fn and stamps the revision.
func (s *RunState) next(now time.Time, fn func(n *RunState)) *RunState {
	n := s.Clone()
	fn(n)
	n.Revision++
	n.UpdatedAt = now.UTC()
	if n.UpdatedAt.Before(n.CreatedAt) {
		n.UpdatedAt = n.CreatedAt
	}
	return n
}

// WithAttempt folds a finished attempt into the state.
func (s *RunState) WithAttempt(o AttemptOutcome, now time.Time) (*RunState, error) {
	idx := slices.Index(s.TaskIDs, o.TaskID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, o.TaskID)
	}

	return s.next(now, func(n *RunState) {
		tp := n.Task(o.TaskID)
		tp.AttemptCount++
		tp.LastFingerprint = o.Fingerprint

		if o.Succeeded {
			tp.Status = models.TaskStatusCompleted
			tp.LastError = nil
			tp.Escalated = false
			n.ConsecutiveFailures = 0
			if !slices.Contains(n.CompletedTaskIDs, o.TaskID) {
				n.CompletedTaskIDs = append(n.CompletedTaskIDs, o.TaskID)
			}
			n.advancePast(idx)
		} else {
			tp.Status = models.TaskStatusFailed
			tp.FailureCount = o.FailureCount
			tp.NonProgressCount = o.NonProgressCount
			lastErr := o.LastError
			tp.LastError = &lastErr
			n.ConsecutiveFailures = o.ConsecutiveFailures
			if o.Escalate {
				tp.Escalated = true
				tp.UserIntervention = nil
				n.Status = RunPausedEscalation
				n.StopReason = fmt.Sprintf("task %s needs a decision: %s", o.TaskID, o.LastError)
			}
			if o.Abort {
				n.Status = RunAborted
				n.StopReason = o.StopReason
			}
		}
		n.Tasks[o.TaskID] = tp
		n.mergeUsage(o.Usage)
	}), nil
}

// WithRateLimitUsage replaces one provider's usage snapshot.
func (s *RunState) WithRateLimitUsage(provider string, usage ratelimit.Usage, now time.Time) *RunState {
	return s.next(now, func(n *RunState) {
		n.RateLimits[provider] = usage.Clone()
	})
}

// WithIntervention records a human decision for an escalated task.
func (s *RunState) WithIntervention(taskID string, decision models.Intervention, now time.Time) (*RunState, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("invalid intervention %q", decision)
	}
	if !slices.Contains(s.TaskIDs, taskID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
	}
	if !s.Task(taskID).Escalated {
		return nil, fmt.Errorf("%w: %s", ErrNotEscalated, taskID)
	}

	return s.next(now, func(n *RunState) {
		tp := n.Task(taskID)
		d := decision
		tp.UserIntervention = &d
		n.Tasks[taskID] = tp
	}), nil
}

// WithResolution applies the recorded decision of an escalated task.
// Retry grants a fresh attempt budget, skip advances past the task and
// abort pauses the run until the next invocation.
func (s *RunState) WithResolution(taskID string, now time.Time) (*RunState, error) {
	idx := slices.Index(s.TaskIDs, taskID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
	}
	tp := s.Task(taskID)
	if !tp.Escalated || tp.UserIntervention == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotEscalated, taskID)
	}
	decision := *tp.UserIntervention

	return s.next(now, func(n *RunState) {
		tp := n.Task(taskID)
		switch decision {
		case models.InterventionRetry:
			tp.Escalated = false
			tp.Status = models.TaskStatusPending
			tp.AttemptCount = 0
			tp.NonProgressCount = 0
			n.ConsecutiveFailures = 0
			n.Status = RunActive
			n.StopReason = ""
		case models.InterventionSkip:
			tp.Escalated = false
			tp.Status = models.TaskStatusSkipped
			if !slices.Contains(n.SkippedTaskIDs, taskID) {
				n.SkippedTaskIDs = append(n.SkippedTaskIDs, taskID)
			}
			n.Status = RunActive
			n.StopReason = ""
			n.advancePast(idx)
		case models.InterventionAbort:
			tp.UserIntervention = nil
			n.Status = RunPausedUserAbort
			n.StopReason = fmt.Sprintf("aborted by user at task %s", taskID)
		}
		n.Tasks[taskID] = tp
	}), nil
}

// WithPause stops the run in a resumable state.
func (s *RunState) WithPause(status RunStatus, reason string, until *time.Time, usage map[string]ratelimit.Usage, now time.Time) (*RunState, error) {
	if !status.Paused() {
		return nil, fmt.Errorf("%q is not a pause state", status)
	}
	return s.next(now, func(n *RunState) {
		n.Status = status
		n.StopReason = reason
		n.PausedUntil = nil
		if until != nil {
			t := until.UTC()
			n.PausedUntil = &t
		}
		n.mergeUsage(usage)
	}), nil
}

// WithResume marks the run active again. Resuming after a consecutive
// failure abort clears the failure streak.
func (s *RunState) WithResume(now time.Time) *RunState {
	return s.next(now, func(n *RunState) {
		if n.Status == RunAborted {
			n.ConsecutiveFailures = 0
		}
		if n.Done() {
			n.Status = RunCompleted
		} else {
			n.Status = RunActive
		}
		n.StopReason = ""
		n.PausedUntil = nil
	})
}

// advancePast moves the index beyond idx and completes the run when no
// tasks remain. The index never moves backwards.
func (s *RunState) advancePast(idx int) {
	if idx+1 > s.CurrentTaskIndex {
		s.CurrentTaskIndex = idx + 1
	}
	if s.Done() {
		s.Status = RunCompleted
		s.StopReason = ""
	}
}

func (s *RunState) mergeUsage(usage map[string]ratelimit.Usage) {
	for provider, u := range usage {
		s.RateLimits[provider] = u.Clone()
	}
}
