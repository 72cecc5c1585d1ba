package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskmaster/pkg/models"
)

func hookFailure(msg string) Failure {
	return Failure{Kind: FailurePostHook, Error: msg, FingerprintBefore: "before", FingerprintAfter: "after"}
}

func TestEvaluate_EscalationThreshold(t *testing.T) {
	e := New(Policy{MaxAttemptsPerTask: 3, MaxConsecutiveFailures: 10}, nil)

	var c Counters
	var got []Decision
	for i := 0; i < 3; i++ {
		c.AttemptCount++
		ev := e.Evaluate("a", c, hookFailure("tests failed"))
		got = append(got, ev.Decision)
		c = ev.Counters
	}

	assert.Equal(t, []Decision{Retry, Retry, Escalate}, got)
	assert.Equal(t, 3, c.FailureCount)
	assert.Equal(t, 0, c.NonProgressCount)
}

func TestEvaluate_RetryCarriesLastError(t *testing.T) {
	e := New(Policy{MaxAttemptsPerTask: 3, MaxConsecutiveFailures: 3}, nil)

	ev := e.Evaluate("a", Counters{AttemptCount: 1}, hookFailure("undefined: Foo"))
	assert.Equal(t, Retry, ev.Decision)
	assert.Equal(t, "undefined: Foo", ev.LastError)
}

func TestEvaluate_ConsecutiveFailureAbortAcrossTasks(t *testing.T) {
	e := New(Policy{MaxAttemptsPerTask: 1, MaxConsecutiveFailures: 2}, nil)

	first := e.Evaluate("a", Counters{AttemptCount: 1}, Failure{Kind: FailureAgent, Error: "401"})
	assert.Equal(t, Escalate, first.Decision)

	// Task a was skipped by a human; task b starts with fresh task counters
	// but inherits the run-level streak.
	second := e.Evaluate("b", Counters{AttemptCount: 1, ConsecutiveFailures: first.Counters.ConsecutiveFailures},
		Failure{Kind: FailureAgent, Error: "401"})
	assert.Equal(t, Abort, second.Decision)
	assert.Contains(t, second.Reason, "consecutive")
}

func TestEvaluate_AbortTakesPrecedence(t *testing.T) {
	e := New(Policy{MaxAttemptsPerTask: 3, MaxConsecutiveFailures: 3}, nil)

	ev := e.Evaluate("a", Counters{AttemptCount: 3, ConsecutiveFailures: 2}, hookFailure("x"))
	assert.Equal(t, Abort, ev.Decision)
}

func TestEvaluate_NonProgressOverride(t *testing.T) {
	e := New(Policy{MaxAttemptsPerTask: 10, MaxConsecutiveFailures: 10}, nil)
	unchanged := Failure{Kind: FailurePostHook, Error: "same failure", FingerprintBefore: "f", FingerprintAfter: "f"}

	var c Counters
	c.AttemptCount = 1
	ev := e.Evaluate("a", c, unchanged)
	assert.Equal(t, Retry, ev.Decision)
	assert.Equal(t, 1, ev.Counters.NonProgressCount)

	c = ev.Counters
	c.AttemptCount = 2
	ev = e.Evaluate("a", c, unchanged)
	assert.Equal(t, Escalate, ev.Decision)
	assert.Equal(t, 2, ev.Counters.NonProgressCount)
}

func TestFailure_NonProgress(t *testing.T) {
	tests := []struct {
		name string
		f    Failure
		want bool
	}{
		{"post-hook with unchanged fingerprint", Failure{Kind: FailurePostHook, FingerprintBefore: "x", FingerprintAfter: "x"}, true},
		{"post-hook with changed fingerprint", Failure{Kind: FailurePostHook, FingerprintBefore: "x", FingerprintAfter: "y"}, false},
		{"pre-hook never counts", Failure{Kind: FailurePreHook}, false},
		{"agent failure never counts", Failure{Kind: FailureAgent, FingerprintBefore: "x", FingerprintAfter: "x"}, false},
		{"missing fingerprints", Failure{Kind: FailurePostHook}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.NonProgress())
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		in   models.Intervention
		want Decision
	}{
		{models.InterventionRetry, Retry},
		{models.InterventionSkip, Skip},
		{models.InterventionAbort, Abort},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Resolve("manual_fix")
	assert.Error(t, err)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "escalate", Escalate.String())
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "skip", Skip.String())
	assert.Equal(t, "unknown", Decision(42).String())
}

func TestNew_ClampsPolicy(t *testing.T) {
	e := New(Policy{}, nil)
	assert.Equal(t, Policy{MaxAttemptsPerTask: 1, MaxConsecutiveFailures: 1}, e.Policy())
}
