package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/taskmaster/internal/escalation"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

func testRequest() escalation.Request {
	return escalation.Request{
		TaskID:      "task-123",
		Title:       "Fix authentication bug",
		Counters:    escalation.Counters{AttemptCount: 3, FailureCount: 3, NonProgressCount: 1},
		MaxAttempts: 3,
		Reason:      "attempt budget exhausted (3/3)",
		LastError:   "post-hook tests exited 1",
		LogFile:     "/tmp/task-123/attempt-3-post.log",
	}
}

func press(m tea.Model, r rune) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
}

// TestEscalationKeypress tests that each decision key records a choice and quits.
func TestEscalationKeypress(t *testing.T) {
	tests := []struct {
		key  rune
		want models.Intervention
	}{
		{'r', models.InterventionRetry},
		{'s', models.InterventionSkip},
		{'a', models.InterventionAbort},
	}

	for _, tt := range tests {
		updated, cmd := press(NewEscalationModel(testRequest()), tt.key)
		m := updated.(EscalationModel)

		choice, ok := m.Choice()
		if !ok || choice != tt.want {
			t.Errorf("key %q: choice = %q, %v; want %q", tt.key, choice, ok, tt.want)
		}
		if cmd == nil {
			t.Errorf("key %q: expected quit command", tt.key)
		}
	}
}

func TestEscalationQuitWithoutChoice(t *testing.T) {
	updated, cmd := press(NewEscalationModel(testRequest()), 'q')
	if _, ok := updated.(EscalationModel).Choice(); ok {
		t.Error("q should not record a decision")
	}
	if cmd == nil {
		t.Error("q should quit")
	}
}

func TestEscalationIgnoresOtherKeys(t *testing.T) {
	updated, cmd := press(NewEscalationModel(testRequest()), 'x')
	if _, ok := updated.(EscalationModel).Choice(); ok {
		t.Error("unrelated key recorded a decision")
	}
	if cmd != nil {
		t.Error("unrelated key should not quit")
	}
}

func TestEscalationView(t *testing.T) {
	view := NewEscalationModel(testRequest()).View()

	for _, want := range []string{
		"TASK ESCALATION REQUIRED",
		"Fix authentication bug",
		"3/3",
		"attempt budget exhausted",
		"post-hook tests exited 1",
		"/tmp/task-123/attempt-3-post.log",
		"retry with a fresh attempt budget",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestTruncateLines(t *testing.T) {
	got := truncateLines("1\n2\n3\n4\n", 2)
	if got != "3\n4" {
		t.Errorf("truncateLines = %q, want last two lines", got)
	}
}
