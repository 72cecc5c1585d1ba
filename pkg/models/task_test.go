package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"skipped is valid", TaskStatusSkipped, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("done"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		TaskStatusPending:   false,
		TaskStatusRunning:   false,
		TaskStatusFailed:    false,
		TaskStatusCompleted: true,
		TaskStatusSkipped:   true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestTask_WorkPath(t *testing.T) {
	if got := (Task{}).WorkPath(); got != "." {
		t.Errorf("expected default work path '.', got %q", got)
	}
	if got := (Task{Path: "svc/api"}).WorkPath(); got != "svc/api" {
		t.Errorf("expected 'svc/api', got %q", got)
	}
}

func TestParseIntervention(t *testing.T) {
	tests := []struct {
		in     string
		want   Intervention
		wantOK bool
	}{
		{"retry", InterventionRetry, true},
		{"r", InterventionRetry, true},
		{"skip", InterventionSkip, true},
		{"s", InterventionSkip, true},
		{"abort", InterventionAbort, true},
		{"a", InterventionAbort, true},
		{"manual_fix", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseIntervention(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseIntervention(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
			if ok && !got.Valid() {
				t.Errorf("parsed intervention %q reported invalid", got)
			}
		})
	}
}
