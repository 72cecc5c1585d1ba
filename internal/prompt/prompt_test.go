package prompt

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/taskmaster/pkg/models"
)

func testTask() *models.Task {
	return &models.Task{
		ID:          "health",
		Title:       "Add health endpoint",
		Description: "Expose GET /healthz returning 200.",
		Path:        "svc",
		PostHooks:   []string{"tests", "lint"},
		Metadata:    map[string]string{"owner": "platform", "test_command": "go test ./..."},
	}
}

func TestBuild(t *testing.T) {
	p := NewBuilder("").Build(Input{
		Task:        testTask(),
		Attempt:     2,
		MaxAttempts: 3,
		Hooks:       map[string]string{"tests": "go test ./..."},
	})

	if p.System != SystemPrompt {
		t.Error("expected default system prompt")
	}
	required := []string{
		"# Task: Add health endpoint",
		"**Task ID:** health",
		"Expose GET /healthz returning 200.",
		"**Working Directory:** svc",
		"## Context",
		"Attempt 2 of 3.",
		"- owner: platform",
		"## Requirements",
		"- `tests`: `go test ./...`",
		"- `lint`\n",
		"Run tests with: `go test ./...`",
	}
	for _, phrase := range required {
		if !strings.Contains(p.User, phrase) {
			t.Errorf("prompt missing %q:\n%s", phrase, p.User)
		}
	}
	if strings.Contains(p.User, "Previous Attempt Failed") {
		t.Error("first-try prompt should not mention a previous failure")
	}
}

func TestBuildIncludesPreviousError(t *testing.T) {
	p := NewBuilder("custom system").Build(Input{
		Task:          testTask(),
		Attempt:       3,
		MaxAttempts:   3,
		PreviousError: "post-hook tests exited 1",
	})

	if p.System != "custom system" {
		t.Errorf("System = %q", p.System)
	}
	if !strings.Contains(p.User, "post-hook tests exited 1") {
		t.Error("prompt should carry the previous error")
	}
}

func TestBuildMinimalTask(t *testing.T) {
	p := NewBuilder("").Build(Input{Task: &models.Task{ID: "a", Title: "A", Description: "do a"}})

	if !strings.Contains(p.User, "**Working Directory:** .") {
		t.Error("empty path should render as .")
	}
	if strings.Contains(p.User, "## Requirements") {
		t.Error("task without hooks should have no requirements section")
	}
	if strings.Contains(p.User, "## Context") {
		t.Error("task without context should have no context section")
	}
}
