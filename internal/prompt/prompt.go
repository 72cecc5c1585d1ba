// Package prompt builds the agent request text for a task attempt.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// SystemPrompt is sent with every request unless overridden.
const SystemPrompt = `You are a coding assistant executing one task from a task list.

Work only inside the task's working directory. Return every file you change
as a complete fenced block tagged with its language and path relative to the
working directory, for example:

` + "```go:internal/server/health.go" + `
package server
` + "```" + `

Unified diffs in a ` + "```diff" + ` block are also accepted. Shell commands
you suggest are shown to the operator and never run. Keep explanations short.`

// Input is everything that varies between attempts.
type Input struct {
	Task        *models.Task
	Attempt     int
	MaxAttempts int
	// PreviousError is the failure that caused this retry, if any.
	PreviousError string
	// Hooks maps hook IDs to their command line for the requirements section.
	Hooks map[string]string
	// RepoStatus is optional short VCS status text.
	RepoStatus string
}

// Prompt is a built request.
type Prompt struct {
	System string
	User   string
}

// Builder renders prompts.
type Builder struct {
	system string
}

// NewBuilder returns a Builder. An empty system prompt selects SystemPrompt.
func NewBuilder(system string) *Builder {
	if strings.TrimSpace(system) == "" {
		system = SystemPrompt
	}
	return &Builder{system: system}
}

// Build renders the prompt for in.
func (b *Builder) Build(in Input) Prompt {
	t := in.Task
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Task: %s\n\n", t.Title)
	fmt.Fprintf(&sb, "**Task ID:** %s\n\n", t.ID)
	sb.WriteString("**Description:**\n")
	sb.WriteString(strings.TrimSpace(t.Description))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "**Working Directory:** %s\n", t.WorkPath())

	if ctx := b.context(in); ctx != "" {
		sb.WriteString("\n## Context\n\n")
		sb.WriteString(ctx)
	}
	if req := b.requirements(in); req != "" {
		sb.WriteString("\n## Requirements\n\n")
		sb.WriteString(req)
	}

	return Prompt{System: b.system, User: sb.String()}
}

func (b *Builder) context(in Input) string {
	var sb strings.Builder
	if in.MaxAttempts > 0 {
		fmt.Fprintf(&sb, "Attempt %d of %d.\n", in.Attempt, in.MaxAttempts)
	}
	if len(in.Task.Metadata) > 0 {
		sb.WriteString("\n### Metadata\n\n")
		for _, k := range sortedKeys(in.Task.Metadata) {
			fmt.Fprintf(&sb, "- %s: %s\n", k, in.Task.Metadata[k])
		}
	}
	if s := strings.TrimSpace(in.RepoStatus); s != "" {
		sb.WriteString("\n### Repository Status\n\n```\n")
		sb.WriteString(s)
		sb.WriteString("\n```\n")
	}
	if e := strings.TrimSpace(in.PreviousError); e != "" {
		sb.WriteString("\n### Previous Attempt Failed\n\n")
		sb.WriteString("Fix the cause of this failure:\n\n```\n")
		sb.WriteString(e)
		sb.WriteString("\n```\n")
	}
	return sb.String()
}

func (b *Builder) requirements(in Input) string {
	var sb strings.Builder
	writeHooks := func(title string, ids []string) {
		if len(ids) == 0 {
			return
		}
		fmt.Fprintf(&sb, "### %s\n\n", title)
		for _, id := range ids {
			if cmd, ok := in.Hooks[id]; ok && cmd != "" {
				fmt.Fprintf(&sb, "- `%s`: `%s`\n", id, cmd)
			} else {
				fmt.Fprintf(&sb, "- `%s`\n", id)
			}
		}
		sb.WriteString("\n")
	}
	writeHooks("Pre-conditions (checked before you start)", in.Task.PreHooks)
	writeHooks("Post-conditions (must pass after your changes)", in.Task.PostHooks)

	if cmd := in.Task.Metadata["test_command"]; cmd != "" {
		fmt.Fprintf(&sb, "Run tests with: `%s`\n", cmd)
	}
	if cmd := in.Task.Metadata["lint_command"]; cmd != "" {
		fmt.Fprintf(&sb, "Check code quality with: `%s`\n", cmd)
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
