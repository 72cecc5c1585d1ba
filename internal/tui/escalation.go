package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskmaster/internal/escalation"
	"github.com/ShayCichocki/taskmaster/pkg/models"
)

type escalationKeyMap struct {
	Retry key.Binding
	Skip  key.Binding
	Abort key.Binding
	Quit  key.Binding
}

var escalationKeys = escalationKeyMap{
	Retry: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry with a fresh attempt budget")),
	Skip:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip this task and continue")),
	Abort: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "abort the run (resumable)")),
	Quit:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "decide later")),
}

var (
	escalationHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214"))

	escalationLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	escalationKeyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("214")).
				Bold(true).
				Padding(0, 1)

	escalationErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(0, 1)

	escalationDimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// EscalationModel asks for a retry, skip or abort decision on one task.
type EscalationModel struct {
	req    escalation.Request
	choice models.Intervention
	chosen bool
	width  int
}

// NewEscalationModel creates the prompt for req.
func NewEscalationModel(req escalation.Request) EscalationModel {
	return EscalationModel{req: req, width: 80}
}

// Choice returns the decision, if one was made.
func (m EscalationModel) Choice() (models.Intervention, bool) {
	return m.choice, m.chosen
}

// Init implements tea.Model.
func (m EscalationModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m EscalationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, escalationKeys.Retry):
			return m.decide(models.InterventionRetry)
		case key.Matches(msg, escalationKeys.Skip):
			return m.decide(models.InterventionSkip)
		case key.Matches(msg, escalationKeys.Abort):
			return m.decide(models.InterventionAbort)
		case key.Matches(msg, escalationKeys.Quit):
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m EscalationModel) decide(i models.Intervention) (tea.Model, tea.Cmd) {
	m.choice = i
	m.chosen = true
	return m, tea.Quit
}

// View implements tea.Model.
func (m EscalationModel) View() string {
	if m.chosen {
		return fmt.Sprintf("Decision for %s: %s\n", m.req.TaskID, m.choice)
	}

	var b strings.Builder
	b.WriteString(escalationHeaderStyle.Render("⚠ TASK ESCALATION REQUIRED ⚠"))
	b.WriteString("\n\n")

	title := m.req.Title
	if title == "" {
		title = m.req.TaskID
	}
	b.WriteString(escalationLabelStyle.Render("Task: "))
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(title))
	b.WriteString(escalationDimStyle.Render(" (" + m.req.TaskID + ")"))
	b.WriteString("\n")

	b.WriteString(escalationLabelStyle.Render("Attempts: "))
	if m.req.MaxAttempts > 0 {
		fmt.Fprintf(&b, "%d/%d", m.req.Counters.AttemptCount, m.req.MaxAttempts)
	} else {
		fmt.Fprintf(&b, "%d", m.req.Counters.AttemptCount)
	}
	fmt.Fprintf(&b, "  failures: %d  without progress: %d\n", m.req.Counters.FailureCount, m.req.Counters.NonProgressCount)

	b.WriteString(escalationLabelStyle.Render("Reason: "))
	b.WriteString(m.req.Reason)
	b.WriteString("\n\n")

	if m.req.LastError != "" {
		width := m.width - 4
		if width < 20 {
			width = 20
		}
		b.WriteString(escalationErrorStyle.Width(width).Render(truncateLines(m.req.LastError, 15)))
		b.WriteString("\n\n")
	}
	if m.req.LogFile != "" {
		b.WriteString(escalationDimStyle.Render("Full log: " + m.req.LogFile))
		b.WriteString("\n\n")
	}

	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Choose an action:"))
	b.WriteString("\n\n")
	for _, k := range []key.Binding{escalationKeys.Retry, escalationKeys.Skip, escalationKeys.Abort, escalationKeys.Quit} {
		h := k.Help()
		fmt.Fprintf(&b, "  %s  %s\n", escalationKeyStyle.Render(h.Key), h.Desc)
	}
	return b.String()
}

func truncateLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// TerminalPrompter runs EscalationModel on a terminal.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalPrompter creates a prompter reading keys from in.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, out: out}
}

// Ask implements escalation.Prompter.
func (p *TerminalPrompter) Ask(ctx context.Context, req escalation.Request) (models.Intervention, error) {
	prog := tea.NewProgram(NewEscalationModel(req),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithContext(ctx),
	)
	final, err := prog.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return "", escalation.ErrNoDecision
		}
		return "", fmt.Errorf("escalation prompt: %w", err)
	}

	m, ok := final.(EscalationModel)
	if !ok {
		return "", escalation.ErrNoDecision
	}
	choice, chosen := m.Choice()
	if !chosen {
		return "", escalation.ErrNoDecision
	}
	return choice, nil
}

var _ escalation.Prompter = (*TerminalPrompter)(nil)
