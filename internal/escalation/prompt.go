package escalation

import (
	"context"
	"errors"

	"github.com/ShayCichocki/taskmaster/pkg/models"
)

// ErrNoDecision is returned by a Prompter when the human closed the prompt
// without choosing.
var ErrNoDecision = errors.New("no decision made")

// Request is what a human sees when a task is escalated.
type Request struct {
	TaskID      string
	Title       string
	Counters    Counters
	MaxAttempts int
	Reason      string
	LastError   string
	// LogFile points at the hook output of the last attempt, if any.
	LogFile string
}

// Summary renders the request as plain text.
func (r Request) Summary() string {
	return Summary(r.TaskID, r.Counters, r.LastError, r.Reason)
}

// Prompter asks a human to resolve an escalation.
type Prompter interface {
	Ask(ctx context.Context, req Request) (models.Intervention, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req Request) (models.Intervention, error)

// Ask calls f.
func (f PrompterFunc) Ask(ctx context.Context, req Request) (models.Intervention, error) {
	return f(ctx, req)
}
