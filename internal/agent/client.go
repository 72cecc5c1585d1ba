// Package agent talks to the code-generation providers.
package agent

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/taskmaster/internal/edits"
)

// Client generates a response for one task attempt.
type Client interface {
	// Generate sends req to the provider. Failures are *RateLimitedError,
	// *Error or a context error.
	Generate(ctx context.Context, req Request) (*Response, error)
	// Name returns the configured provider name.
	Name() string
	// Model returns the model requests are sent to.
	Model() string
}

// Request is a single completion request.
type Request struct {
	TaskID string
	System string
	Prompt string
	// MaxTokens caps the response. Zero uses the provider default.
	MaxTokens int
	// BudgetHint is the smallest token ceiling in force for the provider.
	// Requests whose estimate exceeds it are rejected before sending.
	BudgetHint int
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Response is a successful completion.
type Response struct {
	Content    string
	Model      string
	StopReason string
	Edits      []edits.Edit
	Usage      Usage
}

// Estimate returns the token estimate used for admission control: the
// prompt estimate plus the output budget.
func (r Request) Estimate(defaultMaxTokens int) int {
	out := r.MaxTokens
	if out == 0 {
		out = defaultMaxTokens
	}
	return EstimateTokens(r.System) + EstimateTokens(r.Prompt) + out
}

// EstimateTokens approximates a token count as one token per four bytes,
// rounded up.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func checkBudget(provider string, req Request, defaultMaxTokens int) error {
	if req.BudgetHint <= 0 {
		return nil
	}
	if est := req.Estimate(defaultMaxTokens); est > req.BudgetHint {
		return fmt.Errorf("%w: %s request needs ~%d tokens, ceiling is %d",
			ErrBudgetExceeded, provider, est, req.BudgetHint)
	}
	return nil
}

func newResponse(content, model, stop string, usage Usage) *Response {
	return &Response{
		Content:    content,
		Model:      model,
		StopReason: stop,
		Edits:      edits.Parse(content),
		Usage:      usage,
	}
}
