package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskmaster/internal/config"
	"github.com/ShayCichocki/taskmaster/internal/edits"
)

type fakeMessages struct {
	params []anthropic.MessageNewParams
	msg    *anthropic.Message
	err    error
}

func (f *fakeMessages) New(_ context.Context, p anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, p)
	return f.msg, f.err
}

func claudeMessage(t *testing.T, text string) *anthropic.Message {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-5",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 120, "output_tokens": 48},
	})
	require.NoError(t, err)
	var msg anthropic.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return &msg
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))

	req := Request{System: "abcd", Prompt: "abcdefgh"}
	assert.Equal(t, 3+4000, req.Estimate(4000))
	req.MaxTokens = 100
	assert.Equal(t, 103, req.Estimate(4000))
}

func TestClaudeGenerate(t *testing.T) {
	fake := &fakeMessages{msg: claudeMessage(t, "Done.\n```go:main.go\npackage main\n```\n")}
	c := newClaudeClient("claude", fake, "claude-sonnet-4-5", 4000, 0.2, nil)

	resp, err := c.Generate(context.Background(), Request{TaskID: "t1", System: "sys", Prompt: "do it"})
	require.NoError(t, err)

	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 48}, resp.Usage)
	assert.Equal(t, int64(168), resp.Usage.Total())
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Edits, 1)
	assert.Equal(t, edits.KindWrite, resp.Edits[0].Kind)
	assert.Equal(t, "main.go", resp.Edits[0].Path)

	require.Len(t, fake.params, 1)
	p := fake.params[0]
	assert.Equal(t, int64(4000), p.MaxTokens)
	assert.Equal(t, anthropic.Model("claude-sonnet-4-5"), p.Model)
	require.Len(t, p.System, 1)
	assert.Equal(t, "sys", p.System[0].Text)
}

func TestClaudeGenerate_BudgetExceeded(t *testing.T) {
	fake := &fakeMessages{}
	c := newClaudeClient("claude", fake, "claude-sonnet-4-5", 4000, 0, nil)

	_, err := c.Generate(context.Background(), Request{Prompt: "x", BudgetHint: 1000})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Empty(t, fake.params, "request must not be sent")
}

func anthropicError(t *testing.T, status int, header http.Header) error {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	require.NoError(t, err)
	return &anthropic.Error{
		StatusCode: status,
		Request:    req,
		Response:   &http.Response{StatusCode: status, Header: header, Request: req},
	}
}

func TestClaudeClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    int
		header    http.Header
		wantKind  ErrorKind
		wantRetry time.Duration
	}{
		{name: "rate limit with seconds", status: 429, header: http.Header{"Retry-After": {"30"}}, wantRetry: 30 * time.Second},
		{name: "rate limit without header", status: 429, wantRetry: DefaultRetryAfter},
		{name: "unauthorized", status: 401, wantKind: KindAuthentication},
		{name: "forbidden", status: 403, wantKind: KindAuthentication},
		{name: "overloaded", status: 529, wantKind: KindTransient},
		{name: "server error", status: 500, wantKind: KindTransient},
		{name: "bad request", status: 400, wantKind: KindFatal},
		{name: "not found", status: 404, wantKind: KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClaudeClient("claude", &fakeMessages{err: anthropicError(t, tt.status, tt.header)}, "m", 100, 0, nil)
			c.now = func() time.Time { return now }

			_, err := c.Generate(context.Background(), Request{Prompt: "p"})
			require.Error(t, err)

			if tt.wantRetry > 0 {
				var rl *RateLimitedError
				require.True(t, errors.As(err, &rl), "want RateLimitedError")
				assert.Equal(t, tt.wantRetry, rl.RetryAfter)
				return
			}
			var ae *Error
			require.True(t, errors.As(err, &ae), "want *Error")
			assert.Equal(t, tt.wantKind, ae.Kind)
			assert.Equal(t, tt.status, ae.Status)
		})
	}
}

type fakeChat struct {
	reqs []openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.reqs = append(f.reqs, r)
	return f.resp, f.err
}

func TestOpenAIGenerate(t *testing.T) {
	fake := &fakeChat{resp: openai.ChatCompletionResponse{
		Model: "gpt-4o",
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "```diff\n--- a/x\n+++ b/x\n```"},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60},
	}}
	c := newOpenAIClient("openai", fake, "gpt-4o", 2000, 0.7, nil)

	resp, err := c.Generate(context.Background(), Request{System: "sys", Prompt: "p", MaxTokens: 500})
	require.NoError(t, err)

	assert.Equal(t, Usage{InputTokens: 50, OutputTokens: 10}, resp.Usage)
	assert.Equal(t, "stop", resp.StopReason)
	require.Len(t, resp.Edits, 1)
	assert.Equal(t, edits.KindDiff, resp.Edits[0].Kind)

	require.Len(t, fake.reqs, 1)
	assert.Equal(t, 500, fake.reqs[0].MaxTokens)
	require.Len(t, fake.reqs[0].Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.reqs[0].Messages[0].Role)
}

func TestOpenAIGenerate_NoChoices(t *testing.T) {
	c := newOpenAIClient("openai", &fakeChat{}, "gpt-4o", 2000, 0.7, nil)

	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindTransient, ae.Kind)
}

func TestOpenAIClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantRL   bool
	}{
		{name: "api 429", err: &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, wantRL: true},
		{name: "api 401", err: &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, wantKind: KindAuthentication},
		{name: "request 503", err: &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}, wantKind: KindTransient},
		{name: "api 400", err: &openai.APIError{HTTPStatusCode: 400, Message: "bad"}, wantKind: KindFatal},
		{name: "deadline", err: fmt.Errorf("post: %w", context.DeadlineExceeded), wantKind: KindTransient},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), wantKind: KindTransient},
		{name: "mystery", err: errors.New("something odd"), wantKind: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOpenAIClient("openai", &fakeChat{err: tt.err}, "gpt-4o", 100, 0, nil)
			_, err := c.Generate(context.Background(), Request{Prompt: "p"})

			if tt.wantRL {
				var rl *RateLimitedError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, DefaultRetryAfter, rl.RetryAfter)
				return
			}
			var ae *Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.wantKind, ae.Kind)
		})
	}
}

func TestClassifyCanceledPassesThrough(t *testing.T) {
	c := newOpenAIClient("openai", &fakeChat{err: context.Canceled}, "gpt-4o", 100, 0, nil)
	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, context.Canceled)

	var ae *Error
	assert.False(t, errors.As(err, &ae))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, DefaultRetryAfter, retryAfter(nil, now))
	assert.Equal(t, 1500*time.Millisecond, retryAfter(http.Header{"Retry-After-Ms": {"1500"}}, now))
	assert.Equal(t, 2*time.Minute, retryAfter(http.Header{"Retry-After": {now.Add(2 * time.Minute).Format(http.TimeFormat)}}, now))
	assert.Equal(t, DefaultRetryAfter, retryAfter(http.Header{"Retry-After": {"soon"}}, now))
}

func TestTranslateModelForBedrock(t *testing.T) {
	assert.Equal(t, "us.anthropic.claude-sonnet-4-5-20250929-v1:0", translateModelForBedrock("claude-sonnet-4-5"))
	assert.Equal(t, "custom-model", translateModelForBedrock("custom-model"))
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = map[string]config.ProviderConfig{
		"claude": {Type: "claude", APIKey: "sk-ant-test-key-0000", Model: "claude-sonnet-4-5", MaxTokens: 1000},
		"gpt":    {Type: "openai", APIKey: "sk-test-key-00000000", Model: "gpt-4o", MaxTokens: 1000},
	}

	c, err := New(context.Background(), cfg, "claude", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Name())
	assert.IsType(t, &ClaudeClient{}, c)

	o, err := New(context.Background(), cfg, "gpt", nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt", o.Name())
	assert.Equal(t, "gpt-4o", o.Model())

	_, err = New(context.Background(), cfg, "missing", nil)
	assert.Error(t, err)
}
