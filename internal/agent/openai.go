package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// chatAPI is the slice of the go-openai client used here.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	Name        string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAIClient calls the Chat Completions API or a compatible endpoint.
type OpenAIClient struct {
	name        string
	chat        chatAPI
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
	now         func() time.Time
}

// NewOpenAIClient creates a client from cfg.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider %q has no API key", cfg.Name)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return newOpenAIClient(cfg.Name, openai.NewClientWithConfig(oc), model, cfg.MaxTokens, cfg.Temperature, logger), nil
}

func newOpenAIClient(name string, api chatAPI, model string, maxTokens int, temperature float64, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if name == "" {
		name = "openai"
	}
	return &OpenAIClient{
		name:        name,
		chat:        api,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
		now:         time.Now,
	}
}

func (c *OpenAIClient) Name() string  { return c.name }
func (c *OpenAIClient) Model() string { return c.model }

// Generate sends a system and a user message and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := checkBudget(c.name, req, c.maxTokens); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	c.logger.Debug("sending request", "provider", c.name, "model", c.model, "task", req.TaskID, "max_tokens", maxTokens)
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(c.temperature),
	})
	if err != nil {
		return nil, c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: c.name, Kind: KindTransient, Err: errors.New("response has no choices")}
	}

	usage := Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	choice := resp.Choices[0]
	c.logger.Debug("received response",
		"provider", c.name,
		"task", req.TaskID,
		"finish_reason", choice.FinishReason,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens)

	return newResponse(choice.Message.Content, resp.Model, string(choice.FinishReason), usage), nil
}

func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(c.name, apiErr.HTTPStatusCode, nil, err, c.now())
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(c.name, reqErr.HTTPStatusCode, nil, err, c.now())
	}
	return classifyMessage(c.name, err)
}
