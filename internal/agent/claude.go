package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// messagesAPI is the slice of the Anthropic SDK used here.
type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ClaudeConfig configures a ClaudeClient.
type ClaudeConfig struct {
	Name        string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// UseBedrock routes requests through AWS Bedrock using the default AWS
	// credential chain instead of an API key.
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
}

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	name        string
	messages    messagesAPI
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
	now         func() time.Time
}

// NewClaudeClient creates a client for the direct API or Bedrock.
func NewClaudeClient(ctx context.Context, cfg ClaudeConfig, logger *slog.Logger) (*ClaudeClient, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("claude provider %q has no API key", cfg.Name)
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	// Retries are the escalator's job; a silent SDK retry would also hide
	// quota usage from the limiter.
	opts = append(opts, option.WithMaxRetries(0))

	inner := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if cfg.UseBedrock {
		model = translateModelForBedrock(model)
	}

	c := newClaudeClient(cfg.Name, &inner.Messages, model, cfg.MaxTokens, cfg.Temperature, logger)
	return c, nil
}

func newClaudeClient(name string, api messagesAPI, model string, maxTokens int, temperature float64, logger *slog.Logger) *ClaudeClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if name == "" {
		name = "claude"
	}
	return &ClaudeClient{
		name:        name,
		messages:    api,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
		now:         time.Now,
	}
}

// bedrockModels maps Anthropic model names to Bedrock cross-region
// inference profiles.
var bedrockModels = map[string]string{
	"claude-sonnet-4-5":          "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	"claude-sonnet-4-5-20250929": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	"claude-sonnet-4-20250514":   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	"claude-haiku-4-5":           "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	"claude-haiku-4-5-20251001":  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	"claude-opus-4-1-20250805":   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	"claude-opus-4-5":            "us.anthropic.claude-opus-4-5-20251101-v1:0",
	"claude-opus-4-5-20251101":   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	"claude-3-7-sonnet-20250219": "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	"claude-3-5-haiku-20241022":  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

// translateModelForBedrock leaves unknown or already-translated names alone.
func translateModelForBedrock(model string) string {
	if m, ok := bedrockModels[model]; ok {
		return m
	}
	return model
}

func (c *ClaudeClient) Name() string  { return c.name }
func (c *ClaudeClient) Model() string { return c.model }

// Generate sends one user message and concatenates the text blocks of the
// reply.
func (c *ClaudeClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := checkBudget(c.name, req, c.maxTokens); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(c.temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	c.logger.Debug("sending request", "provider", c.name, "model", c.model, "task", req.TaskID, "max_tokens", maxTokens)
	start := c.now()
	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	usage := Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens}
	c.logger.Debug("received response",
		"provider", c.name,
		"task", req.TaskID,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration", c.now().Sub(start))

	return newResponse(sb.String(), string(msg.Model), string(msg.StopReason), usage), nil
}

func (c *ClaudeClient) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return classifyStatus(c.name, apiErr.StatusCode, header, err, c.now())
	}
	return classifyMessage(c.name, err)
}
