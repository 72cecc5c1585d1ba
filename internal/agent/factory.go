package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/taskmaster/internal/config"
)

// New builds the client for the named provider in cfg.
func New(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (Client, error) {
	p, ok := cfg.Provider(name)
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	key, _, err := config.ResolveAPIKey(p)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}

	switch p.Type {
	case "claude":
		return NewClaudeClient(ctx, ClaudeConfig{
			Name:        name,
			APIKey:      key,
			Model:       p.Model,
			BaseURL:     p.BaseURL,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Timeout:     p.Timeout,
			UseBedrock:  p.Bedrock.Enabled,
			AWSRegion:   p.Bedrock.Region,
			AWSProfile:  p.Bedrock.Profile,
		}, logger)
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			Name:        name,
			APIKey:      key,
			Model:       p.Model,
			BaseURL:     p.BaseURL,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Timeout:     p.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("provider %q has unsupported type %q", name, p.Type)
	}
}
