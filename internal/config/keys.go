package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured for a provider.
var ErrNoAPIKey = errors.New("no API key configured")

// defaultKeyEnv maps provider types to the environment variable their SDK
// reads by convention.
var defaultKeyEnv = map[string]string{
	"claude": "ANTHROPIC_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_credentials"
	KeySourceNone    KeySource = "none"
)

// ResolveAPIKey returns the API key for a provider.
// It checks in order: api_key_env, api_key (with $VAR expansion), then the
// provider's conventional environment variable.
func ResolveAPIKey(p ProviderConfig) (string, KeySource, error) {
	if p.Type == "claude" && p.Bedrock.Enabled {
		return "", KeySourceBedrock, nil
	}

	if p.APIKeyEnv != "" {
		if key := os.Getenv(p.APIKeyEnv); key != "" {
			return key, KeySourceEnv, nil
		}
	}

	if p.APIKey != "" {
		key := os.ExpandEnv(p.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}

	if env, ok := defaultKeyEnv[p.Type]; ok {
		if key := os.Getenv(env); key != "" {
			return key, KeySourceEnv, nil
		}
	}

	return "", KeySourceNone, fmt.Errorf("%w for %s provider", ErrNoAPIKey, p.Type)
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}
