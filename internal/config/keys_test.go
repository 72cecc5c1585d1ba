package config

import (
	"errors"
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	t.Run("from api_key_env", func(t *testing.T) {
		t.Setenv("MY_CLAUDE_KEY", "sk-ant-from-custom-env")
		key, src, err := ResolveAPIKey(ProviderConfig{Type: "claude", APIKeyEnv: "MY_CLAUDE_KEY", APIKey: "literal"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-from-custom-env" || src != KeySourceEnv {
			t.Errorf("got (%q, %q)", key, src)
		}
	})

	t.Run("from config with variable reference", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("TEAM_KEY", "sk-ant-team")
		key, src, err := ResolveAPIKey(ProviderConfig{Type: "claude", APIKey: "${TEAM_KEY}"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-team" || src != KeySourceConfig {
			t.Errorf("got (%q, %q)", key, src)
		}
	})

	t.Run("from conventional env var", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-openai")
		key, src, err := ResolveAPIKey(ProviderConfig{Type: "openai"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-openai" || src != KeySourceEnv {
			t.Errorf("got (%q, %q)", key, src)
		}
	})

	t.Run("bedrock needs no key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, src, err := ResolveAPIKey(ProviderConfig{Type: "claude", Bedrock: BedrockConfig{Enabled: true}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if src != KeySourceBedrock {
			t.Errorf("expected bedrock source, got %q", src)
		}
	})

	t.Run("no key configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, src, err := ResolveAPIKey(ProviderConfig{Type: "claude"})
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
		if src != KeySourceNone {
			t.Errorf("expected none source, got %q", src)
		}
	})
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
