// Package config handles configuration loading and management for taskmaster.
// It supports XDG config paths, project-level overrides, .env files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/taskmaster/internal/ratelimit"
)

// EnvPrefix is prepended to environment variable overrides
// (TASKMASTER_MAX_ATTEMPTS_PER_TASK and so on).
const EnvPrefix = "TASKMASTER"

// projectConfigNames are searched, in order, in the current directory and
// each of its parents.
var projectConfigNames = []string{
	".taskmaster.yaml",
	".taskmaster.yml",
	".taskmaster.toml",
	".taskmaster.json",
}

// Config holds all configuration for a taskmaster run.
type Config struct {
	// ActiveProvider names the entry in Providers used for agent calls.
	ActiveProvider string `mapstructure:"active_provider" validate:"required"`
	// Providers holds the agent provider definitions keyed by name.
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"required,min=1,dive"`
	// Hooks holds the shell hooks tasks may reference by ID.
	Hooks map[string]HookConfig `mapstructure:"hooks" validate:"dive"`
	// HookDefaults apply to tasks that do not list their own hooks.
	HookDefaults HookDefaults `mapstructure:"hook_defaults"`
	// MaxAttemptsPerTask is the attempt budget before escalating to a human.
	MaxAttemptsPerTask int `mapstructure:"max_attempts_per_task" validate:"gte=1"`
	// MaxConsecutiveFailures aborts the run after this many failed attempts
	// in a row, across tasks.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" validate:"gte=1"`
	// StateDir holds state.json, history.db, metrics and control files.
	StateDir string `mapstructure:"state_dir" validate:"required"`
	// LogDir holds the run log and per-task hook logs.
	LogDir string `mapstructure:"log_dir" validate:"required"`
	// Fingerprint controls change detection for non-progress.
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	// ProtectedPaths are glob patterns, relative to the project root, that
	// agent edits may never touch. Added to the built-in list.
	ProtectedPaths []string `mapstructure:"protected_paths"`
	// Log controls the structured run log.
	Log LogConfig `mapstructure:"log"`
}

// ProviderConfig describes one agent provider.
type ProviderConfig struct {
	Type        string           `mapstructure:"type" validate:"required,oneof=claude openai"`
	APIKey      string           `mapstructure:"api_key"`
	APIKeyEnv   string           `mapstructure:"api_key_env"`
	Model       string           `mapstructure:"model"`
	BaseURL     string           `mapstructure:"base_url" validate:"omitempty,url"`
	MaxTokens   int              `mapstructure:"max_tokens" validate:"gte=1"`
	Temperature float64          `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration    `mapstructure:"timeout" validate:"gte=0"`
	Bedrock     BedrockConfig    `mapstructure:"bedrock"`
	RateLimits  ratelimit.Limits `mapstructure:"rate_limits"`
}

// BedrockConfig routes Claude calls through AWS Bedrock.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// HookConfig describes a shell command run before or after the agent call.
type HookConfig struct {
	Command    string        `mapstructure:"command" validate:"required"`
	WorkingDir string        `mapstructure:"working_dir"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	// StopOnFailure defaults to true when unset.
	StopOnFailure *bool             `mapstructure:"stop_on_failure"`
	Environment   map[string]string `mapstructure:"environment"`
	Description   string            `mapstructure:"description"`
}

// StopsOnFailure reports whether a failure of this hook fails the attempt.
func (h HookConfig) StopsOnFailure() bool {
	return h.StopOnFailure == nil || *h.StopOnFailure
}

// HookDefaults holds hook lists applied to tasks without their own.
type HookDefaults struct {
	PreHooks  []string      `mapstructure:"pre_hooks"`
	PostHooks []string      `mapstructure:"post_hooks"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// FingerprintConfig controls which files are hashed for change detection.
type FingerprintConfig struct {
	Ignore []string `mapstructure:"ignore"`
}

// LogConfig controls the run log.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Provider returns the named provider configuration.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// RateLimits returns the per-provider limits keyed by provider name.
func (c *Config) RateLimits() map[string]ratelimit.Limits {
	out := make(map[string]ratelimit.Limits, len(c.Providers))
	for name, p := range c.Providers {
		out[name] = p.RateLimits
	}
	return out
}

// HookTimeout returns the effective timeout for a hook.
func (c *Config) HookTimeout(h HookConfig) time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	if c.HookDefaults.Timeout > 0 {
		return c.HookDefaults.Timeout
	}
	return DefaultHookTimeout
}

// Defaults shared by Load and Default.
const (
	DefaultMaxAttemptsPerTask     = 3
	DefaultMaxConsecutiveFailures = 5
	DefaultStateDir               = ".taskmaster"
	DefaultHookTimeout            = 5 * time.Minute
	DefaultProviderMaxTokens      = 4000
	DefaultProviderTemperature    = 0.7
	DefaultProviderTimeout        = 10 * time.Minute
)

// DefaultModels maps provider types to the model used when none is configured.
var DefaultModels = map[string]string{
	"claude": "claude-sonnet-4-5",
	"openai": "gpt-4o",
}

// Load loads configuration from XDG paths, project overrides, .env and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TASKMASTER_*)
// 2. .env in the current directory
// 3. Project config (.taskmaster.yaml in current directory or parent)
// 4. User config (~/.config/taskmaster/config.yaml)
// 5. Built-in defaults
func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := newViper()

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		if err := mergeFile(v, projectConfig); err != nil {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file on top of the
// defaults, skipping the user and project search.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Default returns a Config with default values and a single Claude provider.
func Default() *Config {
	cfg := &Config{
		ActiveProvider: "claude",
		Providers: map[string]ProviderConfig{
			"claude": {Type: "claude"},
		},
		Hooks:                  map[string]HookConfig{},
		MaxAttemptsPerTask:     DefaultMaxAttemptsPerTask,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		StateDir:               DefaultStateDir,
		LogDir:                 filepath.Join(DefaultStateDir, "logs"),
		HookDefaults:           HookDefaults{Timeout: DefaultHookTimeout},
		Log:                    LogConfig{Level: "info", Format: "text"},
	}
	applyProviderDefaults(cfg)
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("active_provider", "claude")
	v.SetDefault("providers", map[string]any{
		"claude": map[string]any{"type": "claude"},
	})
	v.SetDefault("max_attempts_per_task", DefaultMaxAttemptsPerTask)
	v.SetDefault("max_consecutive_failures", DefaultMaxConsecutiveFailures)
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("log_dir", filepath.Join(DefaultStateDir, "logs"))
	v.SetDefault("hook_defaults.timeout", DefaultHookTimeout.String())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// mergeFile merges a project config file over the values already in v.
func mergeFile(v *viper.Viper, path string) error {
	pv := viper.New()
	pv.SetConfigFile(path)
	if err := pv.ReadInConfig(); err != nil {
		return fmt.Errorf("reading project config %s: %w", path, err)
	}
	if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
		return fmt.Errorf("merging project config: %w", err)
	}
	return nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	hook := mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyProviderDefaults(cfg)
	return cfg, nil
}

// secondsToDurationHook lets durations be written as bare numbers of
// seconds ("timeout: 300") as well as Go duration strings ("timeout: 5m").
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}

// applyProviderDefaults fills per-provider fields viper cannot default
// because provider names are user-chosen map keys.
func applyProviderDefaults(cfg *Config) {
	for name, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = name
		}
		if p.Model == "" {
			p.Model = DefaultModels[p.Type]
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = DefaultProviderMaxTokens
		}
		if p.Temperature == 0 {
			p.Temperature = DefaultProviderTemperature
		}
		if p.Timeout == 0 {
			p.Timeout = DefaultProviderTimeout
		}
		p.APIKey = expandEnv(p.APIKey)
		cfg.Providers[name] = p
	}
}

// getUserConfigDir returns the XDG config directory for taskmaster.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskmaster")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskmaster")
	}
	return filepath.Join(home, ".config", "taskmaster")
}

// findProjectConfig searches for a project config in the current directory
// and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		for _, name := range projectConfigNames {
			configPath := filepath.Join(cwd, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath
			}
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} and $VAR references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
