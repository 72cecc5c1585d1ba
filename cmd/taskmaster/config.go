package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskmaster/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Inspect the effective taskmaster configuration.

Configuration is read from ~/.config/taskmaster/config.yaml, then
.taskmaster.yaml (or .toml/.json) in the project, then TASKMASTER_*
environment variables. A .env file in the current directory is loaded first.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with API keys masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		cfg, err := loadConfig(w)
		if err != nil {
			return err
		}
		displayConfig(w, cfg)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and provider credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		cfg, err := loadConfig(w)
		if err != nil {
			return err
		}
		p, _ := cfg.Provider(cfg.ActiveProvider)
		_, source, err := config.ResolveAPIKey(p)
		if err != nil {
			return fmt.Errorf("%w: provider %s: %v", config.ErrInvalidConfig, cfg.ActiveProvider, err)
		}
		printStatus(w, "✓", fmt.Sprintf("Provider %s credentials from %s", cfg.ActiveProvider, source), color.FgGreen)
		printStatus(w, "✓", "Configuration is valid", color.FgGreen)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

// displayConfig prints all configuration values.
func displayConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "user config: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(w, "project config: %s\n", p)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "active_provider: %s\n", cfg.ActiveProvider)
	fmt.Fprintf(w, "max_attempts_per_task: %d\n", cfg.MaxAttemptsPerTask)
	fmt.Fprintf(w, "max_consecutive_failures: %d\n", cfg.MaxConsecutiveFailures)
	fmt.Fprintf(w, "state_dir: %s\n", cfg.StateDir)
	fmt.Fprintf(w, "log_dir: %s\n", cfg.LogDir)
	fmt.Fprintf(w, "log: level=%s format=%s\n", cfg.Log.Level, cfg.Log.Format)
	if len(cfg.Fingerprint.Ignore) > 0 {
		fmt.Fprintf(w, "fingerprint.ignore: %s\n", strings.Join(cfg.Fingerprint.Ignore, ", "))
	}

	fmt.Fprintln(w, "providers:")
	for _, name := range sortedProviders(cfg) {
		p := cfg.Providers[name]
		key := "(not set)"
		if k, source, err := config.ResolveAPIKey(p); err == nil {
			key = fmt.Sprintf("%s (%s)", config.MaskAPIKey(k), source)
		}
		fmt.Fprintf(w, "  %s:\n", name)
		fmt.Fprintf(w, "    type: %s\n", p.Type)
		fmt.Fprintf(w, "    model: %s\n", p.Model)
		fmt.Fprintf(w, "    api_key: %s\n", key)
		if p.BaseURL != "" {
			fmt.Fprintf(w, "    base_url: %s\n", p.BaseURL)
		}
		if p.Bedrock.Enabled {
			fmt.Fprintf(w, "    bedrock: region=%s profile=%s\n", p.Bedrock.Region, p.Bedrock.Profile)
		}
		fmt.Fprintf(w, "    max_tokens: %d\n", p.MaxTokens)
		fmt.Fprintf(w, "    timeout: %s\n", p.Timeout)
		if !p.RateLimits.IsZero() {
			fmt.Fprintf(w, "    rate_limits: %+v\n", p.RateLimits)
		}
	}

	fmt.Fprintln(w, "hooks:")
	ids := make([]string, 0, len(cfg.Hooks))
	for id := range cfg.Hooks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h := cfg.Hooks[id]
		fmt.Fprintf(w, "  %s: %s (timeout %s, stop_on_failure %t)\n",
			id, h.Command, cfg.HookTimeout(h), h.StopsOnFailure())
	}
	fmt.Fprintf(w, "hook_defaults: pre=%v post=%v timeout=%s\n",
		cfg.HookDefaults.PreHooks, cfg.HookDefaults.PostHooks, cfg.HookDefaults.Timeout)
}

func sortedProviders(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
