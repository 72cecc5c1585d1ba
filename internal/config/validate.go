package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Validate checks field rules and cross-references between sections.
// All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, e := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q (value: %v)", e.Namespace(), ruleName(e), e.Value()))
		}
	}

	if c.ActiveProvider != "" {
		if p, ok := c.Providers[c.ActiveProvider]; !ok {
			problems = append(problems, fmt.Sprintf("active_provider %q is not defined under providers", c.ActiveProvider))
		} else if _, _, err := ResolveAPIKey(p); err != nil {
			problems = append(problems, fmt.Sprintf("providers.%s: %v", c.ActiveProvider, err))
		}
	}

	for _, id := range append(append([]string{}, c.HookDefaults.PreHooks...), c.HookDefaults.PostHooks...) {
		if _, ok := c.Hook(id); !ok {
			problems = append(problems, fmt.Sprintf("hook_defaults references unknown hook %q", id))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
}

// Warnings reports settings that are legal but probably unintended.
func (c *Config) Warnings() []string {
	var out []string
	if c.MaxConsecutiveFailures <= c.MaxAttemptsPerTask {
		out = append(out, fmt.Sprintf(
			"max_consecutive_failures (%d) <= max_attempts_per_task (%d): a single failing task will abort the run before it can be escalated",
			c.MaxConsecutiveFailures, c.MaxAttemptsPerTask))
	}
	for name, p := range c.Providers {
		if p.Bedrock.Enabled && p.Type != "claude" {
			out = append(out, fmt.Sprintf("providers.%s: bedrock is only supported for claude providers", name))
		}
	}
	sort.Strings(out)
	return out
}

// Hook looks up a hook by ID. Lookups are case-insensitive because viper
// folds map keys to lower case.
func (c *Config) Hook(id string) (HookConfig, bool) {
	h, ok := c.Hooks[strings.ToLower(id)]
	return h, ok
}

func ruleName(e validator.FieldError) string {
	if e.Param() == "" {
		return e.Tag()
	}
	return e.Tag() + "=" + e.Param()
}
