// Package ratelimit implements fixed-window admission control for agent
// providers. Windows expire lazily when they are read, so the limiter holds
// no timers and is driven entirely by an injectable clock.
package ratelimit

import "time"

// Window identifies a fixed accounting period.
type Window string

const (
	Minute Window = "minute"
	Hour   Window = "hour"
	Day    Window = "day"
	Week   Window = "week"
)

// Windows lists every window kind in ascending duration.
var Windows = []Window{Minute, Hour, Day, Week}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Limits holds the configured ceilings for one provider. A zero value means
// the window imposes no ceiling.
type Limits struct {
	MaxRequestsMinute int `mapstructure:"max_requests_minute" json:"max_requests_minute,omitempty" validate:"gte=0"`
	MaxRequestsHour   int `mapstructure:"max_requests_hour" json:"max_requests_hour,omitempty" validate:"gte=0"`
	MaxRequestsDay    int `mapstructure:"max_requests_day" json:"max_requests_day,omitempty" validate:"gte=0"`
	MaxRequestsWeek   int `mapstructure:"max_requests_week" json:"max_requests_week,omitempty" validate:"gte=0"`
	MaxTokensMinute   int `mapstructure:"max_tokens_minute" json:"max_tokens_minute,omitempty" validate:"gte=0"`
	MaxTokensHour     int `mapstructure:"max_tokens_hour" json:"max_tokens_hour,omitempty" validate:"gte=0"`
	MaxTokensDay      int `mapstructure:"max_tokens_day" json:"max_tokens_day,omitempty" validate:"gte=0"`
	MaxTokensWeek     int `mapstructure:"max_tokens_week" json:"max_tokens_week,omitempty" validate:"gte=0"`
}

// Ceiling returns the request and token ceilings for a window.
func (l Limits) Ceiling(w Window) (maxRequests, maxTokens int) {
	switch w {
	case Minute:
		return l.MaxRequestsMinute, l.MaxTokensMinute
	case Hour:
		return l.MaxRequestsHour, l.MaxTokensHour
	case Day:
		return l.MaxRequestsDay, l.MaxTokensDay
	case Week:
		return l.MaxRequestsWeek, l.MaxTokensWeek
	default:
		return 0, 0
	}
}

// IsZero returns true if no window has a ceiling.
func (l Limits) IsZero() bool {
	return l == Limits{}
}

// SmallestTokenCeiling returns the lowest configured token ceiling, or 0 if
// tokens are unlimited in every window.
func (l Limits) SmallestTokenCeiling() int {
	smallest := 0
	for _, w := range Windows {
		if _, maxTokens := l.Ceiling(w); maxTokens > 0 && (smallest == 0 || maxTokens < smallest) {
			smallest = maxTokens
		}
	}
	return smallest
}

// WindowUsage is the consumption recorded in one window.
type WindowUsage struct {
	Start    time.Time `json:"window_start"`
	Requests int       `json:"requests"`
	Tokens   int       `json:"tokens"`
}

// expired reports whether the window no longer covers now.
func (u WindowUsage) expired(w Window, now time.Time) bool {
	return u.Start.IsZero() || !now.Before(u.Start.Add(w.Duration()))
}

// Usage maps each window kind to its consumption for one provider.
type Usage map[Window]WindowUsage

// Clone returns a deep copy of the usage.
func (u Usage) Clone() Usage {
	if u == nil {
		return nil
	}
	out := make(Usage, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}
