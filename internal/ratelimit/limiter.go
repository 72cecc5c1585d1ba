package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnsatisfiableLimit is returned when a single request could never fit
// under a configured ceiling, no matter how long the caller waits.
var ErrUnsatisfiableLimit = errors.New("unsatisfiable rate limit")

// UnsatisfiableError describes which ceiling can never admit the request.
type UnsatisfiableError struct {
	Provider  string
	Window    Window
	MaxTokens int
	Estimated int
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("provider %s: estimated %d tokens exceeds max_tokens_%s=%d",
		e.Provider, e.Estimated, e.Window, e.MaxTokens)
}

// Is lets errors.Is match ErrUnsatisfiableLimit.
func (e *UnsatisfiableError) Is(target error) bool {
	return target == ErrUnsatisfiableLimit
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the wait until every denying window has reset.
	RetryAfter time.Duration
	// Window is the denying window with the longest wait.
	Window Window
}

// Allow is the decision returned when every window has capacity.
var Allow = Decision{Allowed: true}

// Limiter tracks per-provider consumption against fixed windows.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]Limits
	usage  map[string]Usage
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter for the given per-provider limits.
func New(limits map[string]Limits, opts ...Option) *Limiter {
	l := &Limiter{
		limits: make(map[string]Limits, len(limits)),
		usage:  make(map[string]Usage),
		now:    time.Now,
	}
	for name, lim := range limits {
		l.limits[name] = lim
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check decides whether one request of estimatedTokens may be sent now.
// Stale windows are reset before evaluation.
func (l *Limiter) Check(provider string, estimatedTokens int) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim := l.limits[provider]
	if lim.IsZero() {
		return Allow, nil
	}

	for _, w := range Windows {
		if _, maxTokens := lim.Ceiling(w); maxTokens > 0 && estimatedTokens > maxTokens {
			return Decision{}, &UnsatisfiableError{
				Provider:  provider,
				Window:    w,
				MaxTokens: maxTokens,
				Estimated: estimatedTokens,
			}
		}
	}

	now := l.now()
	usage := l.expireLocked(provider, now)

	decision := Allow
	for _, w := range Windows {
		maxRequests, maxTokens := lim.Ceiling(w)
		u := usage[w]
		denied := (maxRequests > 0 && u.Requests+1 > maxRequests) ||
			(maxTokens > 0 && u.Tokens+estimatedTokens > maxTokens)
		if !denied {
			continue
		}
		wait := u.Start.Add(w.Duration()).Sub(now)
		if decision.Allowed || wait > decision.RetryAfter {
			decision = Decision{Allowed: false, RetryAfter: wait, Window: w}
		}
	}
	return decision, nil
}

// Record adds actual consumption to every window for the provider.
func (l *Limiter) Record(provider string, requests, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := l.expireLocked(provider, l.now())
	for _, w := range Windows {
		u := usage[w]
		u.Requests += requests
		u.Tokens += tokens
		usage[w] = u
	}
}

// TimeUntilReset returns how long until the window starts over. A window
// that has never been used, or has already expired, resets immediately.
func (l *Limiter) TimeUntilReset(provider string, w Window) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.usage[provider][w]
	if !ok || u.Start.IsZero() {
		return 0
	}
	remaining := u.Start.Add(w.Duration()).Sub(l.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Usage returns a copy of the provider's consumption for persistence.
func (l *Limiter) Usage(provider string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage[provider].Clone()
}

// Restore replaces the provider's consumption with a persisted snapshot.
func (l *Limiter) Restore(provider string, usage Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if usage == nil {
		delete(l.usage, provider)
		return
	}
	l.usage[provider] = usage.Clone()
}

// Limits returns the configured ceilings for a provider.
func (l *Limiter) Limits(provider string) Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits[provider]
}

// expireLocked resets every window that no longer covers now and returns the
// provider's usage map. Callers must hold l.mu.
func (l *Limiter) expireLocked(provider string, now time.Time) Usage {
	usage, ok := l.usage[provider]
	if !ok {
		usage = make(Usage, len(Windows))
		l.usage[provider] = usage
	}
	for _, w := range Windows {
		if usage[w].expired(w, now) {
			usage[w] = WindowUsage{Start: now}
		}
	}
	return usage
}
