package ratelimit

import "time"

// WindowStatus summarizes one window for reporting.
type WindowStatus struct {
	Window      Window
	Requests    int
	MaxRequests int
	Tokens      int
	MaxTokens   int
	ResetIn     time.Duration
}

// Limited returns true if the window has any configured ceiling.
func (s WindowStatus) Limited() bool {
	return s.MaxRequests > 0 || s.MaxTokens > 0
}

// Status reports every window for the provider without resetting anything.
// Expired windows are reported as empty.
func (l *Limiter) Status(provider string) []WindowStatus {
	l.mu.Lock()
	lim := l.limits[provider]
	usage := l.usage[provider].Clone()
	now := l.now()
	l.mu.Unlock()

	out := make([]WindowStatus, 0, len(Windows))
	for _, w := range Windows {
		maxRequests, maxTokens := lim.Ceiling(w)
		s := WindowStatus{Window: w, MaxRequests: maxRequests, MaxTokens: maxTokens}
		if u, ok := usage[w]; ok && !u.expired(w, now) {
			s.Requests = u.Requests
			s.Tokens = u.Tokens
			s.ResetIn = u.Start.Add(w.Duration()).Sub(now)
		}
		out = append(out, s)
	}
	return out
}
