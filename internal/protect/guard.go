package protect

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ErrProtected matches any ProtectedError.
var ErrProtected = errors.New("path is protected")

// ProtectedError reports an edit target covered by a protected pattern.
type ProtectedError struct {
	Path    string
	Pattern string
}

func (e *ProtectedError) Error() string {
	return fmt.Sprintf("%s is protected (matches %s)", e.Path, e.Pattern)
}

// Is lets errors.Is match ErrProtected.
func (e *ProtectedError) Is(target error) bool { return target == ErrProtected }

// Guard checks edit targets against protected patterns.
type Guard struct {
	mu       sync.RWMutex
	patterns []string
}

// New creates a Guard with DefaultPatterns plus extra.
func New(extra ...string) *Guard {
	g := &Guard{patterns: append([]string{}, DefaultPatterns...)}
	for _, p := range extra {
		g.Add(p)
	}
	return g
}

// Add protects another pattern. A trailing slash protects a directory tree.
func (g *Guard) Add(pattern string) {
	pattern = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(pattern)), "./")
	if pattern == "" {
		return
	}
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.patterns = append(g.patterns, pattern)
}

// Check returns a ProtectedError if rel, relative to the project root,
// matches a protected pattern.
func (g *Guard) Check(rel string) error {
	rel = filepath.ToSlash(filepath.Clean(rel))
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, pattern := range g.patterns {
		if Match(rel, pattern) {
			return &ProtectedError{Path: rel, Pattern: pattern}
		}
	}
	return nil
}

// DiffTargets returns the paths a unified diff modifies, taken from its
// "---" and "+++" headers with the a/ and b/ prefixes removed.
func DiffTargets(patch string) []string {
	seen := map[string]bool{}
	var out []string
	for _, line := range strings.Split(patch, "\n") {
		var name string
		switch {
		case strings.HasPrefix(line, "+++ "):
			name = strings.TrimPrefix(line, "+++ ")
		case strings.HasPrefix(line, "--- "):
			name = strings.TrimPrefix(line, "--- ")
		default:
			continue
		}
		if i := strings.IndexByte(name, '\t'); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimSpace(name)
		if name == "/dev/null" || name == "" {
			continue
		}
		if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
			name = name[2:]
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
