// Package fingerprint content-addresses a directory tree so the runner can
// tell whether an agent call changed anything.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// defaultIgnore is always skipped, in addition to configured patterns.
var defaultIgnore = []string{".git", ".taskmaster", "node_modules", ".venv", "__pycache__"}

// Hasher computes fingerprints over an afero filesystem.
type Hasher struct {
	fs      afero.Fs
	ignore  []string
	exclude map[string]bool
}

// New creates a Hasher. Ignore patterns are matched with filepath.Match
// against both the base name and the slash-separated path relative to the
// walked root.
func New(fsys afero.Fs, ignore ...string) *Hasher {
	return &Hasher{fs: fsys, ignore: append(append([]string{}, defaultIgnore...), ignore...)}
}

// Exclude skips the given directories wherever they appear under a walked
// root. Paths are compared after filepath.Clean, so they must be expressed
// the same way as the roots passed to Fingerprint (both absolute, or both
// relative to the same directory). Blank entries are ignored.
func (h *Hasher) Exclude(dirs ...string) *Hasher {
	if h.exclude == nil {
		h.exclude = make(map[string]bool, len(dirs))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		h.exclude[filepath.Clean(dir)] = true
	}
	return h
}

// Fingerprint returns a hex digest over the relative path, mode and content
// of every regular file under root. A missing root fingerprints as empty
// content, so creating it counts as a change.
func (h *Hasher) Fingerprint(ctx context.Context, root string) (string, error) {
	var files []string
	err := afero.Walk(h.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if info.IsDir() && h.exclude[filepath.Clean(path)] {
			return filepath.SkipDir
		}
		if rel != "." && h.ignored(filepath.ToSlash(rel), info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipDir) {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(files)
	sum := sha256.New()
	for _, path := range files {
		rel, _ := filepath.Rel(root, path)
		info, err := h.fs.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		fmt.Fprintf(sum, "%s\x00%o\x00", filepath.ToSlash(rel), info.Mode().Perm()&0o111)
		if err := h.hashFile(sum, path); err != nil {
			return "", err
		}
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func (h *Hasher) hashFile(w io.Writer, path string) error {
	f, err := h.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func (h *Hasher) ignored(rel, base string) bool {
	for _, pattern := range h.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if strings.HasSuffix(pattern, "/") && strings.HasPrefix(rel+"/", pattern) {
			return true
		}
	}
	return false
}

// OS returns a Hasher over the real filesystem.
func OS(ignore ...string) *Hasher {
	return New(afero.NewOsFs(), ignore...)
}

// Func computes a fingerprint of path.
type Func func(ctx context.Context, path string) (string, error)

// Fingerprint calls f.
func (f Func) Fingerprint(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}
