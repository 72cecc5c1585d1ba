package fingerprint

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
}

func TestFingerprint_StableForIdenticalContent(t *testing.T) {
	a := afero.NewMemMapFs()
	b := afero.NewMemMapFs()
	files := map[string]string{
		"proj/main.go":     "package main",
		"proj/lib/util.go": "package lib",
	}
	seed(t, a, files)
	seed(t, b, files)

	fa, err := New(a).Fingerprint(context.Background(), "proj")
	require.NoError(t, err)
	fb, err := New(b).Fingerprint(context.Background(), "proj")
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)
}

func TestFingerprint_DetectsChanges(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, map[string]string{"proj/main.go": "package main"})
	h := New(fsys)

	before, err := h.Fingerprint(context.Background(), "proj")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func()
	}{
		{"content edit", func() { seed(t, fsys, map[string]string{"proj/main.go": "package main\n"}) }},
		{"new file", func() { seed(t, fsys, map[string]string{"proj/new.go": ""}) }},
		{"rename", func() { require.NoError(t, fsys.Rename("proj/new.go", "proj/renamed.go")) }},
		{"delete", func() { require.NoError(t, fsys.Remove("proj/renamed.go")) }},
	}

	prev := before
	for _, tt := range tests {
		tt.mutate()
		got, err := h.Fingerprint(context.Background(), "proj")
		require.NoError(t, err)
		assert.NotEqual(t, prev, got, tt.name)
		prev = got
	}
}

func TestFingerprint_IgnoresConfiguredPaths(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, map[string]string{"proj/main.go": "package main"})
	h := New(fsys, "*.log", "build/")

	before, err := h.Fingerprint(context.Background(), "proj")
	require.NoError(t, err)

	seed(t, fsys, map[string]string{
		"proj/run.log":          "noise",
		"proj/build/out.bin":    "binary",
		"proj/.git/HEAD":        "ref: refs/heads/main",
		"proj/.taskmaster/x.db": "state",
	})

	after, err := h.Fingerprint(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFingerprint_ExcludesDirectories(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, map[string]string{"/work/proj/svc/main.go": "package main"})
	h := New(fsys).Exclude("/work/proj/var/logs", "/work/proj/svc/state", "")

	for _, root := range []string{"/work/proj", "/work/proj/svc"} {
		before, err := h.Fingerprint(context.Background(), root)
		require.NoError(t, err)

		seed(t, fsys, map[string]string{
			"/work/proj/var/logs/taskmaster.log": "level=INFO msg=\"agent responded\"\n",
			"/work/proj/svc/state/state.json":    "{}",
		})

		after, err := h.Fingerprint(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, before, after, root)
	}

	// A directory that merely shares the name is still hashed.
	before, err := h.Fingerprint(context.Background(), "/work/proj/svc")
	require.NoError(t, err)
	seed(t, fsys, map[string]string{"/work/proj/svc/var/logs/app.txt": "data"})
	after, err := h.Fingerprint(context.Background(), "/work/proj/svc")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestFingerprint_MissingRoot(t *testing.T) {
	fsys := afero.NewMemMapFs()
	h := New(fsys)

	empty, err := h.Fingerprint(context.Background(), "nope")
	require.NoError(t, err)

	seed(t, fsys, map[string]string{"nope/a.txt": "a"})
	created, err := h.Fingerprint(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotEqual(t, empty, created)
}

func TestFingerprint_Cancelled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, map[string]string{"proj/a.go": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(fsys).Fingerprint(ctx, "proj")
	assert.ErrorIs(t, err, context.Canceled)
}
