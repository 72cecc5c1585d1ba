package tasklist

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskmaster/pkg/models"
)

const yamlTasks = `
tasks:
  - id: setup
    title: Project skeleton
    description: Create the module layout.
    post_hooks: [build]
  - id: api
    title: HTTP handlers
    description: Add the handlers.
    path: internal/api
    metadata:
      owner: platform
`

func TestLoad_YAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "tasks.yaml", []byte(yamlTasks), 0o644))

	list, err := Load(fs, "tasks.yaml")
	require.NoError(t, err)

	assert.Equal(t, "tasks.yaml", list.Path)
	assert.Equal(t, []string{"setup", "api"}, list.IDs())
	assert.Equal(t, []string{"build"}, list.Tasks[0].PostHooks)
	assert.Equal(t, "internal/api", list.Tasks[1].Path)
	assert.Equal(t, "platform", list.Tasks[1].Metadata["owner"])
	assert.Equal(t, models.TaskStatusPending, list.Tasks[0].Status)
}

func TestParse_Formats(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		data string
	}{
		{
			name: "bare yaml list",
			ext:  ".yml",
			data: "- id: a\n  title: A\n  description: do a\n",
		},
		{
			name: "json object",
			ext:  ".json",
			data: `{"tasks":[{"id":"a","title":"A","description":"do a"}]}`,
		},
		{
			name: "json array",
			ext:  ".json",
			data: ` [{"id":"a","title":"A","description":"do a"}]`,
		},
		{
			name: "toml",
			ext:  ".toml",
			data: "[[tasks]]\nid = \"a\"\ntitle = \"A\"\ndescription = \"do a\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := Parse([]byte(tt.data), tt.ext)
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, "a", tasks[0].ID)
			assert.Equal(t, "do a", tasks[0].Description)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		ext     string
		data    string
		wantErr error
	}{
		{"unknown extension", ".ini", "", ErrUnsupportedFormat},
		{"empty list", ".yaml", "tasks: []\n", ErrNoTasks},
		{"missing title", ".yaml", "- id: a\n  description: x\n", ErrMissingField},
		{"missing id", ".json", `[{"title":"t","description":"d"}]`, ErrMissingField},
		{
			"duplicate id",
			".yaml",
			"- {id: a, title: A, description: x}\n- {id: a, title: B, description: y}\n",
			ErrDuplicateID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.ext)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("tasks: [unclosed"), ".yaml")
	assert.Error(t, err)
}

func TestApplyHookDefaults(t *testing.T) {
	list := &TaskList{Tasks: []models.Task{
		{ID: "a", PostHooks: []string{"custom"}},
		{ID: "b"},
	}}

	list.ApplyHookDefaults([]string{"fmt"}, []string{"test"})

	assert.Equal(t, []string{"fmt"}, list.Tasks[0].PreHooks)
	assert.Equal(t, []string{"custom"}, list.Tasks[0].PostHooks)
	assert.Equal(t, []string{"test"}, list.Tasks[1].PostHooks)
}

func TestUnknownHooks(t *testing.T) {
	list := &TaskList{Tasks: []models.Task{
		{ID: "a", PreHooks: []string{"fmt"}, PostHooks: []string{"test"}},
		{ID: "b", PostHooks: []string{"lint"}},
	}}
	known := map[string]bool{"fmt": true, "test": true}

	missing := list.UnknownHooks(func(id string) bool { return known[id] })
	assert.Equal(t, []string{"b: lint"}, missing)
}

func TestFind(t *testing.T) {
	list := &TaskList{Tasks: []models.Task{{ID: "a", Title: "A"}}}

	task, ok := list.Find("a")
	assert.True(t, ok)
	assert.Equal(t, "A", task.Title)

	_, ok = list.Find("missing")
	assert.False(t, ok)
}
