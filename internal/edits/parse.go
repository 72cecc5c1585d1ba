// Package edits extracts file changes from agent responses and applies them
// to the working tree.
package edits

import (
	"regexp"
	"strings"
)

// Kind classifies an extracted block.
type Kind string

const (
	// KindWrite replaces a whole file.
	KindWrite Kind = "write"
	// KindDiff is a unified diff applied with git apply.
	KindDiff Kind = "diff"
	// KindCommand is a shell block. Commands are reported, never run.
	KindCommand Kind = "command"
)

// Edit is one change proposed by the agent.
type Edit struct {
	Kind     Kind
	Language string
	// Path is relative to the task's working path. Empty for commands and
	// for diffs, which carry their own paths.
	Path    string
	Content string
}

// blockPattern matches ```lang or ```lang:path fenced blocks.
var blockPattern = regexp.MustCompile("(?s)```([\\w+#.-]+)(?::([^\\n`]+))?\\n(.*?)```")

var shellLanguages = map[string]bool{"bash": true, "sh": true, "shell": true, "zsh": true, "fish": true, "console": true}

var diffLanguages = map[string]bool{"diff": true, "patch": true}

// Parse extracts edits from a response. Code blocks without a file path
// that are neither diffs nor shell are explanatory and ignored.
func Parse(response string) []Edit {
	var out []Edit
	for _, m := range blockPattern.FindAllStringSubmatch(response, -1) {
		lang := strings.ToLower(m[1])
		path := strings.TrimSpace(m[2])
		body := m[3]

		switch {
		case diffLanguages[lang]:
			out = append(out, Edit{Kind: KindDiff, Language: lang, Path: path, Content: ensureNewline(body)})
		case shellLanguages[lang]:
			for _, line := range strings.Split(body, "\n") {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				out = append(out, Edit{Kind: KindCommand, Language: lang, Content: line})
			}
		case path != "":
			out = append(out, Edit{Kind: KindWrite, Language: lang, Path: path, Content: ensureNewline(body)})
		}
	}
	return out
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
