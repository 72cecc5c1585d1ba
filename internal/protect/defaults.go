// Package protect keeps agent edits away from paths that must never be
// rewritten by a generated change.
package protect

// DefaultPatterns are always protected, relative to the project root.
var DefaultPatterns = []string{
	".git/**",
	".taskmaster/**",
	"**/.ssh/**",
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/*.p12",
	"**/*.pfx",
	"**/*.jks",
	"**/*.keystore",
}
