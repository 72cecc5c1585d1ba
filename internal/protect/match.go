package protect

import "strings"

// Match reports whether a slash-separated path matches pattern. A "**"
// segment matches zero or more path segments; "*" inside a segment matches
// any run of characters.
func Match(path, pattern string) bool {
	return matchParts(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchParts(path, pattern []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := range len(path) + 1 {
				if matchParts(path[i:], rest) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 || !matchSegment(path[0], head) {
			return false
		}
		path, pattern = path[1:], pattern[1:]
	}
	return len(path) == 0
}

func matchSegment(segment, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return segment == pattern
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(segment, parts[0]) {
		return false
	}
	segment = segment[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(segment, part)
		if i < 0 {
			return false
		}
		segment = segment[i+len(part):]
	}
	return strings.HasSuffix(segment, last)
}
