package dispatcher

import "strings"

// Wildcard segments understood by Match.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	// Delimiter separates event name segments.
	Delimiter = "."
)

// Match reports whether the concrete event name matches pattern.
func Match(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if !strings.Contains(pattern, WildcardSingle) {
		return false
	}
	return matchSegments(split(pattern), split(name))
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, Delimiter)
}

func matchSegments(pattern, name []string) bool {
	pi, ni := 0, 0
	for pi < len(pattern) {
		if pattern[pi] == WildcardMulti {
			for ni <= len(name) {
				if matchSegments(pattern[pi+1:], name[ni:]) {
					return true
				}
				ni++
			}
			return false
		}
		if ni >= len(name) {
			return false
		}
		if pattern[pi] != WildcardSingle && pattern[pi] != name[ni] {
			return false
		}
		pi++
		ni++
	}
	return ni == len(name)
}
