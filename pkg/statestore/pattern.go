package statestore

import "strings"

// pattern is a compiled dot-notation path pattern. A "*" segment matches
// exactly one path segment; matching is pure string comparison.
type pattern struct {
	raw      string
	segments []string
}

func compilePattern(raw string) pattern {
	return pattern{
		raw:      raw,
		segments: strings.Split(raw, "."),
	}
}

// matches reports whether path matches this pattern
func (p pattern) matches(path string) bool {
	if p.raw == path {
		return true
	}

	parts := strings.Split(path, ".")
	if len(parts) != len(p.segments) {
		return false
	}

	for i, seg := range p.segments {
		if seg != "*" && seg != parts[i] {
			return false
		}
	}
	return true
}

// isExact reports whether the pattern contains no wildcards
func (p pattern) isExact() bool {
	return !strings.Contains(p.raw, "*")
}
