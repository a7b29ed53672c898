package accumulator

import "strings"

// Policy classifies requests whose responses can end as soon as the
// buffer forms a minimal complete statement, without waiting for the
// backend's completion marker.
type Policy struct {
	MaxPromptLen int
	Keywords     []string
	MinStatement int // complete lines required before an early exit
}

var defaultPolicy = Policy{
	MaxPromptLen: 50,
	Keywords:     []string{"print", "hello", "output", "echo"},
	MinStatement: 1,
}

func (p Policy) withDefaults() Policy {
	if p.MaxPromptLen <= 0 {
		p.MaxPromptLen = defaultPolicy.MaxPromptLen
	}
	if len(p.Keywords) == 0 {
		p.Keywords = defaultPolicy.Keywords
	}
	if p.MinStatement <= 0 {
		p.MinStatement = defaultPolicy.MinStatement
	}
	return p
}

// classifySimple reports whether a prompt is short and matches a trivial
// intent keyword. Evaluated once at construction.
func (p Policy) classifySimple(prompt string) bool {
	if prompt == "" || len(prompt) > p.MaxPromptLen {
		return false
	}
	lower := strings.ToLower(prompt)
	for _, kw := range p.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// bufferComplete reports whether the buffer already forms a minimal
// complete statement: enough full lines, balanced brackets, and no
// dangling continuation.
func (p Policy) bufferComplete(text string) bool {
	trimmed := strings.TrimRight(text, " \t")
	if trimmed == "" || strings.Count(trimmed, "\n") < p.MinStatement {
		return false
	}
	if !balancedBrackets(trimmed) {
		return false
	}
	lastLine := trimmed
	if idx := strings.LastIndex(strings.TrimRight(trimmed, "\n"), "\n"); idx >= 0 {
		lastLine = strings.TrimRight(trimmed, "\n")[idx+1:]
	}
	lastLine = strings.TrimSpace(lastLine)
	switch {
	case lastLine == "":
	case strings.HasSuffix(lastLine, ","),
		strings.HasSuffix(lastLine, ":"),
		strings.HasSuffix(lastLine, "\\"),
		strings.HasSuffix(lastLine, "+"),
		strings.HasSuffix(lastLine, "="):
		return false
	}
	return true
}

func balancedBrackets(text string) bool {
	depth := map[rune]int{}
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	for _, r := range text {
		switch r {
		case '(', '[', '{':
			depth[r]++
		case ')', ']', '}':
			open := pairs[r]
			depth[open]--
			if depth[open] < 0 {
				return false
			}
		}
	}
	return depth['('] == 0 && depth['['] == 0 && depth['{'] == 0
}
