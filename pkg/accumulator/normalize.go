package accumulator

import (
	"regexp"
	"strings"
)

// definitionLine matches the start of a code definition block. Repeated
// blocks with an identical signature are a known backend streaming
// artifact and get collapsed to the first occurrence.
var definitionLine = regexp.MustCompile(`^\s*(def |class |func |function |import |from )`)

// Normalize cleans a finalized response buffer: strips leftover protocol
// tokens, collapses duplicated definition blocks, closes unterminated
// triple-quoted strings, and trims trailing whitespace.
func Normalize(text string) string {
	for _, sentinel := range completionSentinels {
		text = strings.ReplaceAll(text, sentinel, "")
	}
	text = collapseDuplicateDefinitions(text)
	text = closeTripleQuotes(text)
	return strings.TrimRight(text, " \t\n")
}

// collapseDuplicateDefinitions drops definition blocks whose signature
// line already appeared. A block is the signature line plus the indented
// lines that follow it.
func collapseDuplicateDefinitions(text string) string {
	lines := strings.Split(text, "\n")
	seen := map[string]bool{}
	var out []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !definitionLine.MatchString(line) {
			out = append(out, line)
			continue
		}
		sig := strings.TrimSpace(line)
		if !seen[sig] {
			seen[sig] = true
			out = append(out, line)
			continue
		}
		// Skip the duplicate signature and its indented body
		indent := leadingIndent(line)
		for i+1 < len(lines) {
			next := lines[i+1]
			if strings.TrimSpace(next) != "" && leadingIndent(next) <= indent {
				break
			}
			i++
		}
	}
	return strings.Join(out, "\n")
}

func leadingIndent(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// closeTripleQuotes appends a closing marker when a triple-quoted string
// is left unterminated
func closeTripleQuotes(text string) string {
	for _, quote := range []string{`"""`, "'''"} {
		if strings.Count(text, quote)%2 == 1 {
			if !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
			text += quote
		}
	}
	return text
}
