package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize turns raw model output into the corrected fragment: Clean, then
// SpaceTables, then SpaceOptions. An empty result means the model produced no
// usable correction. Normalize is idempotent.
func Normalize(raw string) string {
	cleaned := Clean(raw)
	if cleaned == "" {
		return ""
	}

	return SpaceOptions(SpaceTables(cleaned))
}

// isLineBreak reports whether r ends a line on its own. "\r\n" is handled by
// splitLines.
func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}

	return false
}

// splitLines splits s at any line boundary. A trailing boundary does not
// produce a final empty line, and "" yields no lines.
func splitLines(s string) []string {
	var lines []string

	start := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isLineBreak(r) {
			i += size
			continue
		}

		lines = append(lines, s[start:i])
		if r == '\r' && i+1 < len(s) && s[i+1] == '\n' {
			size = 2
		}
		i += size
		start = i
	}

	if start < len(s) {
		lines = append(lines, s[start:])
	}

	return lines
}

func joinLines(lines []string) string {
	return strings.TrimRightFunc(strings.Join(lines, "\n"), unicode.IsSpace)
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
