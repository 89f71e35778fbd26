package normalize

import (
	"regexp"
	"strings"

	"github.com/germanamz/danube/pkg/prompt"
)

const fence = "```"

// preamblePattern matches a whole (trimmed) line announcing the answer.
var preamblePattern = regexp.MustCompile(`(?i)^(the\s+)?corrected\s+text\s+is\s+as\s+follows:?\s*$`)

// Clean runs the extraction stages over raw model output and returns the
// trimmed answer, or "" when nothing remains.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	s = strings.TrimSpace(StripFences(s))
	s = StripPreamble(s)
	s = ExtractEcho(s)
	s = ExtractAnswer(s)
	s = ScrubMarkers(s)

	// Marker removal can expose another preamble or fence; repeat until
	// nothing changes so a second Clean is a no-op.
	for {
		next := strings.TrimSpace(StripFences(StripPreamble(s)))
		if next == s {
			return s
		}
		s = next
	}
}

// StripFences removes the first line when it opens a fenced code block and
// the last line when it closes one.
func StripFences(s string) string {
	if strings.HasPrefix(s, fence) {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
	}

	if strings.HasSuffix(s, "\n"+fence) {
		s = s[:len(s)-len(fence)-1]
	}

	return s
}

// StripPreamble drops leading lines that only announce the corrected text,
// then trims the result.
func StripPreamble(s string) string {
	lines := splitLines(s)
	for len(lines) > 0 && preamblePattern.MatchString(strings.TrimSpace(lines[0])) {
		lines = lines[1:]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractEcho returns the text between the last prompt.TextStart and the next
// prompt.TextEnd after it, when the model reproduced the prompt before its
// answer. s is returned unchanged when either marker is missing or the
// enclosed text is empty.
func ExtractEcho(s string) string {
	if !strings.Contains(s, prompt.TextStart) || !strings.Contains(s, prompt.TextEnd) {
		return s
	}

	if inner := between(s, prompt.TextStart, prompt.TextEnd); inner != "" {
		return inner
	}

	return s
}

func between(s, start, end string) string {
	i := strings.LastIndex(s, start)
	if i < 0 {
		return ""
	}

	rest := s[i+len(start):]

	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}

	return strings.TrimSpace(rest[:j])
}

// ExtractAnswer returns the trimmed text after the last prompt.AnswerOpen, or
// s when the marker is absent or nothing follows it.
func ExtractAnswer(s string) string {
	i := strings.LastIndex(s, prompt.AnswerOpen)
	if i < 0 {
		return s
	}

	if tail := strings.TrimSpace(s[i+len(prompt.AnswerOpen):]); tail != "" {
		return tail
	}

	return s
}

// ScrubMarkers removes every occurrence of the delimiter markers, including
// markers that only form once another one has been cut out.
func ScrubMarkers(s string) string {
	for {
		next := s
		for _, m := range prompt.Markers {
			next = strings.ReplaceAll(next, m, "")
		}

		if next == s {
			return s
		}
		s = next
	}
}
