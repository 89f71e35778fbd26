package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// optionPattern matches a multiple-choice line such as "A. foo" or "12) bar".
var optionPattern = regexp.MustCompile(`^\s*([A-H]|\d{1,2})[.)]\s+`)

// block is the kind of line run currently being walked.
type block int

const (
	blockNone block = iota
	blockTable
	blockOption
)

// IsTableLine reports whether line is a Markdown table row: after leading
// whitespace it starts with a pipe and it has at least two pipes.
func IsTableLine(line string) bool {
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)

	return strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2
}

// IsOptionLine reports whether line starts a multiple-choice option.
func IsOptionLine(line string) bool {
	return optionPattern.MatchString(line)
}

// SpaceTables surrounds every run of table lines with a blank line, unless the
// neighbouring line is already blank or the run touches the start or end of
// s. Other lines pass through unchanged.
func SpaceTables(s string) string {
	lines := splitLines(s)
	if len(lines) == 0 {
		return s
	}

	out := make([]string, 0, len(lines)+4)
	state := blockNone

	for i, line := range lines {
		if !IsTableLine(line) {
			out = append(out, line)
			state = blockNone
			continue
		}

		if state != blockTable && len(out) > 0 && !isBlank(out[len(out)-1]) {
			out = append(out, "")
		}

		out = append(out, line)
		state = blockTable

		if i+1 < len(lines) && !IsTableLine(lines[i+1]) && !isBlank(lines[i+1]) {
			out = append(out, "")
		}
	}

	return joinLines(out)
}

// SpaceOptions inserts one blank line before the first line of each option
// block when the line before it is not blank. Blank lines inside a block keep
// it open; any other line closes it.
func SpaceOptions(s string) string {
	lines := splitLines(s)
	if len(lines) == 0 {
		return s
	}

	out := make([]string, 0, len(lines)+4)
	state := blockNone

	for _, line := range lines {
		if IsOptionLine(line) {
			if state != blockOption && len(out) > 0 && !isBlank(out[len(out)-1]) {
				out = append(out, "")
			}

			out = append(out, line)
			state = blockOption

			continue
		}

		out = append(out, line)
		if !isBlank(line) {
			state = blockNone
		}
	}

	return joinLines(out)
}
