// Package prompt renders an OCR fragment into the instruction prompt given to
// the model, and owns the delimiter markers the normalizer later strips.
package prompt

import "strings"

// Delimiter markers. TextStart/TextEnd wrap the fragment, AnswerOpen ends the
// prompt so the continuation is the answer, and EndOfOutput is the stop
// marker the model is told to emit.
const (
	TextStart   = "<<<TEXT>>>"
	TextEnd     = "<<<END>>>"
	AnswerOpen  = "<<<OUT>>>"
	EndOfOutput = "<<<ENDOUT>>>"
)

// Markers lists every delimiter marker.
var Markers = []string{TextStart, TextEnd, AnswerOpen, EndOfOutput}

const instructions = `You are a text post-processor.
Rules:
- Only adjust whitespace, line breaks, and indentation.
- Fix missing spaces between words (example: "andthe" -> "and the").
- Do not change words, punctuation, or numbers.
- Do not add or remove content.
- Preserve table pipes and dashes ("|" and "-") if present.
- If table rows are present, keep the number of rows and column separators unchanged.
- Add a blank line before and after any Markdown table block.
- Add a blank line before multiple-choice answer blocks (A., B., C., etc.).
- Do not repeat the input or any markers.
Return only the corrected text.
End your response with ` + EndOfOutput + ` on its own line.

`

// Build returns the prompt for text.
func Build(text string) string {
	var b strings.Builder

	b.Grow(len(instructions) + len(text) + 64)
	b.WriteString(instructions)
	b.WriteString("Text:\n")
	b.WriteString(TextStart + "\n")
	b.WriteString(text)
	b.WriteString("\n" + TextEnd + "\n\n")
	b.WriteString("Corrected:\n")
	b.WriteString(AnswerOpen + "\n")

	return b.String()
}
