package protocol

import (
	"context"
	"log/slog"
	"strings"

	"github.com/germanamz/danube/pkg/normalize"
	"github.com/germanamz/danube/pkg/prompt"
	"github.com/mattn/go-runewidth"
	"github.com/pmezard/go-difflib/difflib"
)

// previewWidth is the display width of fragment previews in logs.
const previewWidth = 60

// Generator completes a prompt built from input.
type Generator interface {
	Generate(ctx context.Context, prompt, input string) (string, error)
}

// Corrector turns one OCR fragment into its corrected form.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

var _ Corrector = (*Worker)(nil)

// Worker runs a fragment through prompt building, generation and
// normalization.
type Worker struct {
	gen Generator
	log *slog.Logger
}

// NewWorker returns a Worker backed by gen. A nil logger discards output.
func NewWorker(gen Generator, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Worker{gen: gen, log: log}
}

// Correct returns the normalized correction of text. An empty text is
// returned as is without calling the generator; an empty result means the
// model produced nothing usable.
func (w *Worker) Correct(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	raw, err := w.gen.Generate(ctx, prompt.Build(text), text)
	if err != nil {
		return "", err
	}

	out := normalize.Normalize(raw)

	if w.log.Enabled(ctx, slog.LevelDebug) {
		w.log.DebugContext(ctx, "correction",
			"input", Preview(text),
			"raw_chars", len(raw),
			"diff", correctionDiff(text, out),
		)
	}

	return out, nil
}

// Preview flattens s to one line and truncates it to a fixed display width.
func Preview(s string) string {
	flat := strings.Join(strings.Fields(s), " ")

	return runewidth.Truncate(flat, previewWidth, "…")
}

func correctionDiff(before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "input",
		ToFile:   "corrected",
		Context:  1,
	}

	result, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}

	return result
}
