// Package tesseract produces ocrbox pages with the Tesseract engine through
// gosseract. It needs cgo and libtesseract at build time.
package tesseract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/germanamz/danube/pkg/ocrbox"
	"github.com/otiai10/gosseract/v2"
)

// Engine recognizes text lines in encoded images.
type Engine struct {
	Languages []string // Tesseract language codes; empty uses the engine default.

	clientFactory func() *gosseract.Client
}

// New returns an Engine for the given languages.
func New(languages ...string) *Engine {
	return &Engine{Languages: languages, clientFactory: gosseract.NewClient}
}

// Recognize runs OCR over img and returns one box per recognized text line.
func (e *Engine) Recognize(ctx context.Context, img []byte) (ocrbox.Page, error) {
	width, height, _, err := ocrbox.ImageSize(bytes.NewReader(img))
	if err != nil {
		return ocrbox.Page{}, err
	}

	if err := ctx.Err(); err != nil {
		return ocrbox.Page{}, err
	}

	c := e.clientFactory()
	defer func() { _ = c.Close() }()

	if len(e.Languages) > 0 {
		if err := c.SetLanguage(e.Languages...); err != nil {
			return ocrbox.Page{}, fmt.Errorf("tesseract: set languages: %w", err)
		}
	}

	if err := c.SetImageFromBytes(img); err != nil {
		return ocrbox.Page{}, fmt.Errorf("tesseract: set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return ocrbox.Page{}, fmt.Errorf("tesseract: recognize: %w", err)
	}

	lines := make([]ocrbox.Line, 0, len(boxes))
	for _, b := range boxes {
		r := b.Box
		lines = append(lines, ocrbox.Line{
			Text: b.Word,
			Quad: []ocrbox.Point{
				{X: float64(r.Min.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Min.Y)},
				{X: float64(r.Max.X), Y: float64(r.Max.Y)},
				{X: float64(r.Min.X), Y: float64(r.Max.Y)},
			},
		})
	}

	return ocrbox.NewPage(float64(width), float64(height), lines), nil
}
