// Package ocrbox defines the page format exchanged between the OCR step and
// the correction worker: recognized text lines with rectangles in a
// bottom-left origin coordinate space.
package ocrbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

// Point is a detector vertex in top-left origin image coordinates.
type Point struct {
	X, Y float64
}

// Line is one recognized text line with its detection polygon.
type Line struct {
	Text string
	Quad []Point
}

// Box is a text line with its rectangle [x, y, width, height], where y is
// measured from the bottom edge of the image.
type Box struct {
	Text string     `json:"text"`
	Rect [4]float64 `json:"rect"`
}

// Page is the OCR result for one image.
type Page struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Boxes  []Box   `json:"boxes"`
}

// NewPage builds a Page from detector lines. Texts are trimmed; lines with
// blank text or no vertices are dropped. Each rectangle is the bounding box
// of the polygon with its y flipped to height - maxY.
func NewPage(width, height float64, lines []Line) Page {
	p := Page{Width: width, Height: height, Boxes: []Box{}}

	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" || len(l.Quad) == 0 {
			continue
		}

		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, pt := range l.Quad {
			minX = math.Min(minX, pt.X)
			minY = math.Min(minY, pt.Y)
			maxX = math.Max(maxX, pt.X)
			maxY = math.Max(maxY, pt.Y)
		}

		p.Boxes = append(p.Boxes, Box{
			Text: text,
			Rect: [4]float64{minX, height - maxY, maxX - minX, maxY - minY},
		})
	}

	return p
}

// Encode writes p as a single JSON document.
func (p Page) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	return enc.Encode(p)
}

// Decode reads a Page written by Encode.
func Decode(r io.Reader) (Page, error) {
	var p Page
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return Page{}, fmt.Errorf("ocrbox: decode page: %w", err)
	}

	return p, nil
}

// Corrector turns one OCR fragment into its corrected form.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// CorrectPage runs every box text through c and returns the corrected copy.
// Geometry is left untouched. A box whose correction comes back empty keeps
// its recognized text.
func CorrectPage(ctx context.Context, p Page, c Corrector) (Page, error) {
	out := p
	out.Boxes = make([]Box, len(p.Boxes))

	for i, b := range p.Boxes {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}

		text, err := c.Correct(ctx, b.Text)
		if err != nil {
			return Page{}, fmt.Errorf("ocrbox: correct box %d: %w", i, err)
		}

		if text != "" {
			b.Text = text
		}

		out.Boxes[i] = b
	}

	return out, nil
}
