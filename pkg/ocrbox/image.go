package ocrbox

import (
	"fmt"
	"image"
	"io"

	// Decoders for the formats screenshots and scans usually arrive in.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageSize reads the pixel dimensions and format name of an encoded image
// without decoding its pixels.
func ImageSize(r io.Reader) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, "", fmt.Errorf("ocrbox: image size: %w", err)
	}

	return cfg.Width, cfg.Height, format, nil
}
