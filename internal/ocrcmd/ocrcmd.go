// Package ocrcmd implements the danube-ocr command: read one image, recognize
// its text lines and print the page as JSON, optionally corrected by the
// model.
package ocrcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/germanamz/danube/pkg/ocrbox"
)

// Exit codes reported by the command.
const (
	ExitEngine      = 2 // recognition or model initialization failed
	ExitNoData      = 5 // -stdin given but nothing was read
	ExitUndecodable = 6 // stdin bytes are not a supported image
	ExitNoInput     = 7 // neither -image nor -stdin
	ExitBadSize     = 8 // -image file unreadable or its size unknown
)

// ExitError carries the process exit code for a failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exitErr(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// Code returns the exit code for err: 0 for nil, the ExitError code when
// present, ExitEngine otherwise.
func Code(err error) int {
	if err == nil {
		return 0
	}

	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}

	return ExitEngine
}

// Recognizer turns an encoded image into a page.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (ocrbox.Page, error)
}

// OpenCorrector builds the corrector used with -correct. The returned close
// function releases it.
type OpenCorrector func(ctx context.Context) (ocrbox.Corrector, func(), error)

// Options are the parsed command flags.
type Options struct {
	ImagePath string
	Stdin     bool
	Correct   bool
}

// ReadImage returns the image bytes selected by opts. stdin wins over
// ImagePath.
func ReadImage(opts Options, stdin io.Reader) ([]byte, error) {
	if opts.Stdin {
		data, err := io.ReadAll(stdin)
		if err != nil || len(data) == 0 {
			return nil, exitErr(ExitNoData, "no image data received on stdin")
		}

		if _, _, _, err := ocrbox.ImageSize(bytes.NewReader(data)); err != nil {
			return nil, exitErr(ExitUndecodable, "failed to decode image from stdin: %w", err)
		}

		return data, nil
	}

	if opts.ImagePath == "" {
		return nil, exitErr(ExitNoInput, "missing -image or -stdin")
	}

	data, err := os.ReadFile(opts.ImagePath)
	if err != nil {
		return nil, exitErr(ExitBadSize, "failed to read image size: %w", err)
	}

	if _, _, _, err := ocrbox.ImageSize(bytes.NewReader(data)); err != nil {
		return nil, exitErr(ExitBadSize, "failed to read image size: %w", err)
	}

	return data, nil
}

// Run reads the image, recognizes it, optionally corrects every box and
// writes the page to stdout.
func Run(ctx context.Context, opts Options, rec Recognizer, open OpenCorrector, stdin io.Reader, stdout io.Writer) error {
	img, err := ReadImage(opts, stdin)
	if err != nil {
		return err
	}

	page, err := rec.Recognize(ctx, img)
	if err != nil {
		return exitErr(ExitEngine, "recognize: %w", err)
	}

	if opts.Correct {
		if open == nil {
			return exitErr(ExitEngine, "correction is not available")
		}

		c, closeFn, err := open(ctx)
		if err != nil {
			return exitErr(ExitEngine, "open model: %w", err)
		}
		defer closeFn()

		if page, err = ocrbox.CorrectPage(ctx, page, c); err != nil {
			return exitErr(ExitEngine, "%w", err)
		}
	}

	return page.Encode(stdout)
}
