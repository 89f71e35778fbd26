// Danube-ocr recognizes the text lines of one image with Tesseract and prints
// them as {"width","height","boxes":[{"text","rect"}]} with rectangles in
// bottom-left origin coordinates. With -correct every line is also run
// through the danube correction model.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/germanamz/danube/internal/ocrcmd"
	"github.com/germanamz/danube/internal/startup"
	"github.com/germanamz/danube/pkg/ocrbox"
	"github.com/germanamz/danube/pkg/ocrbox/tesseract"
	"github.com/germanamz/danube/pkg/protocol"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: danube-ocr (-image <path> | -stdin) [flags]\n\nFlags:\n")
		flag.PrintDefaults()
	}

	image := flag.String("image", "", "path to the image to recognize")
	stdin := flag.Bool("stdin", false, "read the encoded image from stdin")
	correct := flag.Bool("correct", false, "run every recognized line through the correction model")
	lang := flag.String("lang", "eng", "tesseract languages, '+' separated")
	configPath := flag.String("config", "", "path to YAML configuration file for -correct (optional)")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	flag.Parse()

	if err := startup.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ocrcmd.ExitEngine)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	opts := ocrcmd.Options{ImagePath: *image, Stdin: *stdin, Correct: *correct}
	engine := tesseract.New(strings.Split(*lang, "+")...)

	err := ocrcmd.Run(ctx, opts, engine, openCorrector(*configPath), os.Stdin, os.Stdout)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(ocrcmd.Code(err))
}

// openCorrector loads the model the same way the worker does.
func openCorrector(configPath string) ocrcmd.OpenCorrector {
	return func(ctx context.Context) (ocrbox.Corrector, func(), error) {
		cfg, log, err := startup.Setup(configPath, os.Stderr)
		if err != nil {
			return nil, nil, err
		}

		adapter, err := startup.OpenModel(ctx, cfg, os.Stderr, log)
		if err != nil {
			return nil, nil, err
		}

		closeFn := func() {
			if err := adapter.Close(); err != nil {
				log.Warn("close backend", "error", err)
			}
		}

		return protocol.NewWorker(adapter, log), closeFn, nil
	}
}
