// Danube is the OCR post-processing worker. It resolves a small quantized
// text model, loads it once, prints {"ready":true} and then answers every
// JSON line {"text": ...} read from stdin with one corrected line on stdout.
// Diagnostics go to stderr only.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/germanamz/danube/internal/startup"
	"github.com/germanamz/danube/pkg/protocol"
)

// runResolve resolves the model and prints its local path.
func runResolve(ctx context.Context, configPath string, stdout io.Writer) error {
	cfg, log, err := startup.Setup(configPath, os.Stderr)
	if err != nil {
		return err
	}

	spec, err := startup.ResolveModel(ctx, cfg, log)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, spec.LocalPath)
	return err
}

// runServe initializes the model and answers requests until end of input.
func runServe(ctx context.Context, configPath string, stdin io.Reader, stdout io.Writer) error {
	cfg, log, err := startup.Setup(configPath, os.Stderr)
	if err != nil {
		return err
	}

	adapter, err := startup.OpenModel(ctx, cfg, os.Stderr, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			log.Warn("close backend", "error", err)
		}
	}()

	srv := protocol.NewServer(protocol.NewWorker(adapter, log), log)

	return srv.Serve(ctx, stdin, stdout)
}
