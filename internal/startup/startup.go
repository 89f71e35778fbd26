// Package startup holds the initialization shared by the danube binaries:
// configuration, the stderr logger, model resolution and backend loading.
// Every error it returns is an *InitError.
package startup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/germanamz/danube/pkg/config"
	"github.com/germanamz/danube/pkg/generate"
	"github.com/germanamz/danube/pkg/generate/llamacpp"
	"github.com/germanamz/danube/pkg/generate/llamaserver"
	"github.com/germanamz/danube/pkg/hfhub"
	"github.com/germanamz/danube/pkg/resolver"
)

// InitError marks a failure that happened before the worker became ready.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return e.Err.Error() }
func (e *InitError) Unwrap() error { return e.Err }

// Failed wraps err in an InitError; nil stays nil.
func Failed(err error) error {
	if err == nil {
		return nil
	}

	return &InitError{Err: err}
}

// IsInit reports whether err happened during initialization.
func IsInit(err error) bool {
	var ie *InitError
	return errors.As(err, &ie)
}

// LoadDotEnv loads path into the environment. A missing file is not an
// error; variables already set win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return Failed(err)
}

// Setup loads the configuration from configPath and the environment and
// builds a logger writing to stderr at the configured level.
func Setup(configPath string, stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		return config.Config{}, nil, Failed(err)
	}

	lvl, err := cfg.Level()
	if err != nil {
		return config.Config{}, nil, Failed(err)
	}

	return cfg, NewLogger(stderr, lvl), nil
}

// NewLogger returns a text logger tagged with a fresh worker id and the pid.
func NewLogger(w io.Writer, lvl slog.Level) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})

	return slog.New(h).With("worker", uuid.NewString(), "pid", os.Getpid())
}

// ResolveModel locates or downloads the model artifact.
func ResolveModel(ctx context.Context, cfg config.Config, log *slog.Logger) (resolver.ModelSpec, error) {
	hub := hfhub.New(cfg.Hub.Endpoint, cfg.Hub.Token, nil)

	spec, err := resolver.New(cfg.Model, hub, log).Resolve(ctx)
	if err != nil {
		return resolver.ModelSpec{}, Failed(err)
	}

	log.InfoContext(ctx, "model resolved", "path", spec.LocalPath, "repo", spec.Repository)

	return spec, nil
}

// NewLoader returns the generation backend loader selected by cfg. diag
// receives backend process output.
func NewLoader(cfg config.Config, diag io.Writer, log *slog.Logger) (generate.Loader, error) {
	switch cfg.Backend.Kind {
	case config.BackendServer:
		return llamaserver.NewLoader(llamaserver.Options{
			Binary:      cfg.Backend.ServerBinary,
			LoadTimeout: cfg.Backend.LoadTimeout,
			Output:      diag,
			Log:         log,
		}), nil
	case config.BackendLlamaCpp:
		if !llamacpp.Available {
			return nil, Failed(llamacpp.ErrUnavailable)
		}
		return llamacpp.NewLoader(), nil
	default:
		return nil, Failed(fmt.Errorf("unknown backend %q", cfg.Backend.Kind))
	}
}

// OpenModel resolves the model and loads it into the configured backend.
// The caller closes the returned adapter.
func OpenModel(ctx context.Context, cfg config.Config, diag io.Writer, log *slog.Logger) (*generate.Adapter, error) {
	spec, err := ResolveModel(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	loader, err := NewLoader(cfg, diag, log)
	if err != nil {
		return nil, err
	}

	genCfg := generate.NewConfig(cfg.Generation.ContextLength, cfg.Generation.Threads, cfg.Generation.GPULayers)

	adapter, err := generate.Load(ctx, loader, spec.LocalPath, genCfg)
	if err != nil {
		return nil, Failed(err)
	}

	log.InfoContext(ctx, "model loaded",
		"backend", cfg.Backend.Kind,
		"context_length", genCfg.ContextLength,
		"threads", genCfg.Threads,
		"gpu_layers", genCfg.GPULayers,
	)

	return adapter, nil
}
