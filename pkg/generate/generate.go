// Package generate wraps a loaded text model behind a fixed, deterministic
// sampling configuration. Model runtimes plug in through [Loader] and
// [Backend]; the runtime is chosen when the binary is built.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/germanamz/danube/pkg/prompt"
)

// Output length bounds for a single call.
const (
	minTokens       = 128
	maxTokensCap    = 2048
	contextHeadroom = 128
)

// Config holds the load and sampling parameters. It is fixed for the process
// lifetime.
type Config struct {
	ContextLength int
	Threads       int
	GPULayers     int
	Seed          int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	Stop          string
}

// NewConfig returns a Config with the given load parameters and the fixed
// deterministic sampling settings.
func NewConfig(contextLength, threads, gpuLayers int) Config {
	return Config{
		ContextLength: contextLength,
		Threads:       threads,
		GPULayers:     gpuLayers,
		Seed:          0,
		Temperature:   0,
		TopP:          0.9,
		RepeatPenalty: 1.05,
		Stop:          prompt.EndOfOutput,
	}
}

// Params are the per-call sampling parameters handed to a Backend.
type Params struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	Seed          int
	Stop          []string
}

// Backend completes prompts with a loaded model. Complete blocks until the
// model stops; implementations must not include the stop marker in the
// returned text.
type Backend interface {
	Complete(ctx context.Context, prompt string, p Params) (string, error)
	Close() error
}

// Loader loads a model file into a Backend.
type Loader interface {
	Load(ctx context.Context, modelPath string, cfg Config) (Backend, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(ctx context.Context, modelPath string, cfg Config) (Backend, error)

// Load calls the underlying function.
func (f LoaderFunc) Load(ctx context.Context, modelPath string, cfg Config) (Backend, error) {
	return f(ctx, modelPath, cfg)
}

// Adapter is the loaded model with its fixed configuration.
type Adapter struct {
	cfg     Config
	backend Backend
}

// Load loads modelPath with loader and returns the Adapter.
func Load(ctx context.Context, loader Loader, modelPath string, cfg Config) (*Adapter, error) {
	if loader == nil {
		return nil, errors.New("generate: loader is required")
	}

	b, err := loader.Load(ctx, modelPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate: load %s: %w", modelPath, err)
	}

	return New(b, cfg), nil
}

// New wraps an already loaded backend.
func New(backend Backend, cfg Config) *Adapter {
	return &Adapter{cfg: cfg, backend: backend}
}

// Config returns the adapter configuration.
func (a *Adapter) Config() Config { return a.cfg }

// Generate completes p. input is the fragment p was built from; it sizes the
// output budget.
func (a *Adapter) Generate(ctx context.Context, p, input string) (string, error) {
	params := Params{
		MaxTokens:     MaxTokens(input, a.cfg.ContextLength),
		Temperature:   a.cfg.Temperature,
		TopP:          a.cfg.TopP,
		RepeatPenalty: a.cfg.RepeatPenalty,
		Seed:          a.cfg.Seed,
		Stop:          []string{a.cfg.Stop},
	}

	out, err := a.backend.Complete(ctx, p, params)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	if a.cfg.Stop != "" {
		if i := strings.Index(out, a.cfg.Stop); i >= 0 {
			out = out[:i]
		}
	}

	return out, nil
}

// Close releases the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

// MaxTokens returns the output budget for input: half its length in
// characters, at least 128, and at most 2048 or the context length minus 128,
// whichever is smaller (never below 128).
func MaxTokens(input string, contextLength int) int {
	estimate := max(minTokens, utf8.RuneCountInString(input)/2)
	ceiling := min(maxTokensCap, max(minTokens, contextLength-contextHeadroom))

	return max(minTokens, min(estimate, ceiling))
}
