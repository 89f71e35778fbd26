//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"sync"

	"github.com/germanamz/danube/pkg/generate"
	llama "github.com/go-skynet/go-llama.cpp"
)

// Available reports whether the in-process runtime is compiled in.
const Available = true

var _ generate.Loader = (*Loader)(nil)

// Load reads modelPath into memory.
func (l *Loader) Load(_ context.Context, modelPath string, cfg generate.Config) (generate.Backend, error) {
	if modelPath == "" {
		return nil, errors.New("llamacpp: model path is empty")
	}

	opts := []llama.ModelOption{
		llama.SetContext(cfg.ContextLength),
	}
	if cfg.GPULayers > 0 {
		opts = append(opts, llama.SetGPULayers(cfg.GPULayers))
	}

	m, err := llama.New(modelPath, opts...)
	if err != nil {
		return nil, err
	}

	return &model{llm: m, threads: cfg.Threads}, nil
}

// model is a loaded runtime. Predict is not reentrant, so calls are
// serialized.
type model struct {
	mu      sync.Mutex
	llm     *llama.LLama
	threads int
}

func (m *model) Complete(ctx context.Context, prompt string, p generate.Params) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.llm == nil {
		return "", errors.New("llamacpp: model closed")
	}

	// Stop early once the caller gives up.
	m.llm.SetTokenCallback(func(string) bool {
		return ctx.Err() == nil
	})
	defer m.llm.SetTokenCallback(nil)

	opts := []llama.PredictOption{
		llama.SetTokens(p.MaxTokens),
		llama.SetThreads(max(1, m.threads)),
		llama.SetTemperature(float32(p.Temperature)),
		llama.SetTopP(float32(p.TopP)),
		llama.SetPenalty(float32(p.RepeatPenalty)),
		llama.SetSeed(p.Seed),
	}
	if len(p.Stop) > 0 {
		opts = append(opts, llama.SetStopWords(p.Stop...))
	}

	text, err := m.llm.Predict(prompt, opts...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	if err != nil {
		return "", err
	}

	return text, nil
}

func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.llm != nil {
		m.llm.Free()
		m.llm = nil
	}

	return nil
}
