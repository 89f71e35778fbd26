package llamaserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/germanamz/danube/pkg/generate"
	"github.com/germanamz/danube/pkg/generate/llamaserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	helperEnv = "DANUBE_FAKE_LLAMA_SERVER"
	modeEnv   = "DANUBE_FAKE_LLAMA_MODE"
)

// TestMain doubles as a fake llama-server when re-executed by the loader
// tests.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runFakeServer(os.Args[1:]))
	}

	goleak.VerifyTestMain(m)
}

func runFakeServer(args []string) int {
	var host, port, model string
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--host":
			host = args[i+1]
		case "--port":
			port = args[i+1]
		case "-m":
			model = args[i+1]
		}
	}

	mode := os.Getenv(modeEnv)
	if mode == "exit" {
		return 3
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if mode == "loading" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt   string `json:"prompt"`
			NPredict int    `json:"n_predict"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"content": fmt.Sprintf("%s|%s|%d", model, req.Prompt, req.NPredict),
		})
	})

	if err := http.ListenAndServe(net.JoinHostPort(host, port), mux); err != nil { //nolint:gosec // test helper
		return 1
	}

	return 0
}

func helperLoader(t *testing.T, mode string, timeout time.Duration) *llamaserver.Loader {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	return llamaserver.NewLoader(llamaserver.Options{
		Binary:      exe,
		LoadTimeout: timeout,
		Env:         append(os.Environ(), helperEnv+"=1", modeEnv+"="+mode),
	})
}

func TestArgs(t *testing.T) {
	cfg := generate.NewConfig(4096, 3, 12)

	assert.Equal(t, []string{
		"-m", "/models/m.gguf",
		"-c", "4096",
		"-t", "3",
		"-ngl", "12",
		"--seed", "0",
		"--host", "127.0.0.1",
		"--port", "8081",
	}, llamaserver.Args("/models/m.gguf", cfg, "127.0.0.1", 8081))
}

func TestLoader_StartsServerAndCompletes(t *testing.T) {
	l := helperLoader(t, "ok", 30*time.Second)

	b, err := l.Load(context.Background(), "/models/m.gguf", generate.NewConfig(2048, 1, 0))
	require.NoError(t, err)

	out, err := b.Complete(context.Background(), "hi", generate.Params{MaxTokens: 128})
	require.NoError(t, err)
	assert.Equal(t, "/models/m.gguf|hi|128", out)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestLoader_ChildExitsBeforeReady(t *testing.T) {
	l := helperLoader(t, "exit", 30*time.Second)

	_, err := l.Load(context.Background(), "/models/m.gguf", generate.NewConfig(2048, 1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before ready")
}

func TestLoader_LoadTimeout(t *testing.T) {
	l := helperLoader(t, "loading", 500*time.Millisecond)

	_, err := l.Load(context.Background(), "/models/m.gguf", generate.NewConfig(2048, 1, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_MissingBinary(t *testing.T) {
	l := llamaserver.NewLoader(llamaserver.Options{Binary: "/no/such/llama-server", LoadTimeout: time.Second})

	_, err := l.Load(context.Background(), "/models/m.gguf", generate.NewConfig(2048, 1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llamaserver: start")
}

func TestComplete_Payload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/completion":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"content":"fixed text","stop":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := llamaserver.Connect(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	out, err := s.Complete(context.Background(), "the prompt", generate.Params{
		MaxTokens:     300,
		TopP:          0.9,
		RepeatPenalty: 1.05,
		Stop:          []string{"<<<ENDOUT>>>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed text", out)

	assert.Equal(t, "the prompt", got["prompt"])
	assert.InDelta(t, 300, got["n_predict"], 0)
	assert.InDelta(t, 0, got["temperature"], 0)
	assert.InDelta(t, 0.9, got["top_p"], 1e-9)
	assert.InDelta(t, 1.05, got["repeat_penalty"], 1e-9)
	assert.InDelta(t, 0, got["seed"], 0)
	assert.Equal(t, []any{"<<<ENDOUT>>>"}, got["stop"])
	assert.Equal(t, false, got["cache_prompt"])
}

func TestComplete_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "context overflow", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := llamaserver.Connect(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Complete(context.Background(), "p", generate.Params{MaxTokens: 128})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Contains(t, err.Error(), "context overflow")
}

func TestConnect_NeverHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := llamaserver.Connect(ctx, srv.URL, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
