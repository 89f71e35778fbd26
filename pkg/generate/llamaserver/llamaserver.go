// Package llamaserver runs generation through a llama.cpp llama-server child
// process. The server binds to a free loopback port and is driven over its
// native HTTP API (/health and /completion).
package llamaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/germanamz/danube/pkg/generate"
)

const (
	pollInterval = 200 * time.Millisecond
	stopTimeout  = 5 * time.Second
)

var _ generate.Loader = (*Loader)(nil)
var _ generate.Backend = (*Server)(nil)

// Options configures a Loader.
type Options struct {
	Binary      string        // Executable name or path.
	LoadTimeout time.Duration // Upper bound for the server to report healthy.
	Output      io.Writer     // Receives the child's stdout and stderr; nil discards.
	Env         []string      // Child environment; nil inherits the current one.
	Log         *slog.Logger
}

// Loader starts one llama-server per Load call.
type Loader struct {
	opts Options
}

// NewLoader returns a Loader for opts.
func NewLoader(opts Options) *Loader {
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}

	if opts.Output == nil {
		opts.Output = io.Discard
	}

	return &Loader{opts: opts}
}

// Args returns the llama-server command line for modelPath listening on
// host:port.
func Args(modelPath string, cfg generate.Config, host string, port int) []string {
	return []string{
		"-m", modelPath,
		"-c", strconv.Itoa(cfg.ContextLength),
		"-t", strconv.Itoa(cfg.Threads),
		"-ngl", strconv.Itoa(cfg.GPULayers),
		"--seed", strconv.Itoa(cfg.Seed),
		"--host", host,
		"--port", strconv.Itoa(port),
	}
}

// Load starts the server for modelPath and blocks until it reports healthy,
// the load timeout expires, ctx is cancelled or the child exits.
func (l *Loader) Load(ctx context.Context, modelPath string, cfg generate.Config) (generate.Backend, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("llamaserver: pick port: %w", err)
	}

	const host = "127.0.0.1"

	// The child outlives the load context; Close owns its lifetime.
	cmd := exec.Command(l.opts.Binary, Args(modelPath, cfg, host, port)...) //nolint:gosec // binary comes from worker configuration
	cmd.Stdout = l.opts.Output
	cmd.Stderr = l.opts.Output
	cmd.Env = l.opts.Env

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("llamaserver: start %s: %w", l.opts.Binary, err)
	}

	l.opts.Log.Info("llama-server started", "pid", cmd.Process.Pid, "port", port, "model", modelPath)

	s := newServer("http://"+net.JoinHostPort(host, strconv.Itoa(port)), nil)
	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	loadCtx := ctx
	if l.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, l.opts.LoadTimeout)
		defer cancel()
	}

	if err := s.waitReady(loadCtx); err != nil {
		_ = s.Close()
		return nil, err
	}

	l.opts.Log.Info("llama-server ready", "pid", cmd.Process.Pid)

	return s, nil
}

// Server is a running (or externally managed) llama-server.
type Server struct {
	baseURL string
	client  *http.Client

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Connect attaches to a llama-server already listening at baseURL and waits
// for it to report healthy. A nil client uses a private transport.
func Connect(ctx context.Context, baseURL string, client *http.Client) (*Server, error) {
	s := newServer(baseURL, client)
	if err := s.waitReady(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func newServer(baseURL string, client *http.Client) *Server {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}

	return &Server{baseURL: baseURL, client: client}
}

// waitReady polls /health until it answers 200.
func (s *Server) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if s.healthy(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llamaserver: wait for health: %w", ctx.Err())
		case <-s.exitedCh():
			return fmt.Errorf("llamaserver: server exited before ready: %w", exitError(s.waitErr))
		case <-ticker.C:
		}
	}
}

func (s *Server) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// exitedCh returns a channel closed when the child exits; nil for servers
// not owned by this process, which blocks forever in a select.
func (s *Server) exitedCh() <-chan struct{} {
	return s.exited
}

func exitError(err error) error {
	if err == nil {
		return errors.New("exit status 0")
	}

	return err
}

type completionRequest struct {
	Prompt        string   `json:"prompt"`
	NPredict      int      `json:"n_predict"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Seed          int      `json:"seed"`
	Stop          []string `json:"stop"`
	CachePrompt   bool     `json:"cache_prompt"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Complete runs one completion.
func (s *Server) Complete(ctx context.Context, prompt string, p generate.Params) (string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:        prompt,
		NPredict:      p.MaxTokens,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		RepeatPenalty: p.RepeatPenalty,
		Seed:          p.Seed,
		Stop:          p.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("llamaserver: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llamaserver: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req) //nolint:gosec // loopback URL built by this package
	if err != nil {
		return "", fmt.Errorf("llamaserver: completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llamaserver: completion: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llamaserver: decode response: %w", err)
	}

	return out.Content, nil
}

// Close stops the child (interrupt, then kill after a grace period) and
// releases idle connections. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		defer s.client.CloseIdleConnections()

		if s.cmd == nil {
			return
		}

		select {
		case <-s.exited:
			return
		default:
		}

		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = s.cmd.Process.Kill()
		}

		select {
		case <-s.exited:
		case <-time.After(stopTimeout):
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.closeErr = fmt.Errorf("llamaserver: kill: %w", err)
			}
			<-s.exited
		}
	})

	return s.closeErr
}

// freePort asks the kernel for an unused loopback port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()

	return ln.Addr().(*net.TCPAddr).Port, nil
}
