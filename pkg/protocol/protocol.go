// Package protocol implements the worker's stdio protocol: a single
// {"ready":true} line, then one JSON response line for every non-blank JSON
// request line, in order. Per-request failures never end the loop; they are
// logged and answered with an empty text.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Request is one input line.
type Request struct {
	Text string `json:"text"`
}

// Response is one output line.
type Response struct {
	Text string `json:"text"`
}

// Ready is the readiness line written before any request is read.
type Ready struct {
	Ready bool `json:"ready"`
}

// Server answers requests read from an input stream.
type Server struct {
	corrector Corrector
	log       *slog.Logger
	stats     Stats
}

// NewServer returns a Server that answers with c. A nil logger discards
// output.
func NewServer(c Corrector, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Server{corrector: c, log: log}
}

// Serve writes the ready line to out, then answers every request line read
// from in until end of input (nil), ctx cancellation (ctx.Err()) or a read
// or write failure. Lines have no length limit. On cancellation Serve returns
// without waiting for a blocked read.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Ready{Ready: true}); err != nil {
		return fmt.Errorf("protocol: write ready: %w", err)
	}

	done := make(chan struct{})
	defer close(done)

	lines := readLines(in, done)

	for n := 1; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rl readLine
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rl = <-lines:
		}

		if rl.err != nil && !errors.Is(rl.err, io.EOF) {
			return fmt.Errorf("protocol: read request: %w", rl.err)
		}

		if strings.TrimSpace(rl.line) != "" {
			resp := s.handle(ctx, n, rl.line)
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("protocol: write response: %w", err)
			}
			n++
		}

		if rl.err != nil {
			t := s.stats.Totals()
			s.log.InfoContext(ctx, "input closed",
				"requests", t.Requests,
				"corrected", t.Corrected,
				"empty", t.Empty,
				"failed", t.Failed,
			)
			return nil
		}
	}
}

type readLine struct {
	line string
	err  error
}

// readLines feeds lines from in until a read error (including io.EOF, which
// is delivered with the final partial line) or until done is closed.
func readLines(in io.Reader, done <-chan struct{}) <-chan readLine {
	ch := make(chan readLine)

	go func() {
		r := bufio.NewReader(in)
		for {
			line, err := r.ReadString('\n')

			select {
			case ch <- readLine{line: line, err: err}:
			case <-done:
				return
			}

			if err != nil {
				return
			}
		}
	}()

	return ch
}

// Stats returns the counters of requests answered so far.
func (s *Server) Stats() Totals {
	return s.stats.Totals()
}

// handle answers one request line, recovering from any failure inside
// correction.
func (s *Server) handle(ctx context.Context, n int, line string) (resp Response) {
	start := time.Now()
	inChars := 0

	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "request panicked", "request", n, "panic", fmt.Sprint(r))
			s.stats.Add(Failed, inChars, 0)
			resp = Response{}
		}
	}()

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.log.ErrorContext(ctx, "malformed request", "request", n, "error", err)
		s.stats.Add(Failed, 0, 0)
		return Response{}
	}

	if req.Text == "" {
		s.stats.Add(Empty, 0, 0)
		return Response{}
	}

	inChars = utf8.RuneCountInString(req.Text)

	text, err := s.corrector.Correct(ctx, req.Text)
	if err != nil {
		s.log.ErrorContext(ctx, "request failed",
			"request", n,
			"duration", time.Since(start),
			"error", err,
		)
		s.stats.Add(Failed, inChars, 0)
		return Response{}
	}

	outChars := utf8.RuneCountInString(text)
	outcome := Corrected
	if text == "" {
		outcome = Empty
	}
	s.stats.Add(outcome, inChars, outChars)

	s.log.InfoContext(ctx, "request corrected",
		"request", n,
		"in_chars", inChars,
		"out_chars", outChars,
		"duration", time.Since(start),
	)

	return Response{Text: text}
}
