package protocol_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/germanamz/danube/pkg/prompt"
	"github.com/germanamz/danube/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Correct(t *testing.T) {
	var gotPrompt, gotInput string
	gen := &genFunc{fn: func(p, input string) (string, error) {
		gotPrompt, gotInput = p, input
		return "```\nThe corrected text is as follows:\nPick:\nA. one\nB. two\n```", nil
	}}

	out, err := protocol.NewWorker(gen, nil).Correct(context.Background(), "Pick:A. one B. two")
	require.NoError(t, err)

	assert.Equal(t, "Pick:\n\nA. one\nB. two", out)
	assert.Equal(t, prompt.Build("Pick:A. one B. two"), gotPrompt)
	assert.Equal(t, "Pick:A. one B. two", gotInput)
}

func TestWorker_CorrectLogsDiffAtDebug(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	gen := &genFunc{fn: func(string, string) (string, error) { return "hello world", nil }}
	_, err := protocol.NewWorker(gen, log).Correct(context.Background(), "helloworld")
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "msg=correction")
	assert.Contains(t, logs.String(), "-helloworld")
	assert.Contains(t, logs.String(), "+hello world")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", protocol.Preview("a\n b\t\tc  "))

	long := protocol.Preview(strings.Repeat("x", 200))
	assert.LessOrEqual(t, len([]rune(long)), 60)
	assert.True(t, strings.HasSuffix(long, "…"))

	// Wide characters count double.
	wide := protocol.Preview(strings.Repeat("漢", 100))
	assert.LessOrEqual(t, len([]rune(wide)), 30)
}
