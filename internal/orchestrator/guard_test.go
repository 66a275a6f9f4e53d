package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencopilot/copilot/internal/llm"
)

type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixedLLM string

func (f fixedLLM) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: string(f)}, nil
}

func TestGuardTimeout(t *testing.T) {
	g := &Guard{Timeout: 20 * time.Millisecond}
	start := time.Now()
	_, err := g.Complete(context.Background(), blockingLLM{}, &llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGuardTruncatesLongReplies(t *testing.T) {
	g := &Guard{MaxResponseBytes: 5}
	resp, err := g.Complete(context.Background(), fixedLLM("héllo world"), &llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "héll", resp.Content, "cut on a rune boundary")

	resp, err = g.Complete(context.Background(), fixedLLM("ok"), &llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestStepTimesOut(t *testing.T) {
	o := newTestOrchestrator(blockingLLM{}, nil, WithGuard(&Guard{Timeout: 10 * time.Millisecond}))
	_, err := o.ProcessStep(context.Background(), StepInput{SessionID: "s", Text: "q"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "deadline exceeded"))
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "", truncateUTF8("é", 1))
	assert.Equal(t, "ab", truncateUTF8("abc", 2))
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
}
