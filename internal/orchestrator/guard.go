package orchestrator

import (
	"context"
	"time"

	"github.com/opencopilot/copilot/internal/llm"
)

const (
	DefaultMaxResponseBytes = 64 * 1024 // 64KB
	DefaultTimeout          = 60 * time.Second
)

// Guard bounds a completion call in time and its reply in size.
type Guard struct {
	MaxResponseBytes int
	Timeout          time.Duration
}

func NewGuard() *Guard {
	return &Guard{
		MaxResponseBytes: DefaultMaxResponseBytes,
		Timeout:          DefaultTimeout,
	}
}

// Complete calls c under the guard's timeout. A caller deadline that is
// sooner wins.
func (g *Guard) Complete(ctx context.Context, c llm.Completer, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if g.MaxResponseBytes > 0 && len(resp.Content) > g.MaxResponseBytes {
		cp := *resp
		cp.Content = truncateUTF8(cp.Content, g.MaxResponseBytes)
		return &cp, nil
	}
	return resp, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
