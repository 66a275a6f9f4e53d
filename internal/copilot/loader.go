package copilot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencopilot/copilot/internal/swagger"
)

const maxSwaggerBytes = 10 << 20

// Loader reads a bot's swagger document from the storage directory or,
// for https URLs, over the network.
type Loader struct {
	dir    string
	client *http.Client
}

func NewLoader(dir string, client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{dir: dir, client: client}
}

func (l *Loader) Load(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("swagger: no document configured")
	}
	if strings.HasPrefix(ref, "https://") {
		return l.fetch(ctx, ref)
	}
	if !filepath.IsLocal(ref) {
		return nil, fmt.Errorf("swagger: %q is outside the storage directory", ref)
	}
	data, err := os.ReadFile(filepath.Join(l.dir, ref))
	if err != nil {
		return nil, fmt.Errorf("swagger: %w", err)
	}
	return data, nil
}

// Parse loads and parses ref.
func (l *Loader) Parse(ctx context.Context, ref string) (*swagger.Document, error) {
	data, err := l.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return swagger.Parse(data)
}

func (l *Loader) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("swagger: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swagger: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swagger: fetch %s: HTTP %d", u, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSwaggerBytes))
	if err != nil {
		return nil, fmt.Errorf("swagger: read: %w", err)
	}
	return data, nil
}
