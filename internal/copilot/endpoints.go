package copilot

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/opencopilot/copilot/internal/swagger"
)

// endpointCache holds the parsed operations of each bot's swagger. An
// entry is valid only for the swagger URL it was loaded from.
type endpointCache struct {
	mu      sync.RWMutex
	entries map[string]endpointEntry
	sf      singleflight.Group
}

type endpointEntry struct {
	url       string
	endpoints []swagger.Endpoint
}

func newEndpointCache() *endpointCache {
	return &endpointCache{entries: make(map[string]endpointEntry)}
}

func (c *endpointCache) get(botID, url string) ([]swagger.Endpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[botID]
	if !ok || e.url != url {
		return nil, false
	}
	return e.endpoints, true
}

func (c *endpointCache) put(botID, url string, eps []swagger.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[botID] = endpointEntry{url: url, endpoints: eps}
}

func (c *endpointCache) forget(botID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, botID)
}

// load returns the cached operations or parses the swagger once for all
// concurrent callers.
func (c *endpointCache) load(ctx context.Context, botID, url string, parse func(context.Context) ([]swagger.Endpoint, error)) ([]swagger.Endpoint, error) {
	if eps, ok := c.get(botID, url); ok {
		return eps, nil
	}
	v, err, _ := c.sf.Do(botID+"\x00"+url, func() (any, error) {
		eps, err := parse(ctx)
		if err != nil {
			return nil, err
		}
		c.put(botID, url, eps)
		return eps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]swagger.Endpoint), nil
}
