package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencopilot/copilot/internal/cache"
	"github.com/opencopilot/copilot/internal/metrics"
)

// CachedSearcher memoizes search results for a fixed TTL.
type CachedSearcher struct {
	next  Searcher
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedSearcher wraps next. A non-positive ttl returns next unchanged.
func NewCachedSearcher(next Searcher, c cache.Cache, ttl time.Duration) Searcher {
	if ttl <= 0 || c == nil {
		return next
	}
	return &CachedSearcher{next: next, cache: c, ttl: ttl}
}

type cachedHit struct {
	Content  string                     `json:"c"`
	Metadata map[string]json.RawMessage `json:"m,omitempty"`
	Score    float64                    `json:"s"`
	BotID    string                     `json:"b"`
}

func (s *CachedSearcher) SearchSimilar(ctx context.Context, index Index, query string, k int, threshold float64, f Filter) ([]Hit, error) {
	key := cacheKey(index, query, k, threshold, f)
	if b, ok := s.cache.Get(ctx, key); ok {
		var cached []cachedHit
		if err := json.Unmarshal(b, &cached); err == nil {
			metrics.RecordCacheLookup(true)
			hits := make([]Hit, len(cached))
			for i, c := range cached {
				hits[i] = Hit(c)
			}
			return hits, nil
		}
	}
	metrics.RecordCacheLookup(false)

	hits, err := s.next.SearchSimilar(ctx, index, query, k, threshold, f)
	if err != nil {
		return nil, err
	}
	cached := make([]cachedHit, len(hits))
	for i, h := range hits {
		cached[i] = cachedHit(h)
	}
	if b, err := json.Marshal(cached); err == nil {
		s.cache.Set(ctx, key, b, s.ttl)
	}
	return hits, nil
}

func cacheKey(index Index, query string, k int, threshold float64, f Filter) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("retrieval:%s:%s:%d:%g:%s", index, f.BotID, k, threshold, hex.EncodeToString(sum[:12]))
}
