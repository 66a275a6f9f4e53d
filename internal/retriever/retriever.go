// Package retriever finds knowledge-base passages, flows and API
// operation summaries relevant to a user message, scoped to one bot.
package retriever

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/metrics"
)

// Index names a similarity-search index.
type Index string

const (
	IndexKnowledgeBase Index = "knowledgebase"
	IndexFlows         Index = "flows"
	IndexAPIs          Index = "apis"
)

// Filter restricts a search to one bot's records.
type Filter struct {
	BotID string
}

// Hit is one search result.
type Hit struct {
	Content  string
	Metadata map[string]json.RawMessage
	Score    float64
	BotID    string
}

// Searcher runs a nearest-neighbour query against one index.
type Searcher interface {
	SearchSimilar(ctx context.Context, index Index, query string, k int, threshold float64, f Filter) ([]Hit, error)
}

// Settings bounds one index query.
type Settings struct {
	K         int     `yaml:"k"`
	Threshold float64 `yaml:"threshold"`
}

type Config struct {
	KnowledgeBase Settings `yaml:"knowledgebase"`
	Flows         Settings `yaml:"flows"`
	APIs          Settings `yaml:"apis"`
}

func DefaultConfig() Config {
	return Config{
		KnowledgeBase: Settings{K: 3, Threshold: 0.65},
		Flows:         Settings{K: 3, Threshold: 0.80},
		APIs:          Settings{K: 5, Threshold: 0.75},
	}
}

// Evidence is everything retrieved for one turn. Empty fields mean
// nothing relevant was found.
type Evidence struct {
	Context      string
	APISummaries []json.RawMessage
	Flows        []json.RawMessage
}

type Retriever struct {
	searcher Searcher
	cfg      Config
	logger   zerolog.Logger
}

func New(searcher Searcher, cfg Config, logger zerolog.Logger) *Retriever {
	return &Retriever{searcher: searcher, cfg: cfg, logger: logger}
}

// NewDefault uses the default settings and the retriever component logger.
func NewDefault(searcher Searcher) *Retriever {
	return New(searcher, DefaultConfig(), xlog.WithComponent("retriever"))
}

// KnowledgeBase returns matching passages joined by a blank line, or ""
// when nothing matched or the search failed.
func (r *Retriever) KnowledgeBase(ctx context.Context, text, botID string) string {
	hits := r.search(ctx, IndexKnowledgeBase, r.cfg.KnowledgeBase, text, botID)
	if len(hits) == 0 {
		return ""
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Content
	}
	return strings.Join(parts, "\n\n")
}

// Flows returns the stored flow payload of each hit, most similar first.
func (r *Retriever) Flows(ctx context.Context, text, botID string) []json.RawMessage {
	return operations(r.search(ctx, IndexFlows, r.cfg.Flows, text, botID))
}

// APISummaries returns the stored operation descriptor of each hit, most
// similar first.
func (r *Retriever) APISummaries(ctx context.Context, text, botID string) []json.RawMessage {
	return operations(r.search(ctx, IndexAPIs, r.cfg.APIs, text, botID))
}

// Retrieve queries all three indices concurrently.
func (r *Retriever) Retrieve(ctx context.Context, text, botID string) Evidence {
	ctx, span := otel.Tracer("copilot/retriever").Start(ctx, "retriever.retrieve")
	defer span.End()

	var ev Evidence
	var g errgroup.Group
	g.Go(func() error {
		ev.Context = r.KnowledgeBase(ctx, text, botID)
		return nil
	})
	g.Go(func() error {
		ev.Flows = r.Flows(ctx, text, botID)
		return nil
	})
	g.Go(func() error {
		ev.APISummaries = r.APISummaries(ctx, text, botID)
		return nil
	})
	_ = g.Wait()

	span.SetAttributes(
		attribute.Bool("retriever.context", ev.Context != ""),
		attribute.Int("retriever.flows", len(ev.Flows)),
		attribute.Int("retriever.apis", len(ev.APISummaries)),
	)
	return ev
}

// search never fails: errors degrade to no hits. Hits belonging to
// another bot are dropped even if the backend returned them.
func (r *Retriever) search(ctx context.Context, index Index, s Settings, text, botID string) []Hit {
	if r.searcher == nil || s.K <= 0 {
		return nil
	}
	hits, err := r.searcher.SearchSimilar(ctx, index, text, s.K, s.Threshold, Filter{BotID: botID})
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues(string(index)).Inc()
		r.logger.Warn().Err(err).
			Str(xlog.FieldIndex, string(index)).
			Str(xlog.FieldBotID, botID).
			Msg("similarity search failed")
		return nil
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.BotID != botID || h.Score < s.Threshold {
			continue
		}
		out = append(out, h)
		if len(out) == s.K {
			break
		}
	}
	metrics.RetrievalHits.WithLabelValues(string(index)).Add(float64(len(out)))
	return out
}

func operations(hits []Hit) []json.RawMessage {
	var out []json.RawMessage
	for _, h := range hits {
		if op, ok := h.Metadata["operation"]; ok && len(op) > 0 {
			out = append(out, op)
		}
	}
	return out
}
