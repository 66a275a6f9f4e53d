// Package vectorstore is a Qdrant client for the retrieval indices.
//
// Every point carries a payload of {page_content, metadata}, with the
// owning bot under metadata.bot_id.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opencopilot/copilot/internal/llm"
	"github.com/opencopilot/copilot/internal/retriever"
)

const upsertBatch = 64

type Config struct {
	URL            string
	APIKey         string
	Collections    map[retriever.Index]string
	EmbeddingModel string
	Dimension      int
	Timeout        time.Duration
}

// Document is one record to index.
type Document struct {
	// Key makes the point id deterministic so re-indexing overwrites.
	Key      string
	Content  string
	Metadata map[string]any
}

type Store struct {
	baseURL     string
	apiKey      string
	collections map[retriever.Index]string
	embedder    llm.Embedder
	model       string
	dimension   int
	client      *http.Client
}

var _ retriever.Searcher = (*Store)(nil)

func New(cfg Config, embedder llm.Embedder) *Store {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cols := map[retriever.Index]string{
		retriever.IndexKnowledgeBase: "knowledgebase",
		retriever.IndexFlows:         "swagger",
		retriever.IndexAPIs:          "apis",
	}
	for k, v := range cfg.Collections {
		if v != "" {
			cols[k] = v
		}
	}
	return &Store{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		collections: cols,
		embedder:    embedder,
		model:       cfg.EmbeddingModel,
		dimension:   cfg.Dimension,
		client:      &http.Client{Timeout: timeout},
	}
}

// -- Qdrant wire types --

type payload struct {
	PageContent string                     `json:"page_content"`
	Metadata    map[string]json.RawMessage `json:"metadata"`
}

type scoredPoint struct {
	ID      any     `json:"id"`
	Score   float64 `json:"score"`
	Payload payload `json:"payload"`
}

type matchValue struct {
	Value string `json:"value"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type filter struct {
	Must []fieldCondition `json:"must"`
}

type searchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold float64   `json:"score_threshold"`
	WithPayload    bool      `json:"with_payload"`
	Filter         *filter   `json:"filter,omitempty"`
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload any       `json:"payload"`
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
}

func botFilter(botID string) *filter {
	return &filter{Must: []fieldCondition{{Key: "metadata.bot_id", Match: matchValue{Value: botID}}}}
}

func (s *Store) collection(index retriever.Index) (string, error) {
	c, ok := s.collections[index]
	if !ok {
		return "", fmt.Errorf("vectorstore: unknown index %q", index)
	}
	return c, nil
}

// SearchSimilar embeds query and returns up to k points of f.BotID scoring
// at least threshold, best first.
func (s *Store) SearchSimilar(ctx context.Context, index retriever.Index, query string, k int, threshold float64, f retriever.Filter) ([]retriever.Hit, error) {
	ctx, span := otel.Tracer("copilot/vectorstore").Start(ctx, "vectorstore.search")
	defer span.End()
	span.SetAttributes(attribute.String("vectorstore.index", string(index)), attribute.Int("vectorstore.k", k))

	hits, err := s.search(ctx, index, query, k, threshold, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return hits, err
}

func (s *Store) search(ctx context.Context, index retriever.Index, query string, k int, threshold float64, f retriever.Filter) ([]retriever.Hit, error) {
	if f.BotID == "" {
		return nil, errors.New("vectorstore: refusing to search without a bot id")
	}
	col, err := s.collection(index)
	if err != nil {
		return nil, err
	}
	vecs, err := s.embedder.Embed(ctx, s.model, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, errors.New("embed query: no vector returned")
	}

	req := searchRequest{
		Vector:         vecs[0],
		Limit:          k,
		ScoreThreshold: threshold,
		WithPayload:    true,
		Filter:         botFilter(f.BotID),
	}

	var points []scoredPoint
	if err := s.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(col)+"/points/search", req, &points); err != nil {
		return nil, err
	}

	hits := make([]retriever.Hit, 0, len(points))
	for _, p := range points {
		h := retriever.Hit{
			Content:  p.Payload.PageContent,
			Metadata: p.Payload.Metadata,
			Score:    p.Score,
		}
		if raw, ok := p.Payload.Metadata["bot_id"]; ok {
			_ = json.Unmarshal(raw, &h.BotID)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Upsert embeds and stores docs, in batches.
func (s *Store) Upsert(ctx context.Context, index retriever.Index, docs []Document) error {
	col, err := s.collection(index)
	if err != nil {
		return err
	}
	for start := 0; start < len(docs); start += upsertBatch {
		end := min(start+upsertBatch, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vecs, err := s.embedder.Embed(ctx, s.model, texts)
		if err != nil {
			return fmt.Errorf("embed documents: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(batch))
		}

		points := make([]point, len(batch))
		for i, d := range batch {
			points[i] = point{
				ID:     pointID(col, d.Key),
				Vector: vecs[i],
				Payload: map[string]any{
					"page_content": d.Content,
					"metadata":     d.Metadata,
				},
			}
		}
		body := map[string]any{"points": points}
		if err := s.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(col)+"/points?wait=true", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByBot removes every point owned by botID from index.
func (s *Store) DeleteByBot(ctx context.Context, index retriever.Index, botID string) error {
	if botID == "" {
		return errors.New("vectorstore: refusing to delete without a bot id")
	}
	col, err := s.collection(index)
	if err != nil {
		return err
	}
	body := map[string]any{"filter": botFilter(botID)}
	return s.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(col)+"/points/delete?wait=true", body, nil)
}

// EnsureCollections creates missing collections with cosine distance.
func (s *Store) EnsureCollections(ctx context.Context) error {
	if s.dimension <= 0 {
		return errors.New("vectorstore: embedding dimension must be set")
	}
	for _, col := range s.collections {
		path := "/collections/" + url.PathEscape(col)
		err := s.do(ctx, http.MethodGet, path, nil, nil)
		if err == nil {
			continue
		}
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
			return err
		}
		body := map[string]any{
			"vectors": map[string]any{"size": s.dimension, "distance": "Cosine"},
		}
		if err := s.do(ctx, http.MethodPut, path, body, nil); err != nil {
			return fmt.Errorf("create collection %s: %w", col, err)
		}
		index := map[string]any{"field_name": "metadata.bot_id", "field_schema": "keyword"}
		if err := s.do(ctx, http.MethodPut, path+"/index?wait=true", index, nil); err != nil {
			return fmt.Errorf("index collection %s: %w", col, err)
		}
	}
	return nil
}

// StatusError is a non-2xx answer from Qdrant.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant error (status %d): %s", e.StatusCode, e.Body)
}

func (s *Store) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

func pointID(collection, key string) string {
	if key == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+key)).String()
}
