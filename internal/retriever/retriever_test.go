package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencopilot/copilot/internal/cache"
)

type searchCall struct {
	index     Index
	query     string
	k         int
	threshold float64
	botID     string
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls []searchCall
	hits  map[Index][]Hit
	errs  map[Index]error
}

func (f *fakeSearcher) SearchSimilar(_ context.Context, index Index, query string, k int, threshold float64, flt Filter) ([]Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, searchCall{index, query, k, threshold, flt.BotID})
	if err := f.errs[index]; err != nil {
		return nil, err
	}
	return f.hits[index], nil
}

func (f *fakeSearcher) callFor(index Index) (searchCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.index == index {
			return c, true
		}
	}
	return searchCall{}, false
}

func op(id string) map[string]json.RawMessage {
	return map[string]json.RawMessage{"operation": json.RawMessage(`{"operation_id":"` + id + `"}`)}
}

func newTestRetriever(s Searcher) *Retriever {
	return New(s, DefaultConfig(), zerolog.Nop())
}

func TestKnowledgeBaseJoinsPassages(t *testing.T) {
	s := &fakeSearcher{hits: map[Index][]Hit{
		IndexKnowledgeBase: {
			{Content: "first", BotID: "b1", Score: 0.9},
			{Content: "second", BotID: "b1", Score: 0.7},
		},
	}}
	got := newTestRetriever(s).KnowledgeBase(context.Background(), "q", "b1")
	assert.Equal(t, "first\n\nsecond", got)

	call, ok := s.callFor(IndexKnowledgeBase)
	require.True(t, ok)
	assert.Equal(t, searchCall{IndexKnowledgeBase, "q", 3, 0.65, "b1"}, call)
}

func TestKnowledgeBaseAbsent(t *testing.T) {
	r := newTestRetriever(&fakeSearcher{})
	assert.Equal(t, "", r.KnowledgeBase(context.Background(), "q", "b1"))
}

func TestDefaultsPerIndex(t *testing.T) {
	s := &fakeSearcher{}
	r := newTestRetriever(s)
	r.Retrieve(context.Background(), "q", "b1")

	flows, _ := s.callFor(IndexFlows)
	apis, _ := s.callFor(IndexAPIs)
	assert.Equal(t, 3, flows.k)
	assert.Equal(t, 0.80, flows.threshold)
	assert.Equal(t, 5, apis.k)
	assert.Equal(t, 0.75, apis.threshold)
}

func TestTenantIsolation(t *testing.T) {
	s := &fakeSearcher{hits: map[Index][]Hit{
		IndexAPIs: {
			{BotID: "b1", Score: 0.9, Metadata: op("mine")},
			{BotID: "b2", Score: 0.95, Metadata: op("theirs")},
			{BotID: "", Score: 0.95, Metadata: op("unowned")},
		},
		IndexKnowledgeBase: {{BotID: "b2", Content: "secret", Score: 0.99}},
	}}
	r := newTestRetriever(s)

	apis := r.APISummaries(context.Background(), "q", "b1")
	require.Len(t, apis, 1)
	assert.JSONEq(t, `{"operation_id":"mine"}`, string(apis[0]))
	assert.Equal(t, "", r.KnowledgeBase(context.Background(), "q", "b1"))
}

func TestThresholdAndLimitEnforced(t *testing.T) {
	s := &fakeSearcher{hits: map[Index][]Hit{
		IndexFlows: {
			{BotID: "b1", Score: 0.95, Metadata: op("f1")},
			{BotID: "b1", Score: 0.50, Metadata: op("low")},
			{BotID: "b1", Score: 0.90, Metadata: op("f2")},
			{BotID: "b1", Score: 0.85, Metadata: op("f3")},
			{BotID: "b1", Score: 0.84, Metadata: op("f4")},
		},
	}}
	flows := newTestRetriever(s).Flows(context.Background(), "q", "b1")
	require.Len(t, flows, 3)
	assert.JSONEq(t, `{"operation_id":"f1"}`, string(flows[0]))
	assert.JSONEq(t, `{"operation_id":"f3"}`, string(flows[2]))
}

func TestHitWithoutOperationSkipped(t *testing.T) {
	s := &fakeSearcher{hits: map[Index][]Hit{
		IndexAPIs: {{BotID: "b1", Score: 0.9}},
	}}
	assert.Empty(t, newTestRetriever(s).APISummaries(context.Background(), "q", "b1"))
}

func TestSearchFailureDegrades(t *testing.T) {
	s := &fakeSearcher{
		errs: map[Index]error{
			IndexKnowledgeBase: errors.New("down"),
			IndexFlows:         errors.New("down"),
		},
		hits: map[Index][]Hit{IndexAPIs: {{BotID: "b1", Score: 1, Metadata: op("a")}}},
	}
	ev := newTestRetriever(s).Retrieve(context.Background(), "q", "b1")
	assert.Equal(t, "", ev.Context)
	assert.Empty(t, ev.Flows)
	assert.Len(t, ev.APISummaries, 1)
}

func TestNilSearcher(t *testing.T) {
	ev := newTestRetriever(nil).Retrieve(context.Background(), "q", "b1")
	assert.Equal(t, Evidence{}, ev)
}

func TestCachedSearcher(t *testing.T) {
	s := &fakeSearcher{hits: map[Index][]Hit{
		IndexAPIs: {{BotID: "b1", Score: 0.9, Content: "x", Metadata: op("a")}},
	}}
	c := cache.NewMemoryCache(0)
	cs := NewCachedSearcher(s, c, time.Minute)
	ctx := context.Background()

	first, err := cs.SearchSimilar(ctx, IndexAPIs, "q", 5, 0.75, Filter{BotID: "b1"})
	require.NoError(t, err)
	second, err := cs.SearchSimilar(ctx, IndexAPIs, "q", 5, 0.75, Filter{BotID: "b1"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, s.calls, 1, "second lookup served from cache")

	_, err = cs.SearchSimilar(ctx, IndexAPIs, "q", 5, 0.75, Filter{BotID: "b2"})
	require.NoError(t, err)
	assert.Len(t, s.calls, 2, "bot id is part of the key")
}

func TestCachedSearcherDoesNotCacheErrors(t *testing.T) {
	s := &fakeSearcher{errs: map[Index]error{IndexAPIs: errors.New("down")}}
	cs := NewCachedSearcher(s, cache.NewMemoryCache(0), time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cs.SearchSimilar(context.Background(), IndexAPIs, "q", 5, 0.75, Filter{BotID: "b1"})
		require.Error(t, err)
	}
	assert.Len(t, s.calls, 2)
}

func TestCachedSearcherDisabled(t *testing.T) {
	s := &fakeSearcher{}
	assert.Same(t, s, NewCachedSearcher(s, cache.NewMemoryCache(0), 0))
}
