// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatRequests counts chat turns by outcome status code.
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_chat_requests_total",
		Help: "Chat turns handled, labelled by HTTP status returned",
	}, []string{"status"})

	// StepDuration observes the latency of one orchestration step.
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "copilot_step_duration_seconds",
		Help:    "Latency of a single conversation step",
		Buckets: prometheus.DefBuckets,
	})

	// StepDecisions counts orchestration outcomes by kind.
	StepDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_step_decisions_total",
		Help: "Conversation step outcomes (structured, unstructured, error)",
	}, []string{"kind"})

	// RetrievalHits counts documents returned per index.
	RetrievalHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_retrieval_hits_total",
		Help: "Documents returned from similarity search by index",
	}, []string{"index"})

	// RetrievalErrors counts best-effort searches that failed.
	RetrievalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_retrieval_errors_total",
		Help: "Similarity searches that failed and were treated as empty",
	}, []string{"index"})

	// CacheLookups counts retrieval cache lookups by result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_retrieval_cache_lookups_total",
		Help: "Retrieval cache lookups (hit, miss)",
	}, []string{"result"})

	// CompletionDuration observes LLM completion latency per model.
	CompletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copilot_llm_completion_duration_seconds",
		Help:    "Latency of LLM completion calls",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"model", "outcome"})

	// CompletionFallbacks counts switches from a model to its successor.
	CompletionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_llm_fallbacks_total",
		Help: "Completions that moved on to a fallback model",
	}, []string{"from"})

	// ExecutorCalls counts upstream API calls by method and outcome.
	ExecutorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_executor_calls_total",
		Help: "Upstream API calls made for a chosen operation",
	}, []string{"method", "outcome"})

	// ReindexRuns counts reindex passes by outcome.
	ReindexRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_reindex_runs_total",
		Help: "Reindex passes over all copilots",
	}, []string{"outcome"})

	// ReindexedBots counts copilots whose swagger was reindexed.
	ReindexedBots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "copilot_reindexed_bots_total",
		Help: "Copilots reindexed into the api index",
	})
)

// RecordChat increments the chat counter for status.
func RecordChat(status int) {
	ChatRequests.WithLabelValues(statusLabel(status)).Inc()
}

// ObserveCompletion records the duration of one completion attempt.
func ObserveCompletion(model string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CompletionDuration.WithLabelValues(model, outcome).Observe(d.Seconds())
}

// RecordCacheLookup increments the cache counter.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		if status == 404 {
			return "404"
		}
		return "4xx"
	default:
		return "2xx"
	}
}
