package main

import (
	"context"
	"fmt"

	"github.com/opencopilot/copilot/internal/cache"
	"github.com/opencopilot/copilot/internal/chat"
	"github.com/opencopilot/copilot/internal/config"
	"github.com/opencopilot/copilot/internal/copilot"
	"github.com/opencopilot/copilot/internal/executor"
	"github.com/opencopilot/copilot/internal/failover"
	"github.com/opencopilot/copilot/internal/llm"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/orchestrator"
	"github.com/opencopilot/copilot/internal/prompts"
	"github.com/opencopilot/copilot/internal/retriever"
	"github.com/opencopilot/copilot/internal/state/store"
	"github.com/opencopilot/copilot/internal/synth"
	"github.com/opencopilot/copilot/internal/vectorstore"
)

// app holds the wired services of one process.
type app struct {
	cfg      *config.Config
	db       *store.DB
	cache    cache.Cache
	vectors  *vectorstore.Store
	copilots *copilot.Service
	writer   *chat.HistoryWriter
	chat     *chat.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := store.Open(ctx, store.Config{
		Driver:  cfg.Database.Driver,
		DSN:     cfg.Database.DSN,
		DataDir: cfg.Database.DataDir,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	bots := store.NewBotStore(a.db)
	history := store.NewHistoryStore(a.db)

	reg, err := llm.NewRegistryFromConfig(cfg.ProviderConfigs())
	if err != nil {
		return fmt.Errorf("llm providers: %w", err)
	}
	primary, err := llm.ParseModelRef(cfg.LLM.Primary)
	if err != nil {
		return err
	}
	fallbacks, err := llm.ParseModelRefs(cfg.LLM.Fallbacks)
	if err != nil {
		return err
	}
	completer := failover.NewController(reg, primary, fallbacks,
		failover.WithRetry(cfg.LLM.Retry.Attempts, cfg.LLM.Retry.Backoff))

	embRef, err := llm.ParseModelRef(cfg.LLM.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("embedding model: %w", err)
	}
	embedder, err := reg.EmbedderFor(embRef)
	if err != nil {
		return fmt.Errorf("embedding model: %w", err)
	}
	a.vectors = vectorstore.New(vectorstore.Config{
		URL:            cfg.VectorStore.URL,
		APIKey:         cfg.VectorStore.APIKey,
		Collections:    cfg.Collections(),
		EmbeddingModel: embRef.Model(),
		Dimension:      cfg.VectorStore.Dimension,
		Timeout:        cfg.VectorStore.Timeout,
	}, embedder)

	var searcher retriever.Searcher = a.vectors
	if cfg.Retrieval.CacheTTL > 0 {
		a.cache = cache.New(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, xlog.WithComponent("cache"))
		searcher = retriever.NewCachedSearcher(searcher, a.cache, cfg.Retrieval.CacheTTL)
	}
	ret := retriever.New(searcher, cfg.RetrieverConfig(), xlog.WithComponent("retriever"))

	overrides := prompts.FromConfig(cfg.Prompts.Bots, cfg.Prompts.Apps)
	guard := orchestrator.NewGuard()
	orch := orchestrator.New(completer, overrides,
		orchestrator.WithGuard(guard),
		orchestrator.WithLogger(xlog.WithComponent("orchestrator")))
	exec := executor.New(synth.NewDefault(completer, overrides, synth.WithGuard(guard)),
		executor.WithLogger(xlog.WithComponent("executor")))

	a.copilots = copilot.NewDefault(bots, a.vectors, copilot.NewLoader(cfg.Storage.SwaggerDir, nil))
	a.writer = chat.NewHistoryWriter(history, cfg.Chat.HistoryBuffer, xlog.WithComponent("chat_history"))
	a.chat = chat.New(bots, history, a.writer, ret, orch,
		chat.WithExecutor(exec, a.copilots),
		chat.WithConfig(chat.Config{
			MaxContentLength: cfg.Chat.MaxContentLength,
			HistoryLimit:     cfg.Chat.HistoryLimit,
		}))
	return nil
}

// Close drains pending history writes before closing storage.
func (a *app) Close() {
	if a.writer != nil {
		a.writer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
