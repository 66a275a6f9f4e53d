// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/opencopilot/copilot/internal/llm"
	"github.com/opencopilot/copilot/internal/prompts"
	"github.com/opencopilot/copilot/internal/retriever"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vectorstore"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Redis       RedisConfig       `yaml:"redis"`
	Chat        ChatConfig        `yaml:"chat"`
	Prompts     PromptsConfig     `yaml:"prompts"`
	Reindex     ReindexConfig     `yaml:"reindex"`
	Storage     StorageConfig     `yaml:"storage"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SendRateLimit is the number of /chat/send requests allowed per bot
	// token per minute. Zero disables limiting.
	SendRateLimit int `yaml:"send_rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

type LLMConfig struct {
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Primary        string                    `yaml:"primary"`
	Fallbacks      []string                  `yaml:"fallbacks"`
	EmbeddingModel string                    `yaml:"embedding_model"`
	Retry          RetryConfig               `yaml:"retry"`
	RequestTimeout time.Duration             `yaml:"request_timeout"`
}

type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	API     string `yaml:"api"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

type VectorStoreConfig struct {
	URL         string            `yaml:"url"`
	APIKey      string            `yaml:"api_key"`
	Collections CollectionsConfig `yaml:"collections"`
	Dimension   int               `yaml:"dimension"`
	Timeout     time.Duration     `yaml:"timeout"`
}

type CollectionsConfig struct {
	KnowledgeBase string `yaml:"knowledgebase"`
	Flows         string `yaml:"flows"`
	APIs          string `yaml:"apis"`
}

type RetrievalConfig struct {
	KnowledgeBase retriever.Settings `yaml:"knowledgebase"`
	Flows         retriever.Settings `yaml:"flows"`
	APIs          retriever.Settings `yaml:"apis"`
	// CacheTTL enables the retrieval cache when positive.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type ChatConfig struct {
	MaxContentLength int `yaml:"max_content_length"`
	HistoryLimit     int `yaml:"history_limit"`
	HistoryBuffer    int `yaml:"history_buffer"`
}

type PromptsConfig struct {
	Bots map[string]prompts.BotOverrides `yaml:"bots"`
	Apps map[string]prompts.AppOverrides `yaml:"apps"`
}

type ReindexConfig struct {
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
	Secret    string `yaml:"secret"`
}

type StorageConfig struct {
	SwaggerDir string `yaml:"swagger_dir"`
}

// Default returns a configuration that runs against a local SQLite file,
// a local Qdrant and OpenAI.
func Default() *Config {
	rc := retriever.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8002",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    180 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			SendRateLimit:   60,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Driver: "sqlite", DataDir: "./data"},
		LLM: LLMConfig{
			Primary:        "openai/gpt-3.5-turbo-16k",
			EmbeddingModel: "openai/text-embedding-ada-002",
			Retry:          RetryConfig{Attempts: 2, Backoff: 500 * time.Millisecond},
			RequestTimeout: 120 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			URL:       "http://localhost:6333",
			Dimension: 1536,
			Timeout:   30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			KnowledgeBase: rc.KnowledgeBase,
			Flows:         rc.Flows,
			APIs:          rc.APIs,
		},
		Chat:    ChatConfig{MaxContentLength: 255, HistoryLimit: 20, HistoryBuffer: 256},
		Reindex: ReindexConfig{Schedule: "@daily", BatchSize: 50},
		Storage: StorageConfig{SwaggerDir: "./shared_data"},
	}
}

func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai": {
			BaseURL: "https://api.openai.com/v1",
			APIKey:  "${OPENAI_API_KEY}",
			API:     llm.APIOpenAI,
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.LLM.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.LLM.Providers[name] = p
	}
	for _, s := range []*string{
		&cfg.Server.Addr,
		&cfg.Database.DSN,
		&cfg.Database.DataDir,
		&cfg.VectorStore.URL,
		&cfg.VectorStore.APIKey,
		&cfg.Redis.Addr,
		&cfg.Redis.Password,
		&cfg.Reindex.Secret,
		&cfg.Storage.SwaggerDir,
	} {
		*s = expandEnv(*s)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse overlays data on Default. With no providers configured the
// OpenAI provider is used.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.LLM.Providers) == 0 {
		cfg.LLM.Providers = defaultProviders()
	}
	expandEnvInConfig(cfg)
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database.data_dir is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q unknown (sqlite, postgres)", c.Database.Driver))
	}

	if c.LLM.Primary == "" {
		errs = append(errs, errors.New("llm.primary is required"))
	} else {
		errs = append(errs, c.checkModel("llm.primary", c.LLM.Primary))
	}
	for i, f := range c.LLM.Fallbacks {
		errs = append(errs, c.checkModel(fmt.Sprintf("llm.fallbacks[%d]", i), f))
	}
	if c.LLM.EmbeddingModel != "" {
		errs = append(errs, c.checkModel("llm.embedding_model", c.LLM.EmbeddingModel))
	}
	for name, p := range c.LLM.Providers {
		if p.API != "" && p.API != llm.APIOpenAI && p.API != llm.APIAnthropic {
			errs = append(errs, fmt.Errorf("llm.providers.%s.api %q unknown", name, p.API))
		}
	}

	for name, s := range map[string]retriever.Settings{
		"knowledgebase": c.Retrieval.KnowledgeBase,
		"flows":         c.Retrieval.Flows,
		"apis":          c.Retrieval.APIs,
	} {
		if s.K <= 0 {
			errs = append(errs, fmt.Errorf("retrieval.%s.k must be positive", name))
		}
		if s.Threshold < 0 || s.Threshold > 1 {
			errs = append(errs, fmt.Errorf("retrieval.%s.threshold must be within [0,1]", name))
		}
	}

	if c.Chat.MaxContentLength <= 0 {
		errs = append(errs, errors.New("chat.max_content_length must be positive"))
	}
	if c.Reindex.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reindex.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("reindex.schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) checkModel(field, ref string) error {
	m, err := llm.ParseModelRef(ref)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if _, ok := c.LLM.Providers[m.Provider()]; !ok {
		return fmt.Errorf("%s: provider %q is not configured", field, m.Provider())
	}
	return nil
}

// ProviderConfigs returns the providers in name order.
func (c *Config) ProviderConfigs() []llm.ProviderConfig {
	names := make([]string, 0, len(c.LLM.Providers))
	for name := range c.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]llm.ProviderConfig, 0, len(names))
	for _, name := range names {
		p := c.LLM.Providers[name]
		out = append(out, llm.ProviderConfig{
			ID:      name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			API:     p.API,
			Timeout: c.LLM.RequestTimeout,
		})
	}
	return out
}

// RetrieverConfig returns the per-index search settings.
func (c *Config) RetrieverConfig() retriever.Config {
	return retriever.Config{
		KnowledgeBase: c.Retrieval.KnowledgeBase,
		Flows:         c.Retrieval.Flows,
		APIs:          c.Retrieval.APIs,
	}
}

// Collections maps each index to its configured collection name. Empty
// names keep the store defaults.
func (c *Config) Collections() map[retriever.Index]string {
	return map[retriever.Index]string{
		retriever.IndexKnowledgeBase: c.VectorStore.Collections.KnowledgeBase,
		retriever.IndexFlows:         c.VectorStore.Collections.Flows,
		retriever.IndexAPIs:          c.VectorStore.Collections.APIs,
	}
}
