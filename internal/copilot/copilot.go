// Package copilot manages bots: their records, their swagger documents
// and the operation summaries indexed for them.
package copilot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/retriever"
	"github.com/opencopilot/copilot/internal/state"
	"github.com/opencopilot/copilot/internal/swagger"
	"github.com/opencopilot/copilot/internal/vectorstore"
)

const (
	DefaultName    = "My First Copilot"
	DefaultWebsite = "https://example.com"
	DefaultEmail   = "example@example.com"

	// InitialPrompt is the prompt a bot starts with.
	InitialPrompt = "You are a helpful assistant that can answer questions about the product and perform actions on behalf of the user through its API."

	tokenLength   = 16
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrReindexDisabled = errors.New("this is a protected route! contact admin")
)

// Indexer stores operation summaries for similarity search.
type Indexer interface {
	Upsert(ctx context.Context, index retriever.Index, docs []vectorstore.Document) error
	DeleteByBot(ctx context.Context, index retriever.Index, botID string) error
}

type Service struct {
	bots      state.BotStore
	indexer   Indexer
	loader    *Loader
	endpoints *endpointCache
	token     func() (string, error)
	logger    zerolog.Logger
}

func New(bots state.BotStore, indexer Indexer, loader *Loader, logger zerolog.Logger) *Service {
	return &Service{
		bots:      bots,
		indexer:   indexer,
		loader:    loader,
		endpoints: newEndpointCache(),
		token:     generateToken,
		logger:    logger,
	}
}

// NewDefault uses the copilot component logger.
func NewDefault(bots state.BotStore, indexer Indexer, loader *Loader) *Service {
	return New(bots, indexer, loader, xlog.WithComponent("copilot"))
}

type CreateInput struct {
	Name            string `json:"name"`
	PromptMessage   string `json:"prompt_message"`
	SwaggerURL      string `json:"swagger_url"`
	Website         string `json:"website"`
	EnhancedPrivacy bool   `json:"enhanced_privacy"`
	SmartSync       bool   `json:"smart_sync"`
}

// CreateResult is a new bot. Failure explains why its swagger could not
// be indexed; the bot works without APIs in that case.
type CreateResult struct {
	Bot     *state.Bot `json:"chatbot"`
	Indexed int        `json:"indexed_endpoints"`
	Failure string     `json:"failure,omitempty"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	token, err := s.token()
	if err != nil {
		return nil, fmt.Errorf("create copilot: token: %w", err)
	}
	bot := &state.Bot{
		ID:              uuid.NewString(),
		Name:            orDefault(in.Name, DefaultName),
		Token:           token,
		Website:         orDefault(in.Website, DefaultWebsite),
		PromptMessage:   orDefault(in.PromptMessage, InitialPrompt),
		SwaggerURL:      in.SwaggerURL,
		EnhancedPrivacy: in.EnhancedPrivacy,
		SmartSync:       in.SmartSync,
		Email:           DefaultEmail,
	}
	if err := s.bots.Create(ctx, bot); err != nil {
		s.logger.Error().Err(err).Str(xlog.FieldIncident, "create_copilot").Msg("an exception occurred")
		return nil, fmt.Errorf("create copilot: %w", err)
	}

	res := &CreateResult{Bot: bot}
	if bot.SwaggerURL == "" {
		return res, nil
	}
	n, err := s.IndexBot(ctx, bot)
	if err != nil {
		s.logger.Warn().Err(err).Str(xlog.FieldBotID, bot.ID).Str(xlog.FieldIncident, "swagger").Msg("failed to index swagger")
		res.Failure = "The copilot was created, but we failed to handle the swagger file due to some validation issues, " +
			"your copilot will work fine but without the ability to talk with any APIs. error: " + err.Error()
		return res, nil
	}
	res.Indexed = n
	return res, nil
}

func (s *Service) List(ctx context.Context) ([]*state.Bot, error) {
	return s.bots.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*state.Bot, error) {
	return s.bots.Get(ctx, id)
}

// Update applies p and returns the stored bot. A changed swagger is
// reindexed; a reindex failure is logged and does not fail the update.
func (s *Service) Update(ctx context.Context, id string, p state.BotPatch) (*state.Bot, error) {
	before, err := s.bots.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	bot, err := s.bots.Update(ctx, id, p)
	if err != nil {
		if !errors.Is(err, state.ErrBotNotFound) {
			s.logger.Error().Err(err).Str(xlog.FieldBotID, id).Str(xlog.FieldIncident, "update_copilot").Msg("an exception occurred")
		}
		return nil, err
	}
	if bot.SwaggerURL != before.SwaggerURL {
		s.endpoints.forget(id)
		if _, err := s.reindexBot(ctx, bot); err != nil {
			s.logger.Warn().Err(err).Str(xlog.FieldBotID, id).Msg("reindex after update failed")
		}
	}
	return bot, nil
}

// Delete removes the bot and its indexed summaries.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.bots.Delete(ctx, id); err != nil {
		return err
	}
	s.endpoints.forget(id)
	if err := s.indexer.DeleteByBot(ctx, retriever.IndexAPIs, id); err != nil {
		s.logger.Warn().Err(err).Str(xlog.FieldBotID, id).Msg("failed to drop indexed summaries")
	}
	return nil
}

// ValidationResult is the validator report for a bot's swagger.
type ValidationResult struct {
	ChatbotID    string             `json:"chatbot_id"`
	AllEndpoints []swagger.Endpoint `json:"all_endpoints"`
	Validations  swagger.Report     `json:"validations"`
}

// LoadError reports a swagger that could not be loaded or parsed.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return "Failed to load the swagger file for validation. error: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Validate loads the bot's swagger and reports its endpoints and findings.
func (s *Service) Validate(ctx context.Context, id string) (*ValidationResult, error) {
	bot, err := s.bots.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.loader.Parse(ctx, bot.SwaggerURL)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	eps := doc.Endpoints()
	if eps == nil {
		eps = []swagger.Endpoint{}
	}
	return &ValidationResult{ChatbotID: bot.ID, AllEndpoints: eps, Validations: doc.Validations()}, nil
}

// Endpoints returns every operation of the bot's swagger. The parsed
// document is cached per bot until the swagger URL changes, the bot is
// deleted or the bot is indexed again.
func (s *Service) Endpoints(ctx context.Context, bot *state.Bot) ([]swagger.Endpoint, error) {
	if bot.SwaggerURL == "" {
		return nil, nil
	}
	return s.endpoints.load(ctx, bot.ID, bot.SwaggerURL, func(ctx context.Context) ([]swagger.Endpoint, error) {
		return s.parseEndpoints(ctx, bot.SwaggerURL)
	})
}

func (s *Service) parseEndpoints(ctx context.Context, url string) ([]swagger.Endpoint, error) {
	doc, err := s.loader.Parse(ctx, url)
	if err != nil {
		return nil, err
	}
	return doc.Endpoints(), nil
}

// IndexBot stores one summary per endpoint of the bot's swagger and
// returns how many were indexed. It always reads the swagger afresh and
// refreshes the cached operations.
func (s *Service) IndexBot(ctx context.Context, bot *state.Bot) (int, error) {
	if bot.SwaggerURL == "" {
		return 0, nil
	}
	eps, err := s.parseEndpoints(ctx, bot.SwaggerURL)
	if err != nil {
		s.endpoints.forget(bot.ID)
		return 0, err
	}
	s.endpoints.put(bot.ID, bot.SwaggerURL, eps)
	docs := make([]vectorstore.Document, 0, len(eps))
	for _, e := range eps {
		docs = append(docs, vectorstore.Document{
			Key:     bot.ID + "/" + endpointKey(e),
			Content: e.Summary(),
			Metadata: map[string]any{
				"bot_id":    bot.ID,
				"operation": e,
			},
		})
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := s.indexer.Upsert(ctx, retriever.IndexAPIs, docs); err != nil {
		return 0, fmt.Errorf("index swagger: %w", err)
	}
	return len(docs), nil
}

// reindexBot replaces the bot's summaries.
func (s *Service) reindexBot(ctx context.Context, bot *state.Bot) (int, error) {
	if err := s.indexer.DeleteByBot(ctx, retriever.IndexAPIs, bot.ID); err != nil {
		return 0, fmt.Errorf("drop summaries: %w", err)
	}
	return s.IndexBot(ctx, bot)
}

func endpointKey(e swagger.Endpoint) string {
	if e.OperationID != "" {
		return e.OperationID
	}
	return strings.ToUpper(e.Method) + " " + e.Path
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func generateToken() (string, error) {
	size := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}
