// Package chat is the user-facing conversation surface. Every outcome,
// failures included, is a renderable text reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencopilot/copilot/internal/executor"
	"github.com/opencopilot/copilot/internal/llm"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/metrics"
	"github.com/opencopilot/copilot/internal/orchestrator"
	"github.com/opencopilot/copilot/internal/retriever"
	"github.com/opencopilot/copilot/internal/state"
	"github.com/opencopilot/copilot/internal/swagger"
)

// AppHeader is the caller header naming the app whose prompt extensions
// apply. It is consumed, not forwarded to the bot's API.
const AppHeader = "X-App-Name"

const (
	DefaultMaxContentLength = 255
	DefaultHistoryLimit     = 20
	InitHistoryLimit        = 200

	textNotFound = "I'm unable to help you at the moment, please try again later. **code: b404**"
	textFailure  = "I'm unable to help you at the moment, please try again later. **code: b500**\n```%s```"
	textNoToken  = "Could not find bot token"
)

var ErrInvalidContent = errors.New("Invalid content, the size is larger than 255 char")

// Reply is the wire shape of every chat answer.
type Reply struct {
	Type     string    `json:"type"`
	Response ReplyText `json:"response"`
}

type ReplyText struct {
	Text string `json:"text"`
}

// Result is a reply with the HTTP status it should be sent with.
type Result struct {
	Status int
	Reply  Reply
}

func textResult(status int, text string) Result {
	return Result{Status: status, Reply: Reply{Type: "text", Response: ReplyText{Text: text}}}
}

// SendRequest is one inbound user message.
type SendRequest struct {
	Token         string            `json:"-"`
	Content       string            `json:"content"`
	SessionID     string            `json:"session_id"`
	Headers       map[string]string `json:"headers"`
	ServerBaseURL string            `json:"server_base_url,omitempty"`
}

type Retriever interface {
	Retrieve(ctx context.Context, text, botID string) retriever.Evidence
}

type Stepper interface {
	ProcessStep(ctx context.Context, in orchestrator.StepInput) (orchestrator.BotMessage, error)
}

type Executor interface {
	Run(ctx context.Context, req executor.Request) (executor.Result, error)
}

// EndpointSource supplies a bot's full operation list so flow steps can
// resolve operations that were not retrieved.
type EndpointSource interface {
	Endpoints(ctx context.Context, bot *state.Bot) ([]swagger.Endpoint, error)
}

type Config struct {
	MaxContentLength int
	HistoryLimit     int
}

type Service struct {
	bots      state.BotStore
	history   state.HistoryStore
	writer    *HistoryWriter
	retriever Retriever
	stepper   Stepper
	executor  Executor
	endpoints EndpointSource
	cfg       Config
	logger    zerolog.Logger
}

type Option func(*Service)

// WithExecutor enables calling the selected operations.
func WithExecutor(e Executor, src EndpointSource) Option {
	return func(s *Service) { s.executor, s.endpoints = e, src }
}

func WithConfig(cfg Config) Option { return func(s *Service) { s.cfg = cfg } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(bots state.BotStore, history state.HistoryStore, writer *HistoryWriter, r Retriever, st Stepper, opts ...Option) *Service {
	s := &Service{
		bots:      bots,
		history:   history,
		writer:    writer,
		retriever: r,
		stepper:   st,
		cfg:       Config{MaxContentLength: DefaultMaxContentLength, HistoryLimit: DefaultHistoryLimit},
		logger:    xlog.WithComponent("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxContentLength <= 0 {
		s.cfg.MaxContentLength = DefaultMaxContentLength
	}
	if s.cfg.HistoryLimit <= 0 {
		s.cfg.HistoryLimit = DefaultHistoryLimit
	}
	return s
}

// Send answers one user message. It never returns an error: rejected
// input, unknown bots and pipeline failures all become text replies.
func (s *Service) Send(ctx context.Context, req SendRequest) (res Result) {
	log := xlog.FromContext(ctx, s.logger).With().Str(xlog.FieldSessionID, req.SessionID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str(xlog.FieldIncident, "chat/send").Msg("chat pipeline panicked")
			res = textResult(http.StatusInternalServerError, fmt.Sprintf(textFailure, r))
		}
		metrics.RecordChat(res.Status)
	}()

	if req.Content == "" || utf8.RuneCountInString(req.Content) > s.cfg.MaxContentLength {
		return textResult(http.StatusBadRequest, ErrInvalidContent.Error())
	}

	bot, err := s.bots.GetByToken(ctx, req.Token)
	if err != nil {
		if !errors.Is(err, state.ErrBotNotFound) {
			log.Error().Err(err).Msg("bot lookup failed")
		}
		return textResult(http.StatusNotFound, textNotFound)
	}
	log = log.With().Str(xlog.FieldBotID, bot.ID).Logger()

	if req.SessionID == "" {
		return textResult(http.StatusInternalServerError, fmt.Sprintf(textFailure, orchestrator.ErrSessionRequired))
	}

	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	app := headers[AppHeader]
	delete(headers, AppHeader)

	text, err := s.answer(ctx, bot, req, app, headers)
	if err != nil {
		log.Error().Err(err).Str(xlog.FieldIncident, "chat/send").Msg("an exception occurred")
		return textResult(http.StatusInternalServerError, fmt.Sprintf(textFailure, err))
	}

	s.writer.Enqueue(
		state.Turn{BotID: bot.ID, SessionID: req.SessionID, FromUser: true, Message: req.Content},
		state.Turn{BotID: bot.ID, SessionID: req.SessionID, FromUser: false, Message: text},
	)
	return textResult(http.StatusOK, text)
}

func (s *Service) answer(ctx context.Context, bot *state.Bot, req SendRequest, app string, headers map[string]string) (string, error) {
	var (
		ev      retriever.Evidence
		history []llm.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ev = s.retriever.Retrieve(gctx, req.Content, bot.ID)
		return nil
	})
	g.Go(func() error {
		var err error
		history, err = s.recentHistory(gctx, bot.ID, req.SessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	bm, err := s.stepper.ProcessStep(ctx, orchestrator.StepInput{
		SessionID:    req.SessionID,
		App:          app,
		Text:         req.Content,
		Context:      ev.Context,
		APISummaries: ev.APISummaries,
		Flows:        ev.Flows,
		History:      history,
		BotID:        bot.ID,
	})
	if err != nil {
		return "", err
	}
	if len(bm.IDs) == 0 || s.executor == nil || req.ServerBaseURL == "" {
		return bm.Text, nil
	}

	var endpoints []swagger.Endpoint
	if s.endpoints != nil {
		if endpoints, err = s.endpoints.Endpoints(ctx, bot); err != nil {
			s.logger.Warn().Err(err).Str(xlog.FieldBotID, bot.ID).Msg("could not load bot endpoints")
		}
	}
	res, err := s.executor.Run(ctx, executor.Request{
		Text:      req.Content,
		BotID:     bot.ID,
		App:       app,
		BaseURL:   req.ServerBaseURL,
		Headers:   headers,
		IDs:       bm.IDs,
		Summaries: ev.APISummaries,
		Flows:     ev.Flows,
		Endpoints: endpoints,
	})
	if err != nil {
		return "", err
	}
	if res.Answer == "" {
		return bm.Text, nil
	}
	return res.Answer, nil
}

// recentHistory returns the last HistoryLimit turns the bot exchanged in a
// session as model messages, oldest first. Session ids come from clients,
// so turns of other bots sharing the id are never included.
func (s *Service) recentHistory(ctx context.Context, botID, sessionID string) ([]llm.Message, error) {
	if sessionID == "" {
		return nil, nil
	}
	turns, err := s.history.RecentBySessionAndBot(ctx, botID, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleAssistant
		if t.FromUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Message})
	}
	return msgs, nil
}

// InitResult is what a chat widget needs to render a session.
type InitResult struct {
	BotName          string       `json:"bot_name"`
	Logo             string       `json:"logo"`
	FAQ              []string     `json:"faq"`
	InitialQuestions []string     `json:"initial_questions"`
	History          []state.Turn `json:"history"`
}

// Init resolves the bot and loads the session's history. A missing or
// unknown token yields a 404 text reply instead of a result.
func (s *Service) Init(ctx context.Context, token, sessionID string) (*InitResult, *Result) {
	if token == "" {
		r := textResult(http.StatusNotFound, textNoToken)
		return nil, &r
	}
	bot, err := s.bots.GetByToken(ctx, token)
	if err != nil {
		r := textResult(http.StatusNotFound, textNoToken)
		return nil, &r
	}
	history := []state.Turn{}
	if sessionID != "" {
		turns, err := s.history.BySessionAndBot(ctx, bot.ID, sessionID, InitHistoryLimit, 0)
		if err != nil {
			s.logger.Warn().Err(err).Str(xlog.FieldSessionID, sessionID).Msg("could not load history")
		} else {
			history = turns
		}
	}
	return &InitResult{
		BotName:          bot.Name,
		Logo:             "logo",
		FAQ:              []string{},
		InitialQuestions: []string{},
		History:          history,
	}, nil
}

func (s *Service) SessionChats(ctx context.Context, sessionID string, limit, offset int) ([]state.Turn, error) {
	return s.history.BySession(ctx, sessionID, limit, offset)
}

func (s *Service) BotSessions(ctx context.Context, botID string, limit, offset int) ([]state.SessionSummary, error) {
	return s.history.SessionsByBot(ctx, botID, limit, offset)
}
