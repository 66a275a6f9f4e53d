// Package api exposes the chat and copilot management endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/opencopilot/copilot/internal/chat"
	"github.com/opencopilot/copilot/internal/copilot"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/state"
	"github.com/opencopilot/copilot/internal/version"
)

// TokenHeader carries the bot token on chat requests.
const TokenHeader = "X-Bot-Token"

// SessionHeader carries the session id on /chat/init.
const SessionHeader = "X-Session-Id"

type ChatService interface {
	Send(ctx context.Context, req chat.SendRequest) chat.Result
	Init(ctx context.Context, token, sessionID string) (*chat.InitResult, *chat.Result)
	SessionChats(ctx context.Context, sessionID string, limit, offset int) ([]state.Turn, error)
	BotSessions(ctx context.Context, botID string, limit, offset int) ([]state.SessionSummary, error)
}

type CopilotService interface {
	List(ctx context.Context) ([]*state.Bot, error)
	Get(ctx context.Context, id string) (*state.Bot, error)
	Create(ctx context.Context, in copilot.CreateInput) (*copilot.CreateResult, error)
	Update(ctx context.Context, id string, p state.BotPatch) (*state.Bot, error)
	Delete(ctx context.Context, id string) error
	Validate(ctx context.Context, id string) (*copilot.ValidationResult, error)
}

// Reindexer runs a reindex pass on demand.
type Reindexer interface {
	RunNow(ctx context.Context) (copilot.ReindexReport, error)
}

type Config struct {
	// SendRateLimit is the number of sends per bot token per minute.
	// Zero disables limiting.
	SendRateLimit int
	// ReindexSecret guards POST /copilot/reindex/apis. Empty disables it.
	ReindexSecret string
}

type Server struct {
	chat     ChatService
	copilots CopilotService
	reindex  Reindexer
	cfg      Config
	logger   zerolog.Logger
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.logger = l } }

func WithReindexer(r Reindexer) Option { return func(s *Server) { s.reindex = r } }

func New(chatSvc ChatService, copilots CopilotService, cfg Config, opts ...Option) *Server {
	s := &Server{
		chat:     chatSvc,
		copilots: copilots,
		cfg:      cfg,
		logger:   xlog.WithComponent("api"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(xlog.Middleware())
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/chat", func(r chi.Router) {
		r.With(s.sendLimiter()).Post("/send", s.handleSend)
		r.Get("/init", s.handleInit)
		r.Get("/sessions/{session_id}/chats", s.handleSessionChats)
		r.Get("/b/{bot_id}/chat_sessions", s.handleBotSessions)
		r.Get("/ws", s.handleWS)
	})

	r.Route("/copilot", func(r chi.Router) {
		r.Get("/", s.handleListCopilots)
		r.Post("/", s.handleCreateCopilot)
		r.Post("/reindex/apis", s.handleReindex)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCopilot)
			r.Delete("/", s.handleDeleteCopilot)
			r.Patch("/", s.handleUpdateCopilot)
			r.Put("/", s.handleUpdateCopilot)
			r.Post("/", s.handleUpdateCopilot)
			r.Get("/validator", s.handleValidate)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// HTTPServer wraps h with the configured timeouts.
func HTTPServer(addr string, h http.Handler, read, write time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      write,
	}
}
