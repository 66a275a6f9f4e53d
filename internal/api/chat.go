package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/opencopilot/copilot/internal/chat"
	xlog "github.com/opencopilot/copilot/internal/log"
)

const (
	defaultChatsLimit    = 20
	defaultSessionsLimit = 20
)

// sendLimiter limits sends per bot token. Requests without a token share
// the caller's IP as key.
func (s *Server) sendLimiter() func(http.Handler) http.Handler {
	if s.cfg.SendRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.SendRateLimit,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if tok := r.Header.Get(TokenHeader); tok != "" {
				return "token:" + tok, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, chat.Reply{
				Type:     "text",
				Response: chat.ReplyText{Text: "Too many messages, please slow down and try again in a minute."},
			})
		}),
	)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chat.Reply{Type: "text", Response: chat.ReplyText{Text: chat.ErrInvalidContent.Error()}})
		return
	}
	req.Token = r.Header.Get(TokenHeader)
	res := s.chat.Send(r.Context(), req)
	writeJSON(w, res.Status, res.Reply)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(TokenHeader)
	sessionID := r.Header.Get(SessionHeader)
	res, fail := s.chat.Init(r.Context(), token, sessionID)
	if fail != nil {
		writeJSON(w, fail.Status, fail.Reply)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionChats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	turns, err := s.chat.SessionChats(r.Context(), sessionID,
		intQuery(r, "limit", defaultChatsLimit), intQuery(r, "offset", 0))
	if err != nil {
		log := xlog.FromContext(r.Context(), s.logger)
		log.Error().Err(err).Str(xlog.FieldSessionID, sessionID).Msg("load session chats")
		writeError(w, http.StatusInternalServerError, "could not load chats")
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleBotSessions(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "bot_id")
	sessions, err := s.chat.BotSessions(r.Context(), botID,
		intQuery(r, "limit", defaultSessionsLimit), intQuery(r, "offset", 0))
	if err != nil {
		log := xlog.FromContext(r.Context(), s.logger)
		log.Error().Err(err).Str(xlog.FieldBotID, botID).Msg("load bot sessions")
		writeError(w, http.StatusInternalServerError, "could not load sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}
