package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencopilot/copilot/internal/copilot"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/reindex"
	"github.com/opencopilot/copilot/internal/state"
)

const msgCopilotNotFound = "Copilot not found"

func (s *Server) handleListCopilots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.copilots.List(r.Context())
	if err != nil {
		s.internalError(w, r, err, "list copilots")
		return
	}
	if bots == nil {
		bots = []*state.Bot{}
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleCreateCopilot(w http.ResponseWriter, r *http.Request) {
	var in copilot.CreateInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	res, err := s.copilots.Create(r.Context(), in)
	if err != nil {
		s.internalError(w, r, err, "create copilot")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetCopilot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.copilots.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err, "get copilot")
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleUpdateCopilot(w http.ResponseWriter, r *http.Request) {
	var p state.BotPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	bot, err := s.copilots.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.storeError(w, r, err, "update copilot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chatbot": bot})
}

func (s *Server) handleDeleteCopilot(w http.ResponseWriter, r *http.Request) {
	if err := s.copilots.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storeError(w, r, err, "delete copilot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"success": "Chatbot deleted successfully"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	res, err := s.copilots.Validate(r.Context(), chi.URLParam(r, "id"))
	var le *copilot.LoadError
	switch {
	case errors.As(err, &le):
		writeError(w, http.StatusBadRequest, le.Error())
		return
	case err != nil:
		s.storeError(w, r, err, "validate copilot")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	switch err := copilot.CheckReindexAuth(s.cfg.ReindexSecret, r.Header.Get("Authorization")); {
	case errors.Is(err, copilot.ErrReindexDisabled):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if s.reindex == nil {
		writeError(w, http.StatusServiceUnavailable, "reindex is not available")
		return
	}
	rep, err := s.reindex.RunNow(r.Context())
	switch {
	case errors.Is(err, reindex.ErrRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.internalError(w, r, err, "reindex")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "reindex complete", "report": rep})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, state.ErrBotNotFound) {
		writeError(w, http.StatusNotFound, msgCopilotNotFound)
		return
	}
	s.internalError(w, r, err, what)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, what string) {
	log := xlog.FromContext(r.Context(), s.logger)
	log.Error().Err(err).Str(xlog.FieldIncident, what).Msg("request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}
