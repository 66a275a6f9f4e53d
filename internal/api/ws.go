package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/opencopilot/copilot/internal/chat"
	xlog "github.com/opencopilot/copilot/internal/log"
)

// wsReply is one websocket answer. Status mirrors the HTTP status the
// same message would get from /chat/send.
type wsReply struct {
	Status int `json:"status"`
	chat.Reply
}

// handleWS serves the websocket variant of send: each text frame is a send
// payload, each answer a reply frame.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(TokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	log := xlog.FromContext(r.Context(), s.logger)
	ctx := r.Context()
	for {
		var req chat.SendRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		req.Token = token
		res := s.chat.Send(ctx, req)
		if err := wsjson.Write(ctx, conn, wsReply{Status: res.Status, Reply: res.Reply}); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}
