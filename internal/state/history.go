package state

import (
	"context"
	"time"
)

// Turn is one chat message. Turns are append-only; ID increases in
// append order.
type Turn struct {
	ID        int64     `json:"id"`
	BotID     string    `json:"chatbot_id"`
	SessionID string    `json:"session_id"`
	FromUser  bool      `json:"from_user"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is a session of a bot with the first turn it received.
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	FirstMessage Turn   `json:"first_message"`
}

// HistoryStore persists turns. BySession and BySessionAndBot return turns
// oldest first. RecentBySessionAndBot returns the newest n turns of a bot's
// session, also oldest first. SessionsByBot orders sessions by their first
// turn.
type HistoryStore interface {
	Append(ctx context.Context, t Turn) (Turn, error)
	BySession(ctx context.Context, sessionID string, limit, offset int) ([]Turn, error)
	BySessionAndBot(ctx context.Context, botID, sessionID string, limit, offset int) ([]Turn, error)
	RecentBySessionAndBot(ctx context.Context, botID, sessionID string, n int) ([]Turn, error)
	SessionsByBot(ctx context.Context, botID string, limit, offset int) ([]SessionSummary, error)
}
