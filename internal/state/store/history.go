package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/opencopilot/copilot/internal/state"
)

// HistoryStore is the SQL-backed state.HistoryStore.
type HistoryStore struct {
	db  *DB
	now func() time.Time
}

var _ state.HistoryStore = (*HistoryStore)(nil)

func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

func (s *HistoryStore) Append(ctx context.Context, t state.Turn) (state.Turn, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	err := s.db.queryRow(ctx, qAppendTurn, t.BotID, t.SessionID, t.FromUser, t.Message, formatTime(t.CreatedAt)).Scan(&t.ID)
	if err != nil {
		return state.Turn{}, fmt.Errorf("append chat history: %w", err)
	}
	return t, nil
}

func (s *HistoryStore) BySession(ctx context.Context, sessionID string, limit, offset int) ([]state.Turn, error) {
	return s.turns(ctx, qTurnsBySess, sessionID, sqlLimit(limit), max(offset, 0))
}

func (s *HistoryStore) BySessionAndBot(ctx context.Context, botID, sessionID string, limit, offset int) ([]state.Turn, error) {
	return s.turns(ctx, qTurnsByBot, botID, sessionID, sqlLimit(limit), max(offset, 0))
}

// RecentBySessionAndBot reads the newest n turns and returns them oldest
// first.
func (s *HistoryStore) RecentBySessionAndBot(ctx context.Context, botID, sessionID string, n int) ([]state.Turn, error) {
	turns, err := s.turns(ctx, qRecentTurns, botID, sessionID, sqlLimit(n))
	if err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

func (s *HistoryStore) turns(ctx context.Context, q DBQuery, args ...any) ([]state.Turn, error) {
	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	turns := make([]state.Turn, 0)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("chat history: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *HistoryStore) SessionsByBot(ctx context.Context, botID string, limit, offset int) ([]state.SessionSummary, error) {
	rows, err := s.db.query(ctx, qSessionsByBot, botID, sqlLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("chat sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]state.SessionSummary, 0)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("chat sessions: %w", err)
		}
		out = append(out, state.SessionSummary{SessionID: t.SessionID, FirstMessage: t})
	}
	return out, rows.Err()
}

func scanTurn(r rowScanner) (state.Turn, error) {
	var (
		t         state.Turn
		createdAt string
	)
	if err := r.Scan(&t.ID, &t.BotID, &t.SessionID, &t.FromUser, &t.Message, &createdAt); err != nil {
		return state.Turn{}, err
	}
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}
