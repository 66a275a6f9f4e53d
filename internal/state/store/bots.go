package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opencopilot/copilot/internal/state"
)

// BotStore is the SQL-backed state.BotStore.
type BotStore struct {
	db  *DB
	now func() time.Time
}

var _ state.BotStore = (*BotStore)(nil)

func NewBotStore(db *DB) *BotStore {
	return &BotStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(r rowScanner) (*state.Bot, error) {
	var (
		b                    state.Bot
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	err := r.Scan(&b.ID, &b.Name, &b.Token, &b.Website, &b.Status, &b.PromptMessage,
		&b.EnhancedPrivacy, &b.SmartSync, &b.SwaggerURL, &b.Email, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	if deletedAt.Valid && deletedAt.String != "" {
		t := parseTime(deletedAt.String)
		b.DeletedAt = &t
	}
	return &b, nil
}

func (s *BotStore) list(ctx context.Context, q DBQuery, args ...any) ([]*state.Bot, error) {
	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	bots := make([]*state.Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("list chatbots: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (s *BotStore) List(ctx context.Context) ([]*state.Bot, error) {
	return s.list(ctx, qListBots)
}

func (s *BotStore) Batch(ctx context.Context, offset, limit int) ([]*state.Bot, error) {
	return s.list(ctx, qBatchBots, sqlLimit(limit), max(offset, 0))
}

func (s *BotStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.queryRow(ctx, qCountBots).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chatbots: %w", err)
	}
	return n, nil
}

func (s *BotStore) get(ctx context.Context, q DBQuery, arg string) (*state.Bot, error) {
	b, err := scanBot(s.db.queryRow(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chatbot: %w", err)
	}
	return b, nil
}

func (s *BotStore) Get(ctx context.Context, id string) (*state.Bot, error) {
	return s.get(ctx, qGetBot, id)
}

func (s *BotStore) GetByToken(ctx context.Context, token string) (*state.Bot, error) {
	if token == "" {
		return nil, state.ErrBotNotFound
	}
	return s.get(ctx, qGetBotByTok, token)
}

func (s *BotStore) Create(ctx context.Context, b *state.Bot) error {
	now := s.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	var deletedAt any
	if b.DeletedAt != nil {
		deletedAt = formatTime(*b.DeletedAt)
	}
	_, err := s.db.exec(ctx, qCreateBot,
		b.ID, b.Name, b.Token, b.Website, b.Status, b.PromptMessage,
		b.EnhancedPrivacy, b.SmartSync, b.SwaggerURL, b.Email,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt), deletedAt)
	if err != nil {
		if _, getErr := s.Get(ctx, b.ID); getErr == nil {
			return state.ErrBotExists
		}
		return fmt.Errorf("create chatbot: %w", err)
	}
	return nil
}

func (s *BotStore) Update(ctx context.Context, id string, p state.BotPatch) (*state.Bot, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Apply(b)
	b.UpdatedAt = s.now().UTC()
	res, err := s.db.exec(ctx, qUpdateBot,
		b.Name, b.PromptMessage, b.SwaggerURL, b.EnhancedPrivacy, b.SmartSync, b.Website,
		formatTime(b.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update chatbot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, state.ErrBotNotFound
	}
	return b, nil
}

func (s *BotStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.exec(ctx, qDeleteBot, id)
	if err != nil {
		return fmt.Errorf("delete chatbot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chatbot: %w", err)
	}
	if n == 0 {
		return state.ErrBotNotFound
	}
	return nil
}

// sqlLimit maps "no limit" onto a value both dialects accept.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return 1<<31 - 1
	}
	return limit
}
