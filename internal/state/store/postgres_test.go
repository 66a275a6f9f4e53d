package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencopilot/copilot/internal/state"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return New(sqlDB, DialectPostgres), mock
}

var botRowColumns = []string{"id", "name", "token", "website", "status", "prompt_message",
	"enhanced_privacy", "smart_sync", "swagger_url", "email", "created_at", "updated_at", "deleted_at"}

func TestPostgresGetByToken(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewBotStore(db)

	rows := sqlmock.NewRows(botRowColumns).
		AddRow("bot-1", "Pets", "tok", "", "", "prompt", false, true, "pets.yaml", "", "2024-01-02T03:04:05.000000000Z", "2024-01-02T03:04:05.000000000Z", nil)
	mock.ExpectQuery("SELECT " + botColumns + " FROM chatbots WHERE token = $1").
		WithArgs("tok").
		WillReturnRows(rows)

	b, err := s.GetByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "bot-1", b.ID)
	assert.True(t, b.SmartSync)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), b.CreatedAt)
	assert.Nil(t, b.DeletedAt)
}

func TestPostgresGetMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewBotStore(db)

	mock.ExpectQuery(qGetBot.PostgresQuery).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, state.ErrBotNotFound)
}

func TestPostgresUpdatePlaceholders(t *testing.T) {
	assert.Equal(t,
		"UPDATE chatbots SET name = $1, prompt_message = $2, swagger_url = $3, enhanced_privacy = $4, smart_sync = $5, website = $6, updated_at = $7 WHERE id = $8",
		qUpdateBot.GetQuery(DialectPostgres))
	assert.Equal(t, qUpdateBot.Query, qUpdateBot.GetQuery(DialectSQLite))
}

func TestPostgresDeleteMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewBotStore(db)

	mock.ExpectExec("DELETE FROM chatbots WHERE id = $1").WithArgs("gone").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), "gone")
	assert.ErrorIs(t, err, state.ErrBotNotFound)
}

func TestPostgresAppendTurnReturnsID(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewHistoryStore(db)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	mock.ExpectQuery("INSERT INTO chat_history (chatbot_id, session_id, from_user, message, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id").
		WithArgs("b1", "s1", true, "hello", "2024-01-01T00:00:00.000000000Z").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	turn, err := s.Append(context.Background(), state.Turn{BotID: "b1", SessionID: "s1", FromUser: true, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), turn.ID)
}

func TestPostgresHistoryError(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewHistoryStore(db)

	boom := errors.New("connection reset")
	mock.ExpectQuery(qTurnsBySess.PostgresQuery).WithArgs("s1", 20, 0).WillReturnError(boom)

	_, err := s.BySession(context.Background(), "s1", 20, 0)
	assert.ErrorIs(t, err, boom)
}

func TestPostgresRecentTurnsScopedAndReversed(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewHistoryStore(db)

	ts := "2024-01-01T00:00:00.000000000Z"
	mock.ExpectQuery("SELECT id, chatbot_id, session_id, from_user, message, created_at FROM chat_history WHERE chatbot_id = $1 AND session_id = $2 ORDER BY id DESC LIMIT $3").
		WithArgs("b1", "s1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chatbot_id", "session_id", "from_user", "message", "created_at"}).
			AddRow(int64(9), "b1", "s1", false, "newest", ts).
			AddRow(int64(7), "b1", "s1", true, "older", ts))

	turns, err := s.RecentBySessionAndBot(context.Background(), "b1", "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "older", turns[0].Message)
	assert.Equal(t, "newest", turns[1].Message)
}

func TestPostgresCreateBot(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewBotStore(db)
	at := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	ts := "2024-02-02T00:00:00.000000000Z"

	mock.ExpectExec(qCreateBot.PostgresQuery).
		WithArgs("id1", "n", "tok", "", "", "p", false, false, "s.json", "", ts, ts, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	b := &state.Bot{ID: "id1", Name: "n", Token: "tok", PromptMessage: "p", SwaggerURL: "s.json"}
	require.NoError(t, s.Create(context.Background(), b))
	assert.Equal(t, at, b.CreatedAt)
}
