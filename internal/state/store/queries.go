package store

import (
	"strconv"
	"strings"
)

// DBQuery is a statement with its per-dialect renderings.
type DBQuery struct {
	ID            string
	Query         string
	PostgresQuery string
	SQLiteQuery   string
}

// GetQuery returns the rendering for dialect, falling back to Query.
func (q DBQuery) GetQuery(dialect string) string {
	switch dialect {
	case DialectPostgres:
		if q.PostgresQuery != "" {
			return q.PostgresQuery
		}
	case DialectSQLite:
		if q.SQLiteQuery != "" {
			return q.SQLiteQuery
		}
	}
	return q.Query
}

// newQuery renders a ?-placeholder statement for both dialects.
func newQuery(id, query string) DBQuery {
	return DBQuery{
		ID:            id,
		Query:         query,
		SQLiteQuery:   query,
		PostgresQuery: rebind(query),
	}
}

// rebind rewrites ? placeholders to $1, $2, ... outside quoted literals.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

const botColumns = "id, name, token, website, status, prompt_message, enhanced_privacy, smart_sync, swagger_url, email, created_at, updated_at, deleted_at"

const turnColumns = "id, chatbot_id, session_id, from_user, message, created_at"

var (
	qSetSchemaVersion = newQuery("CPQ-SCHEMA-01", "INSERT INTO schema_version (version) VALUES (?)")

	qListBots    = newQuery("CPQ-BOT-01", "SELECT "+botColumns+" FROM chatbots ORDER BY created_at, id")
	qBatchBots   = newQuery("CPQ-BOT-02", "SELECT "+botColumns+" FROM chatbots ORDER BY created_at, id LIMIT ? OFFSET ?")
	qCountBots   = newQuery("CPQ-BOT-03", "SELECT COUNT(*) FROM chatbots")
	qGetBot      = newQuery("CPQ-BOT-04", "SELECT "+botColumns+" FROM chatbots WHERE id = ?")
	qGetBotByTok = newQuery("CPQ-BOT-05", "SELECT "+botColumns+" FROM chatbots WHERE token = ?")
	qCreateBot   = newQuery("CPQ-BOT-06", "INSERT INTO chatbots ("+botColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	qUpdateBot   = newQuery("CPQ-BOT-07", "UPDATE chatbots SET name = ?, prompt_message = ?, swagger_url = ?, enhanced_privacy = ?, smart_sync = ?, website = ?, updated_at = ? WHERE id = ?")
	qDeleteBot   = newQuery("CPQ-BOT-08", "DELETE FROM chatbots WHERE id = ?")

	qAppendTurn  = newQuery("CPQ-CHAT-01", "INSERT INTO chat_history (chatbot_id, session_id, from_user, message, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id")
	qTurnsBySess = newQuery("CPQ-CHAT-02", "SELECT "+turnColumns+" FROM chat_history WHERE session_id = ? ORDER BY id LIMIT ? OFFSET ?")
	qTurnsByBot  = newQuery("CPQ-CHAT-04", "SELECT "+turnColumns+" FROM chat_history WHERE chatbot_id = ? AND session_id = ? ORDER BY id LIMIT ? OFFSET ?")
	qRecentTurns = newQuery("CPQ-CHAT-05", "SELECT "+turnColumns+" FROM chat_history WHERE chatbot_id = ? AND session_id = ? ORDER BY id DESC LIMIT ?")

	qSessionsByBot = newQuery("CPQ-CHAT-03",
		"SELECT h.id, h.chatbot_id, h.session_id, h.from_user, h.message, h.created_at FROM chat_history h "+
			"JOIN (SELECT session_id, MIN(id) AS first_id FROM chat_history WHERE chatbot_id = ? GROUP BY session_id) f "+
			"ON h.id = f.first_id ORDER BY h.id LIMIT ? OFFSET ?")
)
