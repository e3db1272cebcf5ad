package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches messages.fts with plainto_tsquery, ranked by ts_rank, with
// ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := normalizePage(q)

	const tsQuery = "plainto_tsquery('english', $1)"
	where := "m.fts @@ " + tsQuery
	args := []any{q.Text}
	if q.ConversationID != "" {
		where += " AND m.conversation_id = $2"
		args = append(args, q.ConversationID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM messages m WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT m.id, m.conversation_id, m.sender_id, m.kind,
			ts_headline('english', coalesce(m.content, m.filename, ''), %s,
				'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet,
			m.created_at
		FROM messages m
		WHERE %s
		ORDER BY ts_rank(m.fts, %s) DESC, m.created_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var (
			r         Result
			createdAt time.Time
		)
		if err := rows.Scan(&r.MessageID, &r.ConversationID, &r.SenderID, &r.Kind, &r.Snippet, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every message for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, kind, coalesce(content, ''), coalesce(filename, ''), created_at
		FROM messages
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		var (
			rec       MessageRecord
			createdAt time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.SenderID, &rec.Kind, &rec.Content, &rec.Filename, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.CreatedAt = createdAt.UnixMilli()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return records, nil
}
