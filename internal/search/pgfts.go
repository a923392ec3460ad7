package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches projects with PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search matches the generated projects.fts column with plainto_tsquery,
// ranks with ts_rank and builds snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalize(q)

	where := "p.fts @@ plainto_tsquery('english', $1) AND NOT p.is_hidden"
	args := []any{q.Text}
	if q.EventID != 0 {
		where += " AND p.event_id = $2"
		args = append(args, q.EventID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM projects p WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.event_id, p.name,
			ts_headline('english', coalesce(p.summary, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			p.score
		FROM projects p
		WHERE %s
		ORDER BY ts_rank(p.fts, plainto_tsquery('english', $1)) DESC, p.score DESC, p.id ASC
		LIMIT %d OFFSET %d`, where, q.Limit, q.Offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.EventID, &r.Name, &r.Snippet, &r.Score); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all projects for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, event_id, name, summary, longtext, is_hidden, score
		FROM projects
	`)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	defer rows.Close()

	records := make([]ProjectRecord, 0)
	for rows.Next() {
		var r ProjectRecord
		if err := rows.Scan(&r.ID, &r.EventID, &r.Name, &r.Summary, &r.Longtext, &r.Hidden, &r.Score); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return records, nil
}
