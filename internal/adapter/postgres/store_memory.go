package postgres

import (
	"context"
	"fmt"

	"github.com/astrahq/astra/internal/domain/memory"
)

func (s *Store) SaveMemory(ctx context.Context, req memory.SaveRequest) (*memory.Item, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO memories (run_id, content, tags)
		 VALUES ($1, $2, $3)
		 RETURNING id, run_id, content, tags, created_at`,
		nullIfEmpty(req.RunID), req.Content, pgTextArray(req.Tags))

	item, err := scanMemory(row)
	if err != nil {
		return nil, fmt.Errorf("save memory: %w", err)
	}
	return &item, nil
}

func scanMemory(row scannable) (memory.Item, error) {
	var (
		m     memory.Item
		runID *string
	)
	if err := row.Scan(&m.ID, &runID, &m.Content, &m.Tags, &m.CreatedAt); err != nil {
		return memory.Item{}, err
	}
	if runID != nil {
		m.RunID = *runID
	}
	return m, nil
}

// ListMemories returns memory items, newest first. A non-empty query
// filters by case-insensitive substring match on content and tags.
func (s *Store) ListMemories(ctx context.Context, query string, limit int) ([]memory.Item, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT id, run_id, content, tags, created_at FROM memories ORDER BY created_at DESC LIMIT $1`
	args := []any{limit}
	if query != "" {
		q = `SELECT id, run_id, content, tags, created_at FROM memories
		     WHERE content ILIKE '%' || $2 || '%' OR EXISTS (
		         SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE '%' || $2 || '%')
		     ORDER BY created_at DESC LIMIT $1`
		args = append(args, query)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var items []memory.Item
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
