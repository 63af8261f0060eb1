package store

import (
	"context"
	"fmt"
)

// AddTags attaches tags to a content item. Duplicate tags on the same item
// are ignored, so re-running enrichment cannot double-count.
func (s *Store) AddTags(ctx context.Context, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add tags: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO tags (content_id, tag, pos, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("add tags: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range tags {
		if t.Tag == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, t.ContentID, t.Tag, t.Pos, t.Source); err != nil {
			return fmt.Errorf("add tag %q: %w", t.Tag, err)
		}
	}
	return tx.Commit()
}

// TagsForContent returns an item's tags in first-appearance order.
func (s *Store) TagsForContent(ctx context.Context, contentID string) ([]Tag, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT content_id, tag, pos, source FROM tags
		WHERE content_id = ? ORDER BY pos ASC, tag ASC`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ContentID, &t.Tag, &t.Pos, &t.Source); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// TagCounts aggregates tag frequency over content created in
// [startMs, endMs), most frequent first. Ties break alphabetically so
// digest rollups are stable.
func (s *Store) TagCounts(ctx context.Context, startMs, endMs int64, limit int) ([]TagCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT t.tag, COUNT(*) AS n FROM tags t
		JOIN content c ON c.id = t.content_id
		WHERE c.created_at >= ? AND c.created_at < ?
		GROUP BY t.tag ORDER BY n DESC, t.tag ASC LIMIT ?`,
		startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan tag count: %w", err)
		}
		result = append(result, tc)
	}
	return result, rows.Err()
}
