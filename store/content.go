package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const contentColumns = `id, source_path, file_signature, content_type, title,
	raw_text, processed_text, summary, extraction_tier, metadata_json,
	low_confidence, created_at, updated_at`

func scanContent(row interface{ Scan(...any) error }) (*Content, error) {
	var c Content
	var lowConf int
	err := row.Scan(&c.ID, &c.SourcePath, &c.FileSignature, &c.ContentType,
		&c.Title, &c.RawText, &c.ProcessedText, &c.Summary, &c.ExtractionTier,
		&c.MetadataJSON, &lowConf, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.LowConfidence = lowConf != 0
	return &c, nil
}

// UpsertContent inserts a content item keyed by (source_path, file_signature).
// If a row with the same key already exists, the existing row is returned
// untouched and created is false. The caller's struct receives the stored
// timestamps and, on conflict, the stored ID.
func (s *Store) UpsertContent(ctx context.Context, c *Content) (created bool, err error) {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.MetadataJSON == "" {
		c.MetadataJSON = "{}"
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO content (`+contentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_path, file_signature) DO NOTHING`,
		c.ID, c.SourcePath, c.FileSignature, c.ContentType, c.Title,
		c.RawText, c.ProcessedText, c.Summary, c.ExtractionTier, c.MetadataJSON,
		boolToInt(c.LowConfidence), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert content: rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	existing, err := s.GetContentBySignature(ctx, c.SourcePath, c.FileSignature)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("upsert content: conflict row vanished for %s", c.SourcePath)
	}
	*c = *existing
	return false, nil
}

// GetContent retrieves a content item by ID. Returns (nil, nil) when absent.
func (s *Store) GetContent(ctx context.Context, id string) (*Content, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content WHERE id = ?`, id)
	c, err := scanContent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan content: %w", err)
	}
	return c, nil
}

// GetContentBySignature retrieves a content item by its idempotency key.
// Returns (nil, nil) when absent.
func (s *Store) GetContentBySignature(ctx context.Context, sourcePath, fileSignature string) (*Content, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content
		WHERE source_path = ? AND file_signature = ?`, sourcePath, fileSignature)
	c, err := scanContent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan content: %w", err)
	}
	return c, nil
}

// ContentInWindow returns items with startMs <= created_at < endMs, ordered
// by created_at ascending with id as tiebreak. The half-open bound keeps
// adjacent windows disjoint.
func (s *Store) ContentInWindow(ctx context.Context, startMs, endMs int64) ([]*Content, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`, startMs, endMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContent(rows)
}

// RecentContent returns the newest items, newest first.
func (s *Store) RecentContent(ctx context.Context, limit int) ([]*Content, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContent(rows)
}

// SearchContent runs an FTS5 match over titles and processed text.
func (s *Store) SearchContent(ctx context.Context, query string, limit int) ([]*Content, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content
		WHERE rowid IN (SELECT rowid FROM content_fts WHERE content_fts MATCH ?)
		ORDER BY created_at DESC LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	defer rows.Close()
	return collectContent(rows)
}

func collectContent(rows *sql.Rows) ([]*Content, error) {
	var result []*Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
