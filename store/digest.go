package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertDigest appends a digest row. Digests are never updated or deleted:
// regenerating a period produces a new row with a later created_at.
func (s *Store) InsertDigest(ctx context.Context, d *Digest) error {
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO digests (id, digest_type, period_start, period_end, body,
		file_path, content_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DigestType, d.PeriodStart, d.PeriodEnd, d.Body,
		d.FilePath, d.ContentCount, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert digest: %w", err)
	}
	return nil
}

// ListDigests returns digests newest first, optionally filtered by type.
func (s *Store) ListDigests(ctx context.Context, digestType string, limit int) ([]*Digest, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, digest_type, period_start, period_end, body, file_path,
		content_count, created_at FROM digests`
	args := []any{}
	if digestType != "" {
		q += ` WHERE digest_type = ?`
		args = append(args, digestType)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Digest
	for rows.Next() {
		var d Digest
		if err := rows.Scan(&d.ID, &d.DigestType, &d.PeriodStart, &d.PeriodEnd,
			&d.Body, &d.FilePath, &d.ContentCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

// LatestDigest returns the most recent digest of a type, or (nil, nil).
func (s *Store) LatestDigest(ctx context.Context, digestType string) (*Digest, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, digest_type, period_start, period_end, body, file_path,
		content_count, created_at FROM digests
		WHERE digest_type = ? ORDER BY created_at DESC, id DESC LIMIT 1`, digestType)

	var d Digest
	err := row.Scan(&d.ID, &d.DigestType, &d.PeriodStart, &d.PeriodEnd,
		&d.Body, &d.FilePath, &d.ContentCount, &d.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan digest: %w", err)
	}
	return &d, nil
}
