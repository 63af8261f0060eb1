// Package queue implements the ingest job queue backed by SQLite with a
// visibility timeout.
//
// The inbox scanner publishes one job per discovered file; worker loops
// claim jobs, which stay invisible for the visibility window while being
// processed. A worker that crashes mid-file never loses the job — after the
// window expires the row reappears and another worker claims it. Jobs that
// keep failing are discarded after MaxAttempts deliveries.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FileJob is the payload of one ingest job.
type FileJob struct {
	Path string `json:"path"`
	// TypeOverride forces classification, used by the manual process tool.
	TypeOverride string `json:"type_override,omitempty"`
}

// Job is a claimed queue row.
type Job struct {
	ID        string
	File      FileJob
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. It must exceed
	// the slowest expected extraction (vision PDFs). Default: 5m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts limits redeliveries before a job is discarded. Default: 3.
	MaxAttempts int
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the ingest_jobs table if it doesn't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_jobs (
			id          TEXT PRIMARY KEY,
			payload     BLOB,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_ingest_jobs_visible ON ingest_jobs (visible_at);
	`)
	return err
}

// Publish inserts an immediately-visible job. The id doubles as a dedup
// key: the scanner derives it from the file's path and signature, so a file
// still sitting in the inbox on the next scan pass is not enqueued twice.
func (q *Q) Publish(ctx context.Context, id string, file FileJob) error {
	payload, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ingest_jobs (id, payload, visible_at, created_at) VALUES (?,?,?,?)`,
		id, payload, now, now,
	)
	return err
}

// Claim atomically picks the oldest visible job and hides it for the
// visibility window. Returns (nil, nil) when nothing is available.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE ingest_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM ingest_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, payload, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var payload []byte
	var visAt, creAt int64
	err := row.Scan(&j.ID, &payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.File); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job %s: %w", j.ID, err)
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM ingest_jobs WHERE id = ?`, id)
	return err
}

// Nack makes a job immediately visible again.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE ingest_jobs SET visible_at = 0 WHERE id = ?`, id)
	return err
}

// Extend pushes the visibility timeout forward for a long extraction.
func (q *Q) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE ingest_jobs SET visible_at = ? WHERE id = ?`, hideUntil, id)
	return err
}

// Len returns the total number of jobs, visible or not.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_jobs`).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Run polls for jobs and processes them with at most maxConcurrency
// handlers in flight. It blocks until ctx is cancelled and drains running
// handlers before returning.
func (q *Q) Run(ctx context.Context, maxConcurrency int, handler Handler) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	log := q.opts.Logger
	log.Info("queue: consumer started",
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval,
		"workers", maxConcurrency)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("queue: consumer stopping, draining in-flight jobs")
			wg.Wait()
			log.Info("queue: consumer stopped")
			return
		case <-ticker.C:
			q.drain(ctx, sem, &wg, handler, log)
		}
	}
}

// drain claims and dispatches jobs until the queue is empty or a worker
// slot is unavailable with the context cancelled.
func (q *Q) drain(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup, handler Handler, log *slog.Logger) {
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("queue: claim failed", "error", err)
			}
			return
		}
		if job == nil {
			return
		}

		if job.Attempts > q.opts.MaxAttempts {
			log.Warn("queue: job exceeded max attempts, discarding",
				"id", job.ID, "path", job.File.Path, "attempts", job.Attempts)
			_ = q.Ack(ctx, job.ID)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = q.Nack(ctx, job.ID)
			return
		}

		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := handler(ctx, j); err != nil {
				log.Warn("queue: handler failed, nacking",
					"id", j.ID, "path", j.File.Path, "error", err)
				_ = q.Nack(context.Background(), j.ID)
			} else {
				_ = q.Ack(context.Background(), j.ID)
			}
		}(job)
	}
}
