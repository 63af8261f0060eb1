package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/notemill/queue"
)

// ScannerConfig configures the inbox scanner.
type ScannerConfig struct {
	Dir      string
	Interval time.Duration // Default: 30s.
	// SettleTime skips files modified more recently than this, so a file
	// still being copied into the inbox is not picked up half-written.
	// Default: 2s.
	SettleTime time.Duration
	Queue      *queue.Q
	Logger     *slog.Logger
}

func (c *ScannerConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.SettleTime <= 0 {
		c.SettleTime = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scanner polls the inbox directory and enqueues discovered files.
type Scanner struct {
	cfg ScannerConfig
}

// NewScanner creates a Scanner.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("ingest: scanner Dir is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("ingest: scanner Queue is required")
	}
	cfg.defaults()
	return &Scanner{cfg: cfg}, nil
}

// Run polls until ctx is cancelled. One scan pass runs immediately.
func (s *Scanner) Run(ctx context.Context) {
	log := s.cfg.Logger
	log.Info("scanner started", "dir", s.cfg.Dir, "interval", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := s.ScanOnce(ctx); err != nil {
			log.Warn("scan pass failed", "error", err)
		} else if n > 0 {
			log.Info("scan pass enqueued files", "count", n)
		}

		select {
		case <-ctx.Done():
			log.Info("scanner stopped")
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce walks the inbox once and publishes a job per eligible file.
// Returns the number of files enqueued. Publishing is deduplicated by job
// ID, so files already pending are counted but not duplicated.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.SettleTime)
	enqueued := 0

	err := filepath.WalkDir(s.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() && path != s.cfg.Dir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil // vanished mid-scan
		}
		if info.ModTime().After(cutoff) {
			return nil // still settling
		}

		id := jobID(path, info.Size(), info.ModTime().UnixMilli())
		if err := s.cfg.Queue.Publish(ctx, id, queue.FileJob{Path: path}); err != nil {
			return fmt.Errorf("publish %s: %w", path, err)
		}
		enqueued++
		return nil
	})
	if err != nil {
		return enqueued, fmt.Errorf("ingest: scan %s: %w", s.cfg.Dir, err)
	}
	return enqueued, nil
}

// jobID derives a stable dedup key from the file's path and stat fields.
// A touched or rewritten file gets a fresh ID and is re-enqueued; the
// content-level idempotency key then decides whether it is really new.
func jobID(path string, size, mtimeMs int64) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d", path, size, mtimeMs))
	return hex.EncodeToString(h[:16])
}
