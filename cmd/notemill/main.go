// Command notemill watches an inbox folder, runs dropped files through the
// extraction pipeline, and generates periodic digests. With -mcp it instead
// serves the note tools over MCP stdio for agent clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/notemill/analysis"
	"github.com/hazyhaar/notemill/classify"
	"github.com/hazyhaar/notemill/config"
	"github.com/hazyhaar/notemill/dbopen"
	"github.com/hazyhaar/notemill/digest"
	"github.com/hazyhaar/notemill/extract"
	"github.com/hazyhaar/notemill/ingest"
	"github.com/hazyhaar/notemill/mcpserver"
	"github.com/hazyhaar/notemill/ocr"
	"github.com/hazyhaar/notemill/queue"
	"github.com/hazyhaar/notemill/store"
	"github.com/hazyhaar/notemill/tasks"
	"github.com/hazyhaar/notemill/webfetch"
	_ "modernc.org/sqlite"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "notemill.yaml", "path to the YAML config file")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools over stdio instead of running the watcher")
	digestType := flag.String("digest", "", "generate one digest (weekly, monthly, tasks, topics, trends) and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// In MCP mode stdout carries the protocol; logs go to stderr either way.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		slog.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.NewStore(db)

	analyzer := analysis.New(analysis.Config{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Logger: logger,
	})
	if !analyzer.Available() {
		slog.Warn("no API key configured, running degraded: no summaries, LLM tags, or digest synthesis")
	}

	pipeline := extract.New(extract.Config{
		Transcriber: analyzer,
		OCR:         ocr.New(ocr.Config{Endpoint: cfg.OCREndpoint}),
		Fetcher:     webfetch.New(webfetch.Config{}),
		Logger:      logger,
	})

	ingester, err := ingest.New(ingest.Config{
		Store:     st,
		Extractor: pipeline,
		Analyzer:  analyzer,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("ingester", "error", err)
		os.Exit(1)
	}

	aggregator, err := digest.New(digest.Config{
		Store:     st,
		Model:     analyzer,
		OutDir:    cfg.DigestDir,
		WeekStart: cfg.WeekStart(),
		Logger:    logger,
	})
	if err != nil {
		slog.Error("aggregator", "error", err)
		os.Exit(1)
	}

	if *digestType != "" {
		d, err := aggregator.Generate(ctx, *digestType, time.Now().UTC())
		if err != nil {
			slog.Error("digest", "type", *digestType, "error", err)
			os.Exit(1)
		}
		fmt.Println(d.FilePath)
		return
	}

	if *mcpMode {
		srv, err := mcpserver.NewServer(mcpserver.Config{
			Store:      st,
			Ingester:   ingester,
			Tracker:    tasks.NewTracker(st),
			Aggregator: aggregator,
			Version:    version,
			Logger:     logger,
		})
		if err != nil {
			slog.Error("mcp server", "error", err)
			os.Exit(1)
		}
		slog.Info("MCP server starting", "transport", "stdio")
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("mcp server", "error", err)
			os.Exit(1)
		}
		return
	}

	q := queue.New(db, queue.Options{Logger: logger})
	if err := q.EnsureTable(ctx); err != nil {
		slog.Error("queue table", "error", err)
		os.Exit(1)
	}

	scanner, err := ingest.NewScanner(ingest.ScannerConfig{
		Dir:      cfg.InboxDir,
		Interval: cfg.ScanInterval(),
		Queue:    q,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("scanner", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
		slog.Error("inbox dir", "error", err)
		os.Exit(1)
	}

	go scanner.Run(ctx)
	go digestLoop(ctx, st, aggregator, cfg.WeekStart(), logger)

	slog.Info("notemill starting",
		"version", version,
		"inbox", cfg.InboxDir,
		"db", cfg.DBPath,
		"workers", cfg.Workers)

	// Blocks until ctx is cancelled, draining in-flight jobs.
	q.Run(ctx, cfg.Workers, func(ctx context.Context, job *queue.Job) error {
		_, _, err := ingester.ProcessFile(ctx, job.File.Path, classify.ContentType(job.File.TypeOverride))
		return err
	})

	slog.Info("notemill stopped")
}

// digestLoop generates the weekly and monthly digests for each completed
// period, once. The latest persisted digest of each type marks where the
// previous run (or process lifetime) left off.
func digestLoop(ctx context.Context, st *store.Store, agg *digest.Aggregator, weekStart time.Weekday, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		runDueDigests(ctx, st, agg, weekStart, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runDueDigests(ctx context.Context, st *store.Store, agg *digest.Aggregator, weekStart time.Weekday, log *slog.Logger) {
	now := time.Now().UTC()

	prevWeek := digest.WeeklyWindow(digest.WeeklyWindow(now, weekStart).Start.AddDate(0, 0, -1), weekStart)
	generateIfDue(ctx, st, agg, digest.TypeWeekly, prevWeek, log)

	prevMonth := digest.MonthlyWindow(digest.MonthlyWindow(now).Start.AddDate(0, 0, -1))
	generateIfDue(ctx, st, agg, digest.TypeMonthly, prevMonth, log)
}

// generateIfDue generates a digest for the completed window w unless one
// covering it (or a later period) already exists.
func generateIfDue(ctx context.Context, st *store.Store, agg *digest.Aggregator, digestType string, w digest.Window, log *slog.Logger) {
	last, err := st.LatestDigest(ctx, digestType)
	if err != nil {
		log.Warn("digest check failed", "type", digestType, "error", err)
		return
	}
	if last != nil && last.PeriodStart >= w.StartMs() {
		return
	}
	if _, err := agg.Generate(ctx, digestType, w.Start); err != nil {
		log.Warn("scheduled digest failed", "type", digestType, "period", w.Label(), "error", err)
	}
}
