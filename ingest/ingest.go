// Package ingest orchestrates the per-file pipeline: signature, classify,
// extract, enrich, persist.
//
// ProcessFile is safe to call concurrently for different files; calls for
// the same path serialize on a striped lock so two workers cannot race one
// file through extraction.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/hazyhaar/notemill/analysis"
	"github.com/hazyhaar/notemill/classify"
	"github.com/hazyhaar/notemill/extract"
	"github.com/hazyhaar/notemill/idgen"
	"github.com/hazyhaar/notemill/store"
	"github.com/hazyhaar/notemill/tasks"
)

const lockStripes = 64

// hashtagRe matches inline hashtags like #projectx.
var hashtagRe = regexp.MustCompile(`#(\w+)`)

// Config wires the Ingester.
type Config struct {
	Store     *store.Store
	Extractor *extract.Pipeline
	Analyzer  *analysis.Client
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ingester runs files through the pipeline.
type Ingester struct {
	cfg   Config
	locks [lockStripes]sync.Mutex
}

// New creates an Ingester.
func New(cfg Config) (*Ingester, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ingest: Store is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("ingest: Extractor is required")
	}
	cfg.defaults()
	return &Ingester{cfg: cfg}, nil
}

func (in *Ingester) lockFor(path string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(path))
	return &in.locks[h.Sum32()%lockStripes]
}

// ProcessFile runs one file through the pipeline and returns the stored
// content with a created flag. A file whose (path, signature) pair is
// already recorded short-circuits before extraction: re-dropping an
// unchanged file is a no-op.
//
// typeOverride, when non-empty, bypasses classification.
func (in *Ingester) ProcessFile(ctx context.Context, path string, typeOverride classify.ContentType) (*store.Content, bool, error) {
	mu := in.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	log := in.cfg.Logger.With("path", path)

	sig, sniff, err := fileSignature(path)
	if err != nil {
		return nil, false, fmt.Errorf("ingest: signature %s: %w", path, err)
	}

	if existing, err := in.cfg.Store.GetContentBySignature(ctx, path, sig); err != nil {
		return nil, false, err
	} else if existing != nil {
		log.Debug("file already processed", "content_id", existing.ID)
		return existing, false, nil
	}

	cls := classify.Classify(path, sniff, classify.Options{Override: typeOverride})
	log.Info("processing file", "type", cls.Type, "low_confidence", cls.LowConfidence)

	res, err := in.cfg.Extractor.Extract(ctx, path, cls.Type)
	if err != nil && !errors.Is(err, extract.ErrExhausted) {
		return nil, false, fmt.Errorf("ingest: extract %s: %w", path, err)
	}
	if res == nil {
		res = &extract.Result{Tier: extract.TierNone}
	}
	if errors.Is(err, extract.ErrExhausted) {
		log.Warn("extraction exhausted, recording empty item")
	}

	content := &store.Content{
		ID:             idgen.New(),
		SourcePath:     path,
		FileSignature:  sig,
		ContentType:    string(cls.Type),
		Title:          res.Title,
		RawText:        res.RawText,
		ProcessedText:  res.ProcessedText,
		ExtractionTier: res.Tier,
		MetadataJSON:   metadataJSON(res.Metadata),
		LowConfidence:  cls.LowConfidence || res.LowConfidence,
	}

	summary, llmTags, llmTasks := in.enrich(ctx, log, res.ProcessedText,
		analysis.SummaryContext{Title: res.Title, Source: path})
	content.Summary = summary

	created, err := in.cfg.Store.UpsertContent(ctx, content)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Another worker finished the same file between the signature check
		// and the upsert. Its tags and tasks are already in.
		return content, false, nil
	}

	if err := in.persistTags(ctx, content.ID, res.ProcessedText, llmTags); err != nil {
		log.Warn("persist tags failed", "error", err)
	}
	if err := in.persistTasks(ctx, content.ID, res.ProcessedText, llmTasks); err != nil {
		log.Warn("persist tasks failed", "error", err)
	}

	log.Info("file processed", "content_id", content.ID, "tier", content.ExtractionTier)
	return content, true, nil
}

// enrich runs the optional model steps. Any ErrUnavailable degrades to
// extraction-only output; other model errors are logged and skipped the
// same way.
func (in *Ingester) enrich(ctx context.Context, log *slog.Logger, text string, sc analysis.SummaryContext) (summary string, tags []string, items []analysis.Task) {
	if in.cfg.Analyzer == nil || !in.cfg.Analyzer.Available() || strings.TrimSpace(text) == "" {
		return "", nil, nil
	}

	summary, err := in.cfg.Analyzer.Summarize(ctx, text, sc)
	if err != nil {
		log.Warn("summarize skipped", "error", err)
	}
	tags, err = in.cfg.Analyzer.ExtractTags(ctx, text)
	if err != nil {
		log.Warn("tag extraction skipped", "error", err)
	}
	items, err = in.cfg.Analyzer.ExtractTasks(ctx, text)
	if err != nil {
		log.Warn("task extraction skipped", "error", err)
	}
	return summary, tags, items
}

// persistTags stores inline hashtags first (position order), then any
// model-suggested tags. Duplicates collapse in the store.
func (in *Ingester) persistTags(ctx context.Context, contentID, text string, llmTags []string) error {
	var rows []store.Tag
	pos := 0
	seen := map[string]bool{}
	for _, m := range hashtagRe.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		rows = append(rows, store.Tag{ContentID: contentID, Tag: tag, Pos: pos, Source: "hashtag"})
		pos++
	}
	for _, tag := range llmTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		rows = append(rows, store.Tag{ContentID: contentID, Tag: tag, Pos: pos, Source: "llm"})
		pos++
	}
	return in.cfg.Store.AddTags(ctx, rows)
}

// persistTasks stores marker-scanned tasks first, then model finds that
// don't duplicate them.
func (in *Ingester) persistTasks(ctx context.Context, contentID, text string, llmTasks []analysis.Task) error {
	seen := map[string]bool{}
	for _, c := range tasks.Extract(text) {
		key := strings.ToLower(c.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		t := &store.Task{ID: idgen.New(), ContentID: contentID, Text: c.Text, DueDate: c.DueDate, Source: "marker"}
		if err := in.cfg.Store.AddTask(ctx, t); err != nil {
			return err
		}
	}
	for _, c := range llmTasks {
		key := strings.ToLower(strings.TrimSpace(c.Text))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		t := &store.Task{ID: idgen.New(), ContentID: contentID, Text: c.Text, DueDate: c.DueDate, Source: "llm"}
		if err := in.cfg.Store.AddTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// fileSignature hashes the file's bytes and returns the first 512 bytes
// for magic-number sniffing.
func fileSignature(path string) (sig string, sniff []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", nil, err
	}
	head = head[:n]

	h := sha256.New()
	h.Write(head)
	if _, err := io.Copy(h, f); err != nil {
		return "", nil, err
	}
	return hex.EncodeToString(h.Sum(nil)), head, nil
}

func metadataJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
