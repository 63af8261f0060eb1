// Package digest aggregates processed notes into periodic digests.
//
// A generation run has four stages: windowing (pick the half-open period),
// selection (load the window's content in creation order), synthesis (model
// or deterministic fallback), and persistence (append a digest row and
// write the markdown file). Runs are append-only: regenerating a period
// produces a new digest alongside the old one.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/notemill/extract"
	"github.com/hazyhaar/notemill/idgen"
	"github.com/hazyhaar/notemill/store"
)

// Digest types.
const (
	TypeWeekly  = "weekly"
	TypeMonthly = "monthly"
	TypeTasks   = "tasks"
	TypeTopics  = "topics"
	TypeTrends  = "trends"
)

// ErrGenerationInFlight signals that a digest of the same type and period
// is already being generated; the caller should not start a second run.
var ErrGenerationInFlight = errors.New("digest: generation already in flight")

// ErrEmptySynthesis signals that the model returned an empty body for a
// non-empty window. The run is aborted; nothing is persisted.
var ErrEmptySynthesis = errors.New("digest: synthesis produced no content")

// ErrUnknownType signals an unrecognized digest type.
var ErrUnknownType = errors.New("digest: unknown digest type")

// Synthesizer is the analysis-client surface the aggregator needs.
type Synthesizer interface {
	SynthesizeDigest(ctx context.Context, periodLabel string, summaries []string) (string, error)
	AnalyzeTrends(ctx context.Context, recent, previous []string) (string, error)
	Available() bool
}

// Config wires the Aggregator.
type Config struct {
	Store  *store.Store
	Model  Synthesizer // may be nil: synthesis falls back to plain listings
	OutDir string      // digest markdown output directory
	// WeekStart aligns weekly windows. Default: Monday.
	WeekStart time.Weekday
	Logger    *slog.Logger
	// Now is overridable in tests. Default: time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Aggregator generates digests. One instance serializes concurrent runs of
// the same type and period through its in-flight registry.
type Aggregator struct {
	cfg      Config
	mu       sync.Mutex
	inflight map[string]bool
}

// New creates an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("digest: Store is required")
	}
	if cfg.OutDir == "" {
		return nil, fmt.Errorf("digest: OutDir is required")
	}
	cfg.defaults()
	return &Aggregator{cfg: cfg, inflight: make(map[string]bool)}, nil
}

// WindowFor computes the period a digest of the given type covers at ref.
// Task digests are snapshots rather than period aggregations; they use the
// weekly window for labeling only.
func (a *Aggregator) WindowFor(digestType string, ref time.Time) (Window, error) {
	switch digestType {
	case TypeWeekly, TypeTasks, TypeTopics, TypeTrends:
		return WeeklyWindow(ref, a.cfg.WeekStart), nil
	case TypeMonthly:
		return MonthlyWindow(ref), nil
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownType, digestType)
	}
}

// Generate runs the full pipeline for one digest. An empty window is not an
// error: it yields a valid digest saying so. A second call for the same
// type and period while one is running returns ErrGenerationInFlight.
func (a *Aggregator) Generate(ctx context.Context, digestType string, ref time.Time) (*store.Digest, error) {
	w, err := a.WindowFor(digestType, ref)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%d", digestType, w.StartMs())
	a.mu.Lock()
	if a.inflight[key] {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", ErrGenerationInFlight, digestType, w.Label())
	}
	a.inflight[key] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.inflight, key)
		a.mu.Unlock()
	}()

	log := a.cfg.Logger.With("digest_type", digestType, "period", w.Label())
	log.Info("digest generation started")

	body, count, err := a.synthesize(ctx, digestType, w)
	if err != nil {
		return nil, err
	}

	topTags, err := a.cfg.Store.TagCounts(ctx, w.StartMs(), w.EndMs(), 10)
	if err != nil {
		return nil, err
	}

	doc := buildDocument(digestType, w, body, topTags, a.cfg.Now().UTC())
	path, err := writeDigestFile(a.cfg.OutDir, digestType, w, doc)
	if err != nil {
		return nil, err
	}

	d := &store.Digest{
		ID:           idgen.New(),
		DigestType:   digestType,
		PeriodStart:  w.StartMs(),
		PeriodEnd:    w.EndMs(),
		Body:         doc,
		FilePath:     path,
		ContentCount: count,
	}
	if err := a.cfg.Store.InsertDigest(ctx, d); err != nil {
		// Don't leave an orphan digest file with no backing row.
		os.Remove(path)
		return nil, err
	}

	log.Info("digest generated", "digest_id", d.ID, "items", count, "file", path)
	return d, nil
}

// synthesize produces the digest body and the number of items it covers.
func (a *Aggregator) synthesize(ctx context.Context, digestType string, w Window) (string, int, error) {
	switch digestType {
	case TypeWeekly, TypeMonthly:
		return a.synthesizePeriod(ctx, w)
	case TypeTasks:
		return a.synthesizeTasks(ctx)
	case TypeTopics:
		return a.synthesizeTopics(ctx, w)
	case TypeTrends:
		return a.synthesizeTrends(ctx, w)
	default:
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownType, digestType)
	}
}

func (a *Aggregator) synthesizePeriod(ctx context.Context, w Window) (string, int, error) {
	items, err := a.cfg.Store.ContentInWindow(ctx, w.StartMs(), w.EndMs())
	if err != nil {
		return "", 0, err
	}
	if len(items) == 0 {
		return "No notes were captured in this period.", 0, nil
	}

	summaries := make([]string, 0, len(items))
	for _, c := range items {
		summaries = append(summaries, itemSummary(c))
	}
	gap := textGapNote(items)

	// A configured model that fails aborts the run; the listing fallback
	// exists only for installs with no model at all.
	if a.cfg.Model != nil && a.cfg.Model.Available() {
		body, err := a.cfg.Model.SynthesizeDigest(ctx, w.Label(), summaries)
		if err != nil {
			return "", 0, fmt.Errorf("digest: synthesize %s: %w", w.Label(), err)
		}
		if strings.TrimSpace(body) == "" {
			return "", 0, ErrEmptySynthesis
		}
		return body + gap, len(items), nil
	}

	var sb strings.Builder
	sb.WriteString("## Captured notes\n\n")
	for _, s := range summaries {
		sb.WriteString("- " + s + "\n")
	}
	return sb.String() + gap, len(items), nil
}

// textGapNote reports how many selected items carry no extracted text, so
// the digest admits the gap instead of silently skipping those notes.
func textGapNote(items []*store.Content) string {
	failed := 0
	for _, c := range items {
		if strings.TrimSpace(c.ProcessedText) == "" {
			failed++
		}
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n%d item(s) recognized but text unavailable.", failed)
}

func (a *Aggregator) synthesizeTasks(ctx context.Context) (string, int, error) {
	open, err := a.cfg.Store.ListTasks(ctx, false, 200)
	if err != nil {
		return "", 0, err
	}
	if len(open) == 0 {
		return "No open tasks. Clean slate.", 0, nil
	}

	var dated, undated []*store.Task
	for _, t := range open {
		if t.DueDate != "" {
			dated = append(dated, t)
		} else {
			undated = append(undated, t)
		}
	}

	var sb strings.Builder
	if len(dated) > 0 {
		sb.WriteString("## Due\n\n")
		for _, t := range dated {
			fmt.Fprintf(&sb, "- [ ] %s (due %s)\n", t.Text, t.DueDate)
		}
	}
	if len(undated) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## Someday\n\n")
		for _, t := range undated {
			fmt.Fprintf(&sb, "- [ ] %s\n", t.Text)
		}
	}
	return sb.String(), len(open), nil
}

func (a *Aggregator) synthesizeTopics(ctx context.Context, w Window) (string, int, error) {
	counts, err := a.cfg.Store.TagCounts(ctx, w.StartMs(), w.EndMs(), 25)
	if err != nil {
		return "", 0, err
	}
	if len(counts) == 0 {
		return "No tagged notes in this period.", 0, nil
	}
	var sb strings.Builder
	sb.WriteString("## Topics this period\n\n")
	for _, tc := range counts {
		fmt.Fprintf(&sb, "- #%s (%d)\n", tc.Tag, tc.Count)
	}
	return sb.String(), len(counts), nil
}

func (a *Aggregator) synthesizeTrends(ctx context.Context, w Window) (string, int, error) {
	prev := PreviousWindow(w)
	recent, err := a.cfg.Store.ContentInWindow(ctx, w.StartMs(), w.EndMs())
	if err != nil {
		return "", 0, err
	}
	previous, err := a.cfg.Store.ContentInWindow(ctx, prev.StartMs(), prev.EndMs())
	if err != nil {
		return "", 0, err
	}
	if len(recent) == 0 && len(previous) == 0 {
		return "Not enough notes to compare periods.", 0, nil
	}

	if a.cfg.Model != nil && a.cfg.Model.Available() {
		body, err := a.cfg.Model.AnalyzeTrends(ctx, summaryList(recent), summaryList(previous))
		if err != nil {
			return "", 0, fmt.Errorf("digest: trend analysis %s: %w", w.Label(), err)
		}
		if strings.TrimSpace(body) == "" {
			return "", 0, ErrEmptySynthesis
		}
		return body, len(recent), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Activity\n\n- This period: %d notes\n- Previous period: %d notes\n",
		len(recent), len(previous))
	return sb.String(), len(recent), nil
}

func summaryList(items []*store.Content) []string {
	out := make([]string, 0, len(items))
	for _, c := range items {
		out = append(out, itemSummary(c))
	}
	return out
}

// itemSummary renders one content item as a single digest input line,
// preferring the stored summary over a raw snippet.
func itemSummary(c *store.Content) string {
	text := c.Summary
	if text == "" {
		text = strings.TrimSpace(strings.TrimPrefix(c.ProcessedText, extract.VisionSentinel))
	}
	if text == "" {
		text = "(no text extracted)"
	}
	text = strings.Join(strings.Fields(text), " ")
	if len([]rune(text)) > 200 {
		text = string([]rune(text)[:200]) + "..."
	}
	if c.Title != "" && !strings.HasPrefix(text, c.Title) {
		return fmt.Sprintf("%s (%s): %s", c.Title, c.ContentType, text)
	}
	return fmt.Sprintf("(%s) %s", c.ContentType, text)
}
