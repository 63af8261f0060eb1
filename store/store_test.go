package store

import (
	"context"
	"testing"

	"github.com/hazyhaar/notemill/dbopen"
	"github.com/hazyhaar/notemill/idgen"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewStore(db)
}

func newContent(path, sig string, createdAt int64) *Content {
	return &Content{
		ID:            idgen.New(),
		SourcePath:    path,
		FileSignature: sig,
		ContentType:   "document",
		Title:         "t",
		ProcessedText: "body",
		CreatedAt:     createdAt,
	}
}

func TestUpsertContentIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := newContent("/inbox/a.md", "sig-1", 0)
	created, err := s.UpsertContent(ctx, first)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatal("first upsert should create")
	}

	// Same key again: no new row, existing record comes back.
	dup := newContent("/inbox/a.md", "sig-1", 0)
	dup.Title = "different title"
	created, err = s.UpsertContent(ctx, dup)
	if err != nil {
		t.Fatalf("upsert dup: %v", err)
	}
	if created {
		t.Error("duplicate key should not create")
	}
	if dup.ID != first.ID {
		t.Errorf("duplicate should resolve to existing ID: %s vs %s", dup.ID, first.ID)
	}
	if dup.Title != "t" {
		t.Errorf("existing row was overwritten: title %q", dup.Title)
	}

	// Same path, new signature: the file changed, new row.
	changed := newContent("/inbox/a.md", "sig-2", 0)
	created, err = s.UpsertContent(ctx, changed)
	if err != nil {
		t.Fatalf("upsert changed: %v", err)
	}
	if !created {
		t.Error("changed signature should create a new row")
	}
}

func TestContentInWindowOrderAndBounds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, c := range []*Content{
		newContent("/inbox/c.md", "s3", 3000),
		newContent("/inbox/a.md", "s1", 1000),
		newContent("/inbox/b.md", "s2", 2000),
		newContent("/inbox/d.md", "s4", 4000), // at end bound, excluded
	} {
		if _, err := s.UpsertContent(ctx, c); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.ContentInWindow(ctx, 1000, 4000)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d items, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].CreatedAt > got[i].CreatedAt {
			t.Errorf("window not ascending at %d", i)
		}
	}
	if got[0].SourcePath != "/inbox/a.md" || got[2].SourcePath != "/inbox/c.md" {
		t.Errorf("order: %s .. %s", got[0].SourcePath, got[2].SourcePath)
	}
}

func TestContentWindowTiebreakByID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := newContent("/inbox/x.md", "sx", 5000)
	a.ID = "bbb"
	b := newContent("/inbox/y.md", "sy", 5000)
	b.ID = "aaa"
	for _, c := range []*Content{a, b} {
		if _, err := s.UpsertContent(ctx, c); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.ContentInWindow(ctx, 0, 10000)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(got) != 2 || got[0].ID != "aaa" || got[1].ID != "bbb" {
		t.Errorf("equal timestamps must order by id: %+v", got)
	}
}

func TestTagsDedupAndCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c1 := newContent("/inbox/1.md", "s1", 1000)
	c2 := newContent("/inbox/2.md", "s2", 2000)
	for _, c := range []*Content{c1, c2} {
		if _, err := s.UpsertContent(ctx, c); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	err := s.AddTags(ctx, []Tag{
		{ContentID: c1.ID, Tag: "golang", Pos: 0, Source: "hashtag"},
		{ContentID: c1.ID, Tag: "golang", Pos: 5, Source: "llm"}, // dup, ignored
		{ContentID: c1.ID, Tag: "travel", Pos: 1, Source: "hashtag"},
		{ContentID: c2.ID, Tag: "golang", Pos: 0, Source: "llm"},
	})
	if err != nil {
		t.Fatalf("add tags: %v", err)
	}

	tags, err := s.TagsForContent(ctx, c1.ID)
	if err != nil {
		t.Fatalf("tags for content: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("got %d tags, want 2: %+v", len(tags), tags)
	}
	if tags[0].Tag != "golang" || tags[0].Source != "hashtag" {
		t.Errorf("first insert should win: %+v", tags[0])
	}

	counts, err := s.TagCounts(ctx, 0, 10000, 10)
	if err != nil {
		t.Fatalf("tag counts: %v", err)
	}
	if len(counts) != 2 || counts[0].Tag != "golang" || counts[0].Count != 2 {
		t.Errorf("counts: %+v", counts)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := newContent("/inbox/todo.md", "s1", 1000)
	if _, err := s.UpsertContent(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tk := &Task{ID: idgen.New(), ContentID: c.ID, Text: "call dentist", DueDate: "2025-06-01"}
	if err := s.AddTask(ctx, tk); err != nil {
		t.Fatalf("add task: %v", err)
	}

	open, err := s.ListTasks(ctx, false, 10)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(open) != 1 || open[0].Completed {
		t.Fatalf("open tasks: %+v", open)
	}

	if err := s.UpdateTaskCompletion(ctx, tk.ID, true); err != nil {
		t.Fatalf("complete: %v", err)
	}
	open, err = s.ListTasks(ctx, false, 10)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("completed task still listed as open: %+v", open)
	}

	all, err := s.ListTasks(ctx, true, 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || !all[0].Completed {
		t.Errorf("all tasks: %+v", all)
	}
	if all[0].Text != "call dentist" || all[0].DueDate != "2025-06-01" {
		t.Errorf("completion changed immutable fields: %+v", all[0])
	}

	if err := s.UpdateTaskCompletion(ctx, "missing", true); err == nil {
		t.Error("completing a missing task should fail")
	}
}

func TestDigestAppendOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d1 := &Digest{ID: idgen.New(), DigestType: "weekly", PeriodStart: 0,
		PeriodEnd: 1000, Body: "first run", CreatedAt: 100}
	d2 := &Digest{ID: idgen.New(), DigestType: "weekly", PeriodStart: 0,
		PeriodEnd: 1000, Body: "second run", CreatedAt: 200}
	for _, d := range []*Digest{d1, d2} {
		if err := s.InsertDigest(ctx, d); err != nil {
			t.Fatalf("insert digest: %v", err)
		}
	}

	// Regenerating the same period keeps both rows.
	all, err := s.ListDigests(ctx, "weekly", 10)
	if err != nil {
		t.Fatalf("list digests: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d digests, want 2", len(all))
	}
	if all[0].Body != "second run" {
		t.Errorf("newest first: %q", all[0].Body)
	}

	latest, err := s.LatestDigest(ctx, "weekly")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Body != "second run" {
		t.Errorf("latest: %+v", latest)
	}

	none, err := s.LatestDigest(ctx, "monthly")
	if err != nil {
		t.Fatalf("latest monthly: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for absent type, got %+v", none)
	}
}

func TestSearchContent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := newContent("/inbox/ml.md", "s1", 1000)
	c.Title = "Gradient descent notes"
	c.ProcessedText = "stochastic gradient descent with momentum"
	if _, err := s.UpsertContent(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.SearchContent(ctx, "gradient", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != c.ID {
		t.Errorf("search results: %+v", got)
	}
}
