package store

// Content is one processed inbox item. The pair (SourcePath, FileSignature)
// is the idempotency key: re-dropping an unchanged file resolves to the
// existing row.
type Content struct {
	ID             string
	SourcePath     string
	FileSignature  string // sha256 of file bytes
	ContentType    string
	Title          string
	RawText        string
	ProcessedText  string
	Summary        string
	ExtractionTier string
	MetadataJSON   string
	LowConfidence  bool
	CreatedAt      int64 // unix ms
	UpdatedAt      int64
}

// Tag is one tag occurrence on a content item. Pos preserves the order of
// first appearance in the text; Source records whether the tag came from an
// inline hashtag or the model.
type Tag struct {
	ContentID string
	Tag       string
	Pos       int
	Source    string // "hashtag" or "llm"
}

// TagCount is an aggregation row for digest rollups.
type TagCount struct {
	Tag   string
	Count int
}

// Task is an open item extracted from a note. After insertion only the
// Completed flag may change.
type Task struct {
	ID        string
	ContentID string
	Text      string
	DueDate   string // YYYY-MM-DD, empty when absent
	Completed bool
	Source    string // "marker" or "llm"
	CreatedAt int64
	UpdatedAt int64
}

// Digest is one generated digest. Rows are append-only: regenerating a
// period inserts a new row rather than replacing the old one.
type Digest struct {
	ID           string
	DigestType   string // "weekly", "monthly", "tasks", "topics", "trends"
	PeriodStart  int64  // unix ms, inclusive
	PeriodEnd    int64  // unix ms, exclusive
	Body         string
	FilePath     string
	ContentCount int
	CreatedAt    int64
}
