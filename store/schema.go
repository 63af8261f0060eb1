package store

import "database/sql"

// Schema is the complete notes schema. All statements are idempotent.
const Schema = `
-- Processed content items
CREATE TABLE IF NOT EXISTS content (
    id              TEXT PRIMARY KEY,
    source_path     TEXT NOT NULL,
    file_signature  TEXT NOT NULL,
    content_type    TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    raw_text        TEXT NOT NULL DEFAULT '',
    processed_text  TEXT NOT NULL DEFAULT '',
    summary         TEXT NOT NULL DEFAULT '',
    extraction_tier TEXT NOT NULL DEFAULT '',
    metadata_json   TEXT NOT NULL DEFAULT '{}',
    low_confidence  INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL,
    UNIQUE(source_path, file_signature)
);
CREATE INDEX IF NOT EXISTS idx_content_created ON content(created_at, id);
CREATE INDEX IF NOT EXISTS idx_content_type ON content(content_type);

-- FTS5 over titles and processed text
CREATE VIRTUAL TABLE IF NOT EXISTS content_fts USING fts5(
    title, processed_text, content='content', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);
CREATE TRIGGER IF NOT EXISTS content_ai AFTER INSERT ON content BEGIN
    INSERT INTO content_fts(rowid, title, processed_text) VALUES (new.rowid, new.title, new.processed_text);
END;
CREATE TRIGGER IF NOT EXISTS content_ad AFTER DELETE ON content BEGIN
    INSERT INTO content_fts(content_fts, rowid, title, processed_text) VALUES('delete', old.rowid, old.title, old.processed_text);
END;
CREATE TRIGGER IF NOT EXISTS content_au AFTER UPDATE ON content BEGIN
    INSERT INTO content_fts(content_fts, rowid, title, processed_text) VALUES('delete', old.rowid, old.title, old.processed_text);
    INSERT INTO content_fts(rowid, title, processed_text) VALUES (new.rowid, new.title, new.processed_text);
END;

-- Tags, one row per (content, tag)
CREATE TABLE IF NOT EXISTS tags (
    content_id  TEXT NOT NULL REFERENCES content(id) ON DELETE CASCADE,
    tag         TEXT NOT NULL,
    pos         INTEGER NOT NULL DEFAULT 0,
    source      TEXT NOT NULL DEFAULT 'hashtag',
    PRIMARY KEY (content_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

-- Tasks; only completed may change after insert
CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    content_id  TEXT NOT NULL REFERENCES content(id) ON DELETE CASCADE,
    text        TEXT NOT NULL,
    due_date    TEXT NOT NULL DEFAULT '',
    completed   INTEGER NOT NULL DEFAULT 0,
    source      TEXT NOT NULL DEFAULT 'marker',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_content ON tasks(content_id);
CREATE INDEX IF NOT EXISTS idx_tasks_open ON tasks(completed, due_date);

-- Digests, append-only
CREATE TABLE IF NOT EXISTS digests (
    id            TEXT PRIMARY KEY,
    digest_type   TEXT NOT NULL,
    period_start  INTEGER NOT NULL,
    period_end    INTEGER NOT NULL,
    body          TEXT NOT NULL,
    file_path     TEXT NOT NULL DEFAULT '',
    content_count INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digests_type_time ON digests(digest_type, period_start, created_at);
`

// ApplySchema creates all tables, indexes, and triggers.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
