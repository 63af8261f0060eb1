// Package tasks extracts task lines from note text and owns the single
// mutation path for task completion.
//
// Extraction runs exactly once per content item — the ingest layer guards
// re-extraction via the content idempotency key, so a re-dropped file never
// duplicates its tasks.
package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Candidate is a task line found in extracted text.
type Candidate struct {
	Text    string
	DueDate string // YYYY-MM-DD, empty when absent
}

// markers recognised at the start of a line. Checked in order; the first
// match wins so "- [ ]" is not re-matched by "[]".
var markers = []string{"- [ ]", "* [ ]", "[] ", "TODO:", "TASK:", "#task"}

var dueRe = regexp.MustCompile(`\bdue:(\d{4}-\d{2}-\d{2})\b`)

// Extract scans text line-by-line for task markers. Lines already checked
// off ("- [x]") are ignored — only open items become tasks.
func Extract(text string) []Candidate {
	if text == "" {
		return nil
	}
	var out []Candidate
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, m := range markers {
			if !strings.HasPrefix(line, m) {
				continue
			}
			body := strings.TrimSpace(strings.TrimPrefix(line, m))
			if body == "" {
				break
			}
			c := Candidate{Text: body}
			if loc := dueRe.FindStringSubmatch(body); loc != nil {
				if _, err := time.Parse("2006-01-02", loc[1]); err == nil {
					c.DueDate = loc[1]
					c.Text = strings.TrimSpace(dueRe.ReplaceAllString(body, ""))
				}
			}
			if c.Text != "" {
				out = append(out, c)
			}
			break
		}
	}
	return out
}

// Store is the slice of the content store the tracker needs.
type Store interface {
	UpdateTaskCompletion(ctx context.Context, taskID string, completed bool) error
}

// Tracker exposes the completion contract. Toggling a task never touches
// the owning content record, its tags, or its text.
type Tracker struct {
	store Store
}

// NewTracker creates a Tracker over the given store.
func NewTracker(s Store) *Tracker {
	return &Tracker{store: s}
}

// SetCompleted flips a task's completion state. This is the only mutation
// the pipeline permits on a task after extraction.
func (t *Tracker) SetCompleted(ctx context.Context, taskID string, completed bool) error {
	if err := t.store.UpdateTaskCompletion(ctx, taskID, completed); err != nil {
		return fmt.Errorf("tasks: update completion %s: %w", taskID, err)
	}
	return nil
}
