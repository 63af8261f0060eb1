package store

import (
	"context"
	"fmt"
	"time"
)

// AddTask inserts a task extracted from a content item.
func (s *Store) AddTask(ctx context.Context, t *Task) error {
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Source == "" {
		t.Source = "marker"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tasks (id, content_id, text, due_date, completed, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ContentID, t.Text, t.DueDate, boolToInt(t.Completed), t.Source,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	return nil
}

// UpdateTaskCompletion flips a task's completed flag. Text, due date, and
// ownership are immutable after insert, so this is the only task UPDATE in
// the package.
func (s *Store) UpdateTaskCompletion(ctx context.Context, taskID string, completed bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ?`,
		boolToInt(completed), time.Now().UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("update task completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task completion: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update task completion: task %s not found", taskID)
	}
	return nil
}

// ListTasks returns tasks, open items first, then by due date with undated
// items last, then newest first.
func (s *Store) ListTasks(ctx context.Context, includeCompleted bool, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, content_id, text, due_date, completed, source, created_at, updated_at
		FROM tasks`
	if !includeCompleted {
		q += ` WHERE completed = 0`
	}
	q += ` ORDER BY completed ASC,
		CASE WHEN due_date = '' THEN 1 ELSE 0 END ASC, due_date ASC,
		created_at DESC LIMIT ?`

	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// TasksForContent returns the tasks extracted from one item.
func (s *Store) TasksForContent(ctx context.Context, contentID string) ([]*Task, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, content_id, text, due_date, completed, source, created_at, updated_at
		FROM tasks WHERE content_id = ? ORDER BY created_at ASC, id ASC`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*Task, error) {
	var result []*Task
	for rows.Next() {
		var t Task
		var completed int
		if err := rows.Scan(&t.ID, &t.ContentID, &t.Text, &t.DueDate, &completed,
			&t.Source, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Completed = completed != 0
		result = append(result, &t)
	}
	return result, rows.Err()
}
