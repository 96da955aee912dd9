// Package database provides the sqlite-backed task index: a queryable
// registry of tasks and their terminal states. The filesystem task
// directories stay canonical; the index exists for listing and lookup.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TaskRecord is one indexed task.
type TaskRecord struct {
	TaskID       string    `json:"task_id"`
	ParentTaskID string    `json:"parent_task_id,omitempty"`
	OriginalTask string    `json:"original_task"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	TaskDir      string    `json:"task_dir"`
	FinalAnswer  string    `json:"final_answer,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TaskIndex is the sqlite task registry.
type TaskIndex struct {
	db *sql.DB
}

const taskIndexSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id        TEXT PRIMARY KEY,
	parent_task_id TEXT,
	original_task  TEXT NOT NULL,
	mode           TEXT NOT NULL,
	status         TEXT NOT NULL,
	task_dir       TEXT NOT NULL,
	final_answer   TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
`

// OpenTaskIndex opens (and if necessary creates) the task index at dbPath.
func OpenTaskIndex(dbPath string) (*TaskIndex, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(taskIndexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &TaskIndex{db: db}, nil
}

// Close closes the underlying database.
func (i *TaskIndex) Close() error {
	return i.db.Close()
}

// UpsertTask inserts or replaces a task record.
func (i *TaskIndex) UpsertTask(ctx context.Context, record TaskRecord) error {
	query := `
		INSERT INTO tasks (task_id, parent_task_id, original_task, mode, status, task_dir, final_answer, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			mode = excluded.mode,
			task_dir = excluded.task_dir,
			final_answer = excluded.final_answer,
			updated_at = excluded.updated_at
	`
	_, err := i.db.ExecContext(ctx, query,
		record.TaskID, nullable(record.ParentTaskID), record.OriginalTask, record.Mode,
		record.Status, record.TaskDir, nullable(record.FinalAnswer),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

// GetTask retrieves one task record by id.
func (i *TaskIndex) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	query := `
		SELECT task_id, parent_task_id, original_task, mode, status, task_dir, final_answer, created_at, updated_at
		FROM tasks WHERE task_id = ?
	`
	record, err := scanTask(i.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return record, nil
}

// ListTasks returns task records newest first, with the total count.
func (i *TaskIndex) ListTasks(ctx context.Context, limit, offset int) ([]TaskRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := i.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := `
		SELECT task_id, parent_task_id, original_task, mode, status, task_dir, final_answer, created_at, updated_at
		FROM tasks ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := i.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		record, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return records, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	var record TaskRecord
	var parentTaskID, finalAnswer *string
	err := row.Scan(
		&record.TaskID, &parentTaskID, &record.OriginalTask, &record.Mode,
		&record.Status, &record.TaskDir, &finalAnswer,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parentTaskID != nil {
		record.ParentTaskID = *parentTaskID
	}
	if finalAnswer != nil {
		record.FinalAnswer = *finalAnswer
	}
	return &record, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
