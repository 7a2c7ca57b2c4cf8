package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
	"github.com/chengjon/taskmaster-pro-sub002/internal/usage"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	priority      TEXT NOT NULL,
	project_id    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	subtasks      TEXT NOT NULL DEFAULT '[]',
	dependencies  TEXT NOT NULL DEFAULT '[]',
	metadata      TEXT NOT NULL DEFAULT 'null'
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);

CREATE TABLE IF NOT EXISTS usage_records (
	id                TEXT PRIMARY KEY,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	operation         TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage_records(provider);
`

// sqliteStorage implements Storage over a SQLite file.
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the SQLite database at path and
// applies the schema.
func NewSQLite(path string) (Storage, error) {
	if path == "" {
		path = "data/taskmaster.db"
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) Type() string { return TypeSQLite }

func (s *sqliteStorage) Close() error { return s.db.Close() }

// taskRow is the JSON-column encoding helper shared by the SQL backends.
type taskRow struct {
	subtasks     []byte
	dependencies []byte
	metadata     []byte
}

func encodeTask(task *tasks.Task) (taskRow, error) {
	subtasks, err := json.Marshal(task.Subtasks)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to encode subtasks: %w", err)
	}
	deps, err := json.Marshal(task.Dependencies)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to encode dependencies: %w", err)
	}
	meta, err := json.Marshal(task.Metadata)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return taskRow{subtasks: subtasks, dependencies: deps, metadata: meta}, nil
}

func decodeTask(task *tasks.Task, row taskRow) error {
	if len(row.subtasks) > 0 {
		if err := json.Unmarshal(row.subtasks, &task.Subtasks); err != nil {
			return fmt.Errorf("failed to decode subtasks: %w", err)
		}
	}
	if task.Subtasks == nil {
		task.Subtasks = []tasks.SubTask{}
	}
	if len(row.dependencies) > 0 {
		if err := json.Unmarshal(row.dependencies, &task.Dependencies); err != nil {
			return fmt.Errorf("failed to decode dependencies: %w", err)
		}
	}
	if len(row.metadata) > 0 {
		if err := json.Unmarshal(row.metadata, &task.Metadata); err != nil {
			return fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return nil
}

func (s *sqliteStorage) CreateTask(ctx context.Context, task *tasks.Task) error {
	row, err := encodeTask(task)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, project_id,
			created_at, updated_at, subtasks, dependencies, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, string(task.Status), string(task.Priority),
		task.ProjectID, task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano),
		string(row.subtasks), string(row.dependencies), string(row.metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *sqliteStorage) scanTask(scan func(dest ...any) error) (*tasks.Task, error) {
	var (
		task                 tasks.Task
		status, priority     string
		createdAt, updatedAt string
		subtasks, deps, meta string
	)
	err := scan(&task.ID, &task.Title, &task.Description, &status, &priority,
		&task.ProjectID, &createdAt, &updatedAt, &subtasks, &deps, &meta)
	if err != nil {
		return nil, err
	}

	task.Status = tasks.Status(status)
	task.Priority = tasks.Priority(priority)
	if task.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if err := decodeTask(&task, taskRow{
		subtasks:     []byte(subtasks),
		dependencies: []byte(deps),
		metadata:     []byte(meta),
	}); err != nil {
		return nil, err
	}
	return &task, nil
}

const sqliteTaskColumns = `id, title, description, status, priority, project_id,
	created_at, updated_at, subtasks, dependencies, metadata`

func (s *sqliteStorage) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTaskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := s.scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (s *sqliteStorage) ListTasks(ctx context.Context, filter tasks.Filter) ([]*tasks.Task, error) {
	query := `SELECT ` + sqliteTaskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*tasks.Task
	for rows.Next() {
		task, err := s.scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *sqliteStorage) UpdateTask(ctx context.Context, task *tasks.Task) error {
	row, err := encodeTask(task)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
			project_id = ?, updated_at = ?, subtasks = ?, dependencies = ?, metadata = ?
		WHERE id = ?`,
		task.Title, task.Description, string(task.Status), string(task.Priority),
		task.ProjectID, task.UpdatedAt.Format(time.RFC3339Nano),
		string(row.subtasks), string(row.dependencies), string(row.metadata),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

func (s *sqliteStorage) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

func (s *sqliteStorage) InsertUsage(ctx context.Context, rec *usage.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, provider, model, operation,
			prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.Model, rec.Operation,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
