package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
	"github.com/chengjon/taskmaster-pro-sub002/internal/usage"
)

// Applied one statement at a time; pgx prepares statements and a prepared
// statement cannot contain multiple commands.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		priority     TEXT NOT NULL,
		project_id   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		subtasks     JSONB NOT NULL DEFAULT '[]',
		dependencies JSONB NOT NULL DEFAULT '[]',
		metadata     JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id                TEXT PRIMARY KEY,
		provider          TEXT NOT NULL,
		model             TEXT NOT NULL DEFAULT '',
		operation         TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage_records(provider)`,
}

// postgresStorage implements Storage for PostgreSQL.
type postgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgreSQL creates a pooled PostgreSQL storage, verifies connectivity
// and applies the schema.
func NewPostgreSQL(ctx context.Context, url string, maxConns int) (Storage, error) {
	if url == "" {
		return nil, fmt.Errorf("PostgreSQL URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	} else {
		poolCfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply PostgreSQL schema: %w", err)
		}
	}

	return &postgresStorage{pool: pool}, nil
}

func (s *postgresStorage) Type() string { return TypePostgreSQL }

func (s *postgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStorage) CreateTask(ctx context.Context, task *tasks.Task) error {
	row, err := encodeTask(task)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, project_id,
			created_at, updated_at, subtasks, dependencies, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.Title, task.Description, string(task.Status), string(task.Priority),
		task.ProjectID, task.CreatedAt, task.UpdatedAt,
		row.subtasks, row.dependencies, row.metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

const postgresTaskColumns = `id, title, description, status, priority, project_id,
	created_at, updated_at, subtasks, dependencies, metadata`

func scanPostgresTask(scan func(dest ...any) error) (*tasks.Task, error) {
	var (
		task             tasks.Task
		status, priority string
		subtasks, deps   []byte
		meta             []byte
	)
	err := scan(&task.ID, &task.Title, &task.Description, &status, &priority,
		&task.ProjectID, &task.CreatedAt, &task.UpdatedAt, &subtasks, &deps, &meta)
	if err != nil {
		return nil, err
	}
	task.Status = tasks.Status(status)
	task.Priority = tasks.Priority(priority)
	if err := decodeTask(&task, taskRow{subtasks: subtasks, dependencies: deps, metadata: meta}); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *postgresStorage) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresTaskColumns+` FROM tasks WHERE id = $1`, id)

	task, err := scanPostgresTask(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (s *postgresStorage) ListTasks(ctx context.Context, filter tasks.Filter) ([]*tasks.Task, error) {
	query := `SELECT ` + postgresTaskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(` AND project_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*tasks.Task
	for rows.Next() {
		task, err := scanPostgresTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *postgresStorage) UpdateTask(ctx context.Context, task *tasks.Task) error {
	row, err := encodeTask(task)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET title = $1, description = $2, status = $3, priority = $4,
			project_id = $5, updated_at = $6, subtasks = $7, dependencies = $8, metadata = $9
		WHERE id = $10`,
		task.Title, task.Description, string(task.Status), string(task.Priority),
		task.ProjectID, task.UpdatedAt, row.subtasks, row.dependencies, row.metadata,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

func (s *postgresStorage) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tasks.ErrNotFound
	}
	return nil
}

func (s *postgresStorage) InsertUsage(ctx context.Context, rec *usage.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (id, provider, model, operation,
			prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Provider, rec.Model, rec.Operation,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
