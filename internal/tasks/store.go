package tasks

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a task does not exist.
var ErrNotFound = errors.New("task not found")

// Filter narrows ListTasks results. Zero values match everything.
type Filter struct {
	Status    Status
	ProjectID string
}

// Store is the persistence contract for tasks. Implementations live in
// internal/storage.
type Store interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, filter Filter) ([]*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	DeleteTask(ctx context.Context, id string) error
}
