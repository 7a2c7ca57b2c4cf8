package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
	"github.com/chengjon/taskmaster-pro-sub002/internal/usage"
)

func newTestSQLite(t *testing.T) Storage {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTask(title string) *tasks.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &tasks.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    tasks.StatusPending,
		Priority:  tasks.PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
		Subtasks:  []tasks.SubTask{},
	}
}

func TestSQLiteTaskRoundTrip(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	task := newTask("ship release")
	task.Description = "cut the v2 release"
	task.ProjectID = "proj-1"
	task.Dependencies = []string{"dep-1", "dep-2"}
	task.Metadata = map[string]any{"source": "import"}
	task.Subtasks = []tasks.SubTask{{
		ID:        uuid.NewString(),
		ParentID:  task.ID,
		Title:     "write changelog",
		Status:    tasks.StatusPending,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}}

	require.NoError(t, store.CreateTask(ctx, task))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Description, got.Description)
	assert.Equal(t, tasks.StatusPending, got.Status)
	assert.Equal(t, tasks.PriorityMedium, got.Priority)
	assert.Equal(t, task.ProjectID, got.ProjectID)
	assert.Equal(t, task.Dependencies, got.Dependencies)
	assert.Equal(t, "import", got.Metadata["source"])
	require.Len(t, got.Subtasks, 1)
	assert.Equal(t, "write changelog", got.Subtasks[0].Title)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteGetTaskNotFound(t *testing.T) {
	store := newTestSQLite(t)

	_, err := store.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestSQLiteUpdateTask(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	task := newTask("draft")
	require.NoError(t, store.CreateTask(ctx, task))

	task.Title = "final"
	task.Status = tasks.StatusDone
	task.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateTask(ctx, task))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.Equal(t, tasks.StatusDone, got.Status)
}

func TestSQLiteUpdateTaskNotFound(t *testing.T) {
	store := newTestSQLite(t)

	task := newTask("ghost")
	err := store.UpdateTask(context.Background(), task)
	assert.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestSQLiteDeleteTask(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	task := newTask("short lived")
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, store.DeleteTask(ctx, task.ID))

	_, err := store.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, tasks.ErrNotFound)

	assert.ErrorIs(t, store.DeleteTask(ctx, task.ID), tasks.ErrNotFound)
}

func TestSQLiteListTasksFilter(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	pending := newTask("pending one")
	pending.ProjectID = "alpha"
	done := newTask("done one")
	done.Status = tasks.StatusDone
	done.ProjectID = "beta"
	require.NoError(t, store.CreateTask(ctx, pending))
	require.NoError(t, store.CreateTask(ctx, done))

	all, err := store.ListTasks(ctx, tasks.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyDone, err := store.ListTasks(ctx, tasks.Filter{Status: tasks.StatusDone})
	require.NoError(t, err)
	require.Len(t, onlyDone, 1)
	assert.Equal(t, done.ID, onlyDone[0].ID)

	alpha, err := store.ListTasks(ctx, tasks.Filter{ProjectID: "alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, pending.ID, alpha[0].ID)
}

func TestSQLiteInsertUsage(t *testing.T) {
	store := newTestSQLite(t)

	rec := &usage.Record{
		ID:               uuid.NewString(),
		Provider:         "openai",
		Model:            "gpt-4o-mini",
		Operation:        usage.OpGenerateText,
		PromptTokens:     12,
		CompletionTokens: 34,
		TotalTokens:      46,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.InsertUsage(context.Background(), rec))
}

func TestSQLiteConcurrentWrites(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	const goroutines = 8
	const writesPerGoroutine = 20

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*writesPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < writesPerGoroutine; j++ {
				task := newTask(fmt.Sprintf("task-%d-%d", id, j))
				if err := store.CreateTask(ctx, task); err != nil {
					errs <- err
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	all, err := store.ListTasks(ctx, tasks.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, goroutines*writesPerGoroutine)
}
