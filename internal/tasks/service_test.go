package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

// memStore is an in-memory Store for service tests.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]*Task{}}
}

func (s *memStore) clone(t *Task) *Task {
	data, _ := json.Marshal(t)
	var out Task
	_ = json.Unmarshal(data, &out)
	return &out
}

func (s *memStore) CreateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = s.clone(task)
	return nil
}

func (s *memStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(t), nil
}

func (s *memStore) ListTasks(_ context.Context, filter Filter) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, s.clone(t))
	}
	return out, nil
}

func (s *memStore) UpdateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[task.ID] = s.clone(task)
	return nil
}

func (s *memStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

// stubProvider returns canned generation results.
type stubProvider struct {
	object json.RawMessage
	err    error
}

func (p *stubProvider) Initialize(context.Context, core.ProviderConfig) error { return nil }
func (p *stubProvider) GenerateText(context.Context, *core.GenerateRequest) (*core.GenerateResult, error) {
	return &core.GenerateResult{Text: "text"}, nil
}
func (p *stubProvider) GenerateObject(context.Context, *core.ObjectRequest) (*core.ObjectResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &core.ObjectResult{Object: p.object, Usage: core.Usage{TotalTokens: 10}}, nil
}
func (p *stubProvider) StreamText(context.Context, *core.GenerateRequest) (core.TextStream, error) {
	return nil, io.EOF
}
func (p *stubProvider) IsConfigured() bool          { return true }
func (p *stubProvider) RequiredAPIKeyName() string  { return "STUB_API_KEY" }

// stubGenerator hands out fixed primary/fallback providers.
type stubGenerator struct {
	primary    core.Provider
	fallback   core.Provider
	primaryErr error
}

func (g *stubGenerator) GetPrimaryProvider(context.Context) (core.Provider, error) {
	return g.primary, g.primaryErr
}

func (g *stubGenerator) GetFallbackProvider(context.Context) (core.Provider, error) {
	if g.fallback != nil {
		return g.fallback, nil
	}
	return g.primary, g.primaryErr
}

func TestCreateTask(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "  Ship it  ", ProjectID: "p1"})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Ship it", task.Title)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.False(t, task.CreatedAt.IsZero())

	got, err := svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestCreateTaskValidation(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Title: "   "})
	assert.Error(t, err)

	long := make([]byte, MaxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = svc.Create(ctx, CreateInput{Title: string(long)})
	assert.Error(t, err)

	_, err = svc.Create(ctx, CreateInput{Title: "ok", Priority: "urgent"})
	assert.Error(t, err)
}

func TestUpdateTaskPatch(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Original"})
	require.NoError(t, err)

	status := StatusInProgress
	priority := PriorityHigh
	updated, err := svc.Update(ctx, task.ID, UpdateInput{Status: &status, Priority: &priority})
	require.NoError(t, err)

	assert.Equal(t, "Original", updated.Title)
	assert.Equal(t, StatusInProgress, updated.Status)
	assert.Equal(t, PriorityHigh, updated.Priority)

	bad := Status("bogus")
	_, err = svc.Update(ctx, task.ID, UpdateInput{Status: &bad})
	assert.Error(t, err)

	_, err = svc.Update(ctx, "missing", UpdateInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasksFilter(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateInput{Title: "a", ProjectID: "p1"})
	_, _ = svc.Create(ctx, CreateInput{Title: "b", ProjectID: "p2"})

	done := StatusDone
	_, err := svc.Update(ctx, a.ID, UpdateInput{Status: &done})
	require.NoError(t, err)

	got, err := svc.List(ctx, Filter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)

	got, err = svc.List(ctx, Filter{Status: StatusDone})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.List(ctx, Filter{Status: "bogus"})
	assert.Error(t, err)
}

func TestSubTaskLifecycle(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Parent"})
	require.NoError(t, err)

	task, err = svc.AddSubTask(ctx, task.ID, "Child", "details")
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 1)
	assert.Equal(t, task.ID, task.Subtasks[0].ParentID)
	assert.Equal(t, StatusPending, task.Subtasks[0].Status)

	task, err = svc.SetSubTaskStatus(ctx, task.ID, task.Subtasks[0].ID, StatusDone)
	require.NoError(t, err)
	assert.True(t, task.Subtasks[0].IsCompleted())
	assert.Equal(t, 1.0, task.Progress())

	_, err = svc.SetSubTaskStatus(ctx, task.ID, "missing", StatusDone)
	assert.Error(t, err)
}

func TestExpandAddsSubtasks(t *testing.T) {
	object := json.RawMessage(`{"subtasks":[
		{"title":"Design schema","description":"tables"},
		{"title":"Write handlers"},
		{"title":"   "}
	]}`)
	gen := &stubGenerator{primary: &stubProvider{object: object}}
	svc := NewService(newMemStore(), gen)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Build API"})
	require.NoError(t, err)

	task, err = svc.Expand(ctx, task.ID, 3)
	require.NoError(t, err)

	// Blank titles are dropped.
	require.Len(t, task.Subtasks, 2)
	assert.Equal(t, "Design schema", task.Subtasks[0].Title)
	assert.Equal(t, "tables", task.Subtasks[0].Description)
	assert.Equal(t, StatusPending, task.Subtasks[1].Status)
}

func TestExpandFallsBackOnGenerationFailure(t *testing.T) {
	primary := &stubProvider{err: errors.New("primary down")}
	fallback := &stubProvider{object: json.RawMessage(`{"subtasks":[{"title":"From fallback"}]}`)}
	gen := &stubGenerator{primary: primary, fallback: fallback}
	svc := NewService(newMemStore(), gen)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Resilient"})
	require.NoError(t, err)

	task, err = svc.Expand(ctx, task.ID, 1)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 1)
	assert.Equal(t, "From fallback", task.Subtasks[0].Title)
}

func TestExpandPrimaryErrorWithoutFallback(t *testing.T) {
	primary := &stubProvider{err: errors.New("primary down")}
	// Fallback degrades to the same primary instance; no second attempt.
	gen := &stubGenerator{primary: primary}
	svc := NewService(newMemStore(), gen)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "No fallback"})
	require.NoError(t, err)

	_, err = svc.Expand(ctx, task.ID, 1)
	assert.ErrorContains(t, err, "primary down")
}

func TestExpandNoPrimaryConfigured(t *testing.T) {
	gen := &stubGenerator{primaryErr: &core.NoPrimaryProviderError{}}
	svc := NewService(newMemStore(), gen)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Unconfigured"})
	require.NoError(t, err)

	_, err = svc.Expand(ctx, task.ID, 1)
	var noPrimary *core.NoPrimaryProviderError
	assert.ErrorAs(t, err, &noPrimary)
}
