package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

// Generator is the slice of the provider facade the task service needs.
type Generator interface {
	GetPrimaryProvider(ctx context.Context) (core.Provider, error)
	GetFallbackProvider(ctx context.Context) (core.Provider, error)
}

// Service implements task operations over a Store, with AI-backed task
// expansion through the provider facade.
type Service struct {
	store     Store
	generator Generator
}

// NewService creates the task service. generator may be nil when AI
// expansion is not wired (Expand then fails cleanly).
func NewService(store Store, generator Generator) *Service {
	return &Service{store: store, generator: generator}
}

// CreateInput holds the caller-supplied fields for a new task.
type CreateInput struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Priority     Priority       `json:"priority"`
	Dependencies []string       `json:"dependencies"`
	ProjectID    string         `json:"project_id"`
	Metadata     map[string]any `json:"metadata"`
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return core.NewInvalidRequestError("title is required", nil)
	}
	if len(title) > MaxTitleLength {
		return core.NewInvalidRequestError(fmt.Sprintf("title exceeds %d characters", MaxTitleLength), nil)
	}
	return nil
}

// Create validates the input and persists a new pending task.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Task, error) {
	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !ValidPriority(priority) {
		return nil, core.NewInvalidRequestError("invalid priority: "+string(priority), nil)
	}

	now := time.Now().UTC()
	task := &Task{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Status:       StatusPending,
		Priority:     priority,
		CreatedAt:    now,
		UpdatedAt:    now,
		Subtasks:     []SubTask{},
		Dependencies: in.Dependencies,
		ProjectID:    in.ProjectID,
		Metadata:     in.Metadata,
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// Get returns a task by ID.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns tasks matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Task, error) {
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, core.NewInvalidRequestError("invalid status: "+string(filter.Status), nil)
	}
	return s.store.ListTasks(ctx, filter)
}

// UpdateInput holds optional patch fields; nil means unchanged.
type UpdateInput struct {
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Status       *Status         `json:"status"`
	Priority     *Priority       `json:"priority"`
	Dependencies *[]string       `json:"dependencies"`
	Metadata     *map[string]any `json:"metadata"`
}

// Update applies a partial update to a task.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		if err := validateTitle(*in.Title); err != nil {
			return nil, err
		}
		task.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Status != nil {
		if !ValidStatus(*in.Status) {
			return nil, core.NewInvalidRequestError("invalid status: "+string(*in.Status), nil)
		}
		task.Status = *in.Status
	}
	if in.Priority != nil {
		if !ValidPriority(*in.Priority) {
			return nil, core.NewInvalidRequestError("invalid priority: "+string(*in.Priority), nil)
		}
		task.Priority = *in.Priority
	}
	if in.Dependencies != nil {
		task.Dependencies = *in.Dependencies
	}
	if in.Metadata != nil {
		task.Metadata = *in.Metadata
	}
	task.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTask(ctx, id)
}

// AddSubTask appends a subtask to a task.
func (s *Service) AddSubTask(ctx context.Context, taskID, title, description string) (*Task, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task.Subtasks = append(task.Subtasks, SubTask{
		ID:          uuid.NewString(),
		ParentID:    task.ID,
		Title:       strings.TrimSpace(title),
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	task.UpdatedAt = now

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to add subtask: %w", err)
	}
	return task, nil
}

// SetSubTaskStatus updates a single subtask's status.
func (s *Service) SetSubTaskStatus(ctx context.Context, taskID, subtaskID string, status Status) (*Task, error) {
	if !ValidStatus(status) {
		return nil, core.NewInvalidRequestError("invalid status: "+string(status), nil)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	sub := task.Subtask(subtaskID)
	if sub == nil {
		return nil, core.NewNotFoundError("subtask not found: " + subtaskID)
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	task.UpdatedAt = sub.UpdatedAt

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to update subtask: %w", err)
	}
	return task, nil
}

// subtaskSchema describes the structured output requested from providers
// during expansion.
const subtaskSchema = `{
  "type": "object",
  "properties": {
    "subtasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"}
        },
        "required": ["title"]
      }
    }
  },
  "required": ["subtasks"]
}`

type expansion struct {
	Subtasks []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"subtasks"`
}

// Expand asks the primary provider (falling back on generation failure)
// to break a task into count subtasks and persists them.
func (s *Service) Expand(ctx context.Context, taskID string, count int) (*Task, error) {
	if s.generator == nil {
		return nil, core.NewInvalidRequestError("task expansion is not configured", nil)
	}
	if count <= 0 {
		count = 5
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	req := &core.ObjectRequest{
		System: "You are a project planning assistant. Break tasks into concrete, actionable subtasks.",
		Prompt: fmt.Sprintf("Break the following task into %d subtasks.\nTitle: %s\nDescription: %s",
			count, task.Title, task.Description),
		Schema: json.RawMessage(subtaskSchema),
	}

	result, err := s.generateObject(ctx, req)
	if err != nil {
		return nil, err
	}

	var exp expansion
	if err := json.Unmarshal(result.Object, &exp); err != nil {
		return nil, fmt.Errorf("failed to parse expansion result: %w", err)
	}

	now := time.Now().UTC()
	for _, sub := range exp.Subtasks {
		title := strings.TrimSpace(sub.Title)
		if title == "" {
			continue
		}
		if len(title) > MaxTitleLength {
			title = title[:MaxTitleLength]
		}
		task.Subtasks = append(task.Subtasks, SubTask{
			ID:          uuid.NewString(),
			ParentID:    task.ID,
			Title:       title,
			Description: sub.Description,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	task.UpdatedAt = now

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save expanded task: %w", err)
	}
	return task, nil
}

// generateObject tries the primary provider and falls back once on
// generation failure. Resolution errors (no primary configured, unknown
// provider) are not retried against the fallback.
func (s *Service) generateObject(ctx context.Context, req *core.ObjectRequest) (*core.ObjectResult, error) {
	primary, err := s.generator.GetPrimaryProvider(ctx)
	if err != nil {
		return nil, err
	}

	result, primaryErr := primary.GenerateObject(ctx, req)
	if primaryErr == nil {
		return result, nil
	}

	fallback, err := s.generator.GetFallbackProvider(ctx)
	if err != nil || fallback == primary {
		return nil, primaryErr
	}

	slog.Warn("primary provider failed, trying fallback", "error", primaryErr)
	return fallback.GenerateObject(ctx, req)
}
