// Package tasks provides the task domain model and service.
package tasks

import (
	"time"
)

// Status represents the workflow state of a task or subtask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusDeferred   Status = "deferred"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusDeferred, StatusCancelled, StatusBlocked:
		return true
	}
	return false
}

// Priority represents the priority level of a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// MaxTitleLength bounds task and subtask titles.
const MaxTitleLength = 255

// SubTask is a unit of work under a parent task.
type SubTask struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsCompleted reports whether the subtask is done.
func (s *SubTask) IsCompleted() bool {
	return s.Status == StatusDone
}

// Task is a unit of work tracked by the service.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Subtasks     []SubTask      `json:"subtasks"`
	Dependencies []string       `json:"dependencies,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// IsCompleted reports whether the task is done.
func (t *Task) IsCompleted() bool {
	return t.Status == StatusDone
}

// IsActive reports whether the task is pending or in progress.
func (t *Task) IsActive() bool {
	return t.Status == StatusPending || t.Status == StatusInProgress
}

// IsBlocked reports whether the task is blocked.
func (t *Task) IsBlocked() bool {
	return t.Status == StatusBlocked
}

// CompletedSubtasks returns the number of done subtasks.
func (t *Task) CompletedSubtasks() int {
	var n int
	for i := range t.Subtasks {
		if t.Subtasks[i].IsCompleted() {
			n++
		}
	}
	return n
}

// Progress returns the completed-subtask fraction in [0,1]. A task with no
// subtasks reports 1 when done and 0 otherwise.
func (t *Task) Progress() float64 {
	if len(t.Subtasks) == 0 {
		if t.IsCompleted() {
			return 1
		}
		return 0
	}
	return float64(t.CompletedSubtasks()) / float64(len(t.Subtasks))
}

// Subtask returns the subtask with the given ID, or nil.
func (t *Task) Subtask(id string) *SubTask {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			return &t.Subtasks[i]
		}
	}
	return nil
}
