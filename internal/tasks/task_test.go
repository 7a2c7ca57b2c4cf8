package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusHelpers(t *testing.T) {
	task := &Task{Status: StatusPending}
	assert.True(t, task.IsActive())
	assert.False(t, task.IsCompleted())
	assert.False(t, task.IsBlocked())

	task.Status = StatusInProgress
	assert.True(t, task.IsActive())

	task.Status = StatusDone
	assert.True(t, task.IsCompleted())
	assert.False(t, task.IsActive())

	task.Status = StatusBlocked
	assert.True(t, task.IsBlocked())
}

func TestTaskProgress(t *testing.T) {
	task := &Task{Status: StatusPending}
	assert.Equal(t, 0.0, task.Progress())

	task.Status = StatusDone
	assert.Equal(t, 1.0, task.Progress())

	task.Subtasks = []SubTask{
		{ID: "a", Status: StatusDone},
		{ID: "b", Status: StatusPending},
		{ID: "c", Status: StatusDone},
		{ID: "d", Status: StatusPending},
	}
	assert.Equal(t, 0.5, task.Progress())
	assert.Equal(t, 2, task.CompletedSubtasks())
}

func TestTaskSubtaskLookup(t *testing.T) {
	task := &Task{Subtasks: []SubTask{{ID: "a"}, {ID: "b"}}}

	sub := task.Subtask("b")
	assert.NotNil(t, sub)
	assert.Equal(t, "b", sub.ID)

	assert.Nil(t, task.Subtask("missing"))
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusInProgress, StatusDone, StatusDeferred, StatusCancelled, StatusBlocked} {
		assert.True(t, ValidStatus(s), string(s))
	}
	assert.False(t, ValidStatus("bogus"))
	assert.False(t, ValidStatus(""))
}

func TestValidPriority(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		assert.True(t, ValidPriority(p), string(p))
	}
	assert.False(t, ValidPriority("urgent"))
}
