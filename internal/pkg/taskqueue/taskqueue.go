// Package taskqueue tracks background jobs and their results.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the task can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrNotCancelable = errors.New("can only cancel pending or running tasks")
)

// Task is a unit of background work.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    TaskStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	DedupKey  string          `json:"dedup_key,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Queue is implemented by the Redis store and the in-process fallback.
type Queue interface {
	// Enqueue returns the existing live task when dedupKey is already taken.
	Enqueue(ctx context.Context, taskType string, payload any, dedupKey string) (*Task, error)
	// GetByID returns (nil, nil) for unknown ids.
	GetByID(ctx context.Context, id string) (*Task, error)
	UpdateStatus(ctx context.Context, id string, status TaskStatus, result any, errMsg string) error
	List(ctx context.Context, taskType string, limit int) ([]*Task, error)
	Cancel(ctx context.Context, id string) error
	DeleteByID(ctx context.Context, id string) error
}

const taskTTL = 7 * 24 * time.Hour

func newTask(id, taskType string, payload any, dedupKey string, now time.Time) (*Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:        id,
		Type:      taskType,
		Payload:   payloadBytes,
		Status:    TaskPending,
		DedupKey:  dedupKey,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func applyStatus(task *Task, status TaskStatus, result any, errMsg string, now time.Time) error {
	task.Status = status
	task.UpdatedAt = now
	task.Error = errMsg
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		task.Result = raw
	}
	return nil
}
