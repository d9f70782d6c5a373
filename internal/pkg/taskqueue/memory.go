package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue keeps tasks in process. Used when no Redis is configured.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*Task
	dedup map[string]string
	now   func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		tasks: make(map[string]*Task),
		dedup: make(map[string]string),
		now:   time.Now,
	}
}

func dedupIndex(taskType, key string) string { return taskType + "\x00" + key }

func (q *MemoryQueue) Enqueue(_ context.Context, taskType string, payload any, dedupKey string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictLocked()

	if dedupKey != "" {
		if id, ok := q.dedup[dedupIndex(taskType, dedupKey)]; ok {
			if task, ok := q.tasks[id]; ok && !task.Status.Terminal() {
				cp := *task
				return &cp, nil
			}
		}
	}

	task, err := newTask(uuid.NewString(), taskType, payload, dedupKey, q.now())
	if err != nil {
		return nil, err
	}
	q.tasks[task.ID] = task
	if dedupKey != "" {
		q.dedup[dedupIndex(taskType, dedupKey)] = task.ID
	}
	cp := *task
	return &cp, nil
}

func (q *MemoryQueue) GetByID(_ context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *task
	return &cp, nil
}

func (q *MemoryQueue) UpdateStatus(_ context.Context, id string, status TaskStatus, result any, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status == TaskCancelled {
		return nil
	}
	if err := applyStatus(task, status, result, errMsg, q.now()); err != nil {
		return err
	}
	if status.Terminal() && task.DedupKey != "" {
		delete(q.dedup, dedupIndex(task.Type, task.DedupKey))
	}
	return nil
}

func (q *MemoryQueue) List(_ context.Context, taskType string, limit int) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		if taskType != "" && task.Type != taskType {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return ErrNotCancelable
	}
	if err := applyStatus(task, TaskCancelled, nil, "cancelled by user", q.now()); err != nil {
		return err
	}
	if task.DedupKey != "" {
		delete(q.dedup, dedupIndex(task.Type, task.DedupKey))
	}
	return nil
}

func (q *MemoryQueue) DeleteByID(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	delete(q.tasks, id)
	if task.DedupKey != "" && q.dedup[dedupIndex(task.Type, task.DedupKey)] == id {
		delete(q.dedup, dedupIndex(task.Type, task.DedupKey))
	}
	return nil
}

// evictLocked drops tasks older than the retention window.
func (q *MemoryQueue) evictLocked() {
	cutoff := q.now().Add(-taskTTL)
	for id, task := range q.tasks {
		if task.UpdatedAt.Before(cutoff) {
			delete(q.tasks, id)
		}
	}
}
