package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	redisc "github.com/mx-space/chaptr/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "chaptr:task:"
	keyIndex    = "chaptr:tasks:index"  // sorted set: score=created_at ms, member=task_id
	keyDedupSet = "chaptr:tasks:dedup:" // hash per type: dedup_key -> task_id

	maxUpdateRetries = 5
)

// errUnchanged aborts an update without writing.
var errUnchanged = errors.New("task unchanged")

// RedisQueue stores tasks in Redis so any instance can report on them.
type RedisQueue struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisQueue(rc *redisc.Client) *RedisQueue {
	return &RedisQueue{rdb: rc.Raw(), now: time.Now}
}

func taskKey(id string) string { return keyPrefix + id }

func (q *RedisQueue) Enqueue(ctx context.Context, taskType string, payload any, dedupKey string) (*Task, error) {
	if dedupKey != "" {
		existing, err := q.rdb.HGet(ctx, keyDedupSet+taskType, dedupKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if existing != "" {
			task, err := q.GetByID(ctx, existing)
			if err != nil {
				return nil, err
			}
			if task != nil && !task.Status.Terminal() {
				return task, nil
			}
		}
	}

	now := q.now()
	task, err := newTask(uuid.NewString(), taskType, payload, dedupKey, now)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
		pipe.ZAdd(ctx, keyIndex, redis.Z{Score: float64(now.UnixMilli()), Member: task.ID})
		// Index entries outlive their tasks otherwise.
		pipe.ZRemRangeByScore(ctx, keyIndex, "-inf", scoreBefore(now.Add(-taskTTL)))
		if dedupKey != "" {
			pipe.HSet(ctx, keyDedupSet+taskType, dedupKey, task.ID)
			pipe.Expire(ctx, keyDedupSet+taskType, taskTTL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (q *RedisQueue) GetByID(ctx context.Context, id string) (*Task, error) {
	data, err := q.rdb.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// update applies fn to the stored task inside WATCH/MULTI so concurrent
// writers (a cancel racing a finishing worker) never overwrite each other.
func (q *RedisQueue) update(ctx context.Context, id string, fn func(*Task) error) error {
	key := taskKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if err := fn(&task); err != nil {
			return err
		}
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, taskTTL)
			if task.Status.Terminal() && task.DedupKey != "" {
				pipe.HDel(ctx, keyDedupSet+task.Type, task.DedupKey)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := q.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	return redis.TxFailedErr
}

func (q *RedisQueue) UpdateStatus(ctx context.Context, id string, status TaskStatus, result any, errMsg string) error {
	return q.update(ctx, id, func(task *Task) error {
		// A cancelled task keeps its status even if the worker finishes later.
		if task.Status == TaskCancelled {
			return errUnchanged
		}
		return applyStatus(task, status, result, errMsg, q.now())
	})
}

func (q *RedisQueue) List(ctx context.Context, taskType string, limit int) ([]*Task, error) {
	ids, err := q.rdb.ZRevRange(ctx, keyIndex, 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return []*Task{}, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	values, err := q.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(ids))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		if taskType != "" && task.Type != taskType {
			continue
		}
		tasks = append(tasks, &task)
		if limit > 0 && len(tasks) >= limit {
			break
		}
	}
	if len(stale) > 0 {
		q.rdb.ZRem(ctx, keyIndex, stale...)
	}
	return tasks, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, id string) error {
	return q.update(ctx, id, func(task *Task) error {
		if task.Status.Terminal() {
			return ErrNotCancelable
		}
		return applyStatus(task, TaskCancelled, nil, "cancelled by user", q.now())
	})
}

func (q *RedisQueue) DeleteByID(ctx context.Context, id string) error {
	task, err := q.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, taskKey(id))
		pipe.ZRem(ctx, keyIndex, id)
		if task.DedupKey != "" {
			pipe.HDel(ctx, keyDedupSet+task.Type, task.DedupKey)
		}
		return nil
	})
	return err
}

// scoreBefore is an exclusive ZRANGEBYSCORE bound at t.
func scoreBefore(t time.Time) string {
	return "(" + strconv.FormatInt(t.UnixMilli(), 10)
}
