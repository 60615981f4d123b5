// Package dispatch hands admitted jobs to the Redis-backed task
// queue and lets workers consume them. Messages carry the job id
// only; executors re-read the job row from the store.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TaskExecuteJob names the only task type the worker understands.
const TaskExecuteJob = "jobrunner.execute_job"

const keyPrefix = "jobrunner:queue:"

// Queue is the handoff contract the lifecycle engine dispatches
// through. Delivery is at-least-once with no ordering guarantee
// between different jobs.
type Queue interface {
	Send(ctx context.Context, task string, jobID uuid.UUID, queueName string) error
}

// Task is one dequeued unit of work.
type Task struct {
	Task  string
	JobID uuid.UUID
	Queue string
}

type envelope struct {
	Task  string `json:"task"`
	JobID string `json:"job_id"`
}

// RedisQueue implements Queue over Redis lists, one list per queue
// name.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func queueKey(name string) string { return keyPrefix + name }

// Send pushes the task envelope onto the named queue. Failures
// surface synchronously to the enqueue path.
func (q *RedisQueue) Send(ctx context.Context, task string, jobID uuid.UUID, queueName string) error {
	payload, err := json.Marshal(envelope{Task: task, JobID: jobID.String()})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.LPush(ctx, queueKey(queueName), payload).Err(); err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

// Receive blocks up to timeout for the next task on any of the given
// queues. Returns (nil, nil) when the wait times out.
func (q *RedisQueue) Receive(ctx context.Context, queues []string, timeout time.Duration) (*Task, error) {
	keys := make([]string, len(queues))
	for i, name := range queues {
		keys[i] = queueKey(name)
	}

	res, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop task: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var env envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	jobID, err := uuid.Parse(env.JobID)
	if err != nil {
		return nil, fmt.Errorf("parse task job id: %w", err)
	}

	return &Task{
		Task:  env.Task,
		JobID: jobID,
		Queue: strings.TrimPrefix(res[0], keyPrefix),
	}, nil
}
