// Package queue provides the durable FIFO of action jobs, one Redis list per
// dispatch kind. Delivery to workers is at-least-once; workers tolerate
// redelivery through retry and DLQ accounting.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/internal/models"
)

// JobQueue is the queue contract shared by the processor and the workers.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.ActionJob) error
	Pop(ctx context.Context, kind models.ActionType, timeout time.Duration) (*models.ActionJob, error)
}

// RedisJobQueue implements JobQueue on Redis lists.
type RedisJobQueue struct {
	client *redis.Client
}

// NewRedisJobQueue creates a Redis-backed job queue.
func NewRedisJobQueue(client *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{client: client}
}

func queueKey(kind models.ActionType) string {
	return fmt.Sprintf("queue:actions:%s", kind)
}

// Enqueue pushes the job onto its kind's list.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job *models.ActionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Queue(fmt.Sprintf("marshal job %s", job.ID), err)
	}
	if err := q.client.LPush(ctx, queueKey(job.ActionType), payload).Err(); err != nil {
		return errors.Queue(fmt.Sprintf("enqueue job %s", job.ID), err)
	}
	return nil
}

// Pop blocks up to timeout for the next job of the given kind. A nil job with
// a nil error means the timeout elapsed with nothing queued.
func (q *RedisJobQueue) Pop(ctx context.Context, kind models.ActionType, timeout time.Duration) (*models.ActionJob, error) {
	values, err := q.client.BRPop(ctx, timeout, queueKey(kind)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Queue(fmt.Sprintf("pop %s job", kind), err)
	}
	if len(values) != 2 {
		return nil, errors.Queue(fmt.Sprintf("unexpected BRPOP reply for %s", kind), nil)
	}

	var job models.ActionJob
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, errors.Queue(fmt.Sprintf("unmarshal %s job", kind), err)
	}
	return &job, nil
}
