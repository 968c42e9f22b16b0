package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Enqueue pushes a task message on the instance queue.
// Any broker failure is returned wrapped in ErrQueueUnavailable.
func (c *Client) Enqueue(ctx context.Context, msg *TaskMessage) error {
	if msg.TaskID == "" || msg.JobID == "" {
		return fmt.Errorf("task message requires task and job IDs")
	}

	if msg.EnqueuedAtMs == 0 {
		msg.EnqueuedAtMs = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}

	if err := c.rdb.LPush(ctx, QueueKey(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	return nil
}

// Dequeue blocks up to timeout for the next task message, oldest first.
// Returns (nil, nil) when the timeout expires with the queue empty.
func (c *Client) Dequeue(ctx context.Context, timeout time.Duration) (*TaskMessage, error) {
	result, err := c.rdb.BRPop(ctx, timeout, QueueKey(c.instanceName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop task from queue: %w", err)
	}

	// BRPOP returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}

	var msg TaskMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task message: %w", err)
	}

	return &msg, nil
}

// QueueLength returns the number of task messages waiting for a worker.
func (c *Client) QueueLength(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, QueueKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
