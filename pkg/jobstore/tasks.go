package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// setTaskStateScript stores a task state unless it would move the task backwards.
// ARGV[1] is the new phase rank, ARGV[2] the new phase, the rest are field/value pairs.
// A terminal phase only accepts rewrites of itself.
var setTaskStateScript = redis.NewScript(`
local stored = redis.call('HMGET', KEYS[1], 'rank', 'phase')
if stored[1] then
	local storedRank = tonumber(stored[1])
	local rank = tonumber(ARGV[1])
	if rank < storedRank then
		return 0
	end
	if storedRank == 3 and stored[2] ~= ARGV[2] then
		return 0
	end
end
for i = 3, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// SetTaskState records the latest state of a task and publishes it on the task
// events channel. Returns an error matching ErrPhaseRegression if the stored phase
// ranks higher than the new one, or if the task already reached a different
// terminal phase.
func (c *Client) SetTaskState(ctx context.Context, state *TaskState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid task state: %w", err)
	}

	if state.UpdatedAtMs == 0 {
		state.UpdatedAtMs = time.Now().UnixMilli()
	}

	hash, err := TaskStateToHash(state)
	if err != nil {
		return fmt.Errorf("failed to serialize task state: %w", err)
	}

	key := TaskKey(c.instanceName, state.TaskID)
	args := append([]interface{}{state.Phase.Rank(), string(state.Phase)}, flattenHash(hash)...)

	written, err := setTaskStateScript.Run(ctx, c.rdb, []string{key}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to write task state to Redis: %w", err)
	}
	if written == 0 {
		return fmt.Errorf("task %s cannot move to %s: %w", state.TaskID, state.Phase, ErrPhaseRegression)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal task state for event: %w", err)
	}

	channel := TaskEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, stateJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish task event: %w", err)
	}

	return nil
}

// GetTaskState retrieves the latest recorded state of a task.
// Returns an error matching ErrNotFound if nothing was recorded for the task.
func (c *Client) GetTaskState(ctx context.Context, taskID string) (*TaskState, error) {
	key := TaskKey(c.instanceName, taskID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task state from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	state, err := HashToTaskState(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task state: %w", err)
	}

	return state, nil
}

// TaskSubscription represents an active Pub/Sub subscription to task events.
// Caller must call Close() when done to clean up resources.
type TaskSubscription struct {
	events <-chan *TaskState
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of task state events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *TaskSubscription) Events() <-chan *TaskState {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - messages are skipped.
func (s *TaskSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *TaskSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeTaskEvents subscribes to task state changes for this instance.
// Delivery is at-most-once; polling GetTaskState remains the source of truth.
func (c *Client) SubscribeTaskEvents(ctx context.Context) (*TaskSubscription, error) {
	channel := TaskEventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so no event published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to task events: %w", err)
	}

	eventsChan := make(chan *TaskState, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var state TaskState
				if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal task event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &state:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &TaskSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
