package jobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// createIfAbsentScript writes the field/value pairs in ARGV only when KEYS[1] does not exist.
var createIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
for i = 1, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// updateIfPresentScript writes the field/value pairs in ARGV only when KEYS[1] exists.
var updateIfPresentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
for i = 1, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// CreateJob validates and writes a new job record.
// Fails with ErrJobExists if a record with the same id is already stored.
func (c *Client) CreateJob(ctx context.Context, job *Job) error {
	if job.Phase == "" {
		job.Phase = PhasePending
	}

	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	hash, err := JobToHash(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}

	key := JobKey(c.instanceName, job.ID)
	created, err := createIfAbsentScript.Run(ctx, c.rdb, []string{key}, flattenHash(hash)...).Int()
	if err != nil {
		return fmt.Errorf("failed to write job to Redis: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobExists)
	}

	return nil
}

// GetJob retrieves a job record by ID.
// Returns an error matching ErrNotFound if the job doesn't exist.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	key := JobKey(c.instanceName, jobID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	job, err := HashToJob(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize job: %w", err)
	}

	return job, nil
}

// ScanJobIDs returns the sorted ids of stored jobs starting with prefix.
// prefix may only contain hex digits and hyphens.
func (c *Client) ScanJobIDs(ctx context.Context, prefix string) ([]string, error) {
	if strings.Trim(strings.ToLower(prefix), "0123456789abcdef-") != "" {
		return nil, fmt.Errorf("invalid job ID prefix: %q", prefix)
	}

	keyPrefix := JobKey(c.instanceName, "")
	var ids []string
	iter := c.rdb.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

// LinkTask records the dispatched task id on an existing job.
func (c *Client) LinkTask(ctx context.Context, jobID, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	return c.updateJobFields(ctx, jobID, map[string]interface{}{"task_id": taskID})
}

// UpdateJobProgress atomically replaces the progress fields of an existing job
// (phase, meta, error and, when set, posterior hash). Fields fixed at creation
// are never touched.
func (c *Client) UpdateJobProgress(ctx context.Context, jobID string, progress JobProgress) error {
	if err := progress.Phase.Validate(); err != nil {
		return fmt.Errorf("invalid progress: %w", err)
	}

	metaJSON, err := encodeMeta(progress.Meta)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"phase": string(progress.Phase),
		"meta":  metaJSON,
		"error": progress.Error,
	}
	if progress.PosteriorHash != "" {
		if !IsValidHash(progress.PosteriorHash) {
			return fmt.Errorf("invalid posterior hash: %q", progress.PosteriorHash)
		}
		fields["posterior_hash"] = progress.PosteriorHash
	}

	return c.updateJobFields(ctx, jobID, fields)
}

func (c *Client) updateJobFields(ctx context.Context, jobID string, fields map[string]interface{}) error {
	key := JobKey(c.instanceName, jobID)

	updated, err := updateIfPresentScript.Run(ctx, c.rdb, []string{key}, flattenHash(fields)...).Int()
	if err != nil {
		return fmt.Errorf("failed to update job in Redis: %w", err)
	}
	if updated == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	return nil
}

// flattenHash turns a field map into script arguments in a stable order.
func flattenHash(hash map[string]interface{}) []interface{} {
	fields := make([]string, 0, len(hash))
	for field := range hash {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	args := make([]interface{}, 0, len(hash)*2)
	for _, field := range fields {
		args = append(args, field, hash[field])
	}
	return args
}
