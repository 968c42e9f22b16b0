package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// putBlobScript writes a blob only if its key is absent and returns the filename
// stored under the key afterwards. Existence check and write run atomically.
var putBlobScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'filename')
if stored then
	return stored
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'filename', ARGV[2], 'size', ARGV[3], 'created_at_ms', ARGV[4])
return ARGV[2]
`)

// PutBlob stores data under the hex SHA-256 of its content and returns the hash.
// Storing the same content under the same filename again is a no-op. Storing it
// under a different filename fails with *IntegrityConflictError and leaves the
// stored record untouched.
func (c *Client) PutBlob(ctx context.Context, data []byte, filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("blob filename cannot be empty")
	}

	hash := ContentHash(data)
	key := BlobKey(c.instanceName, hash)

	stored, err := putBlobScript.Run(ctx, c.rdb, []string{key},
		data, filename, len(data), time.Now().UnixMilli()).Text()
	if err != nil {
		return "", fmt.Errorf("failed to write blob to Redis: %w", err)
	}

	if stored != filename {
		return "", &IntegrityConflictError{Hash: hash, Stored: stored, Requested: filename}
	}

	return hash, nil
}

// GetBlob returns the content and declared filename of a blob.
// Returns an error matching ErrNotFound if the hash is unknown.
func (c *Client) GetBlob(ctx context.Context, hash string) ([]byte, string, error) {
	key := BlobKey(c.instanceName, hash)

	values, err := c.rdb.HMGet(ctx, key, "data", "filename").Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob from Redis: %w", err)
	}

	if values[1] == nil {
		return nil, "", fmt.Errorf("blob %s: %w", hash, ErrNotFound)
	}

	data, _ := values[0].(string)
	filename, _ := values[1].(string)

	return []byte(data), filename, nil
}

// BlobExists checks if a blob exists without fetching its content.
func (c *Client) BlobExists(ctx context.Context, hash string) (bool, error) {
	exists, err := c.rdb.Exists(ctx, BlobKey(c.instanceName, hash)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return exists > 0, nil
}
