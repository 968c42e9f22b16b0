package jobstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client is the Redis implementation of BlobStore, JobStore, TaskStore and Queue
// for one instance. Safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient connects lazily to Redis; call Ping to check the server is there.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client for the instance.
func NewClientFromURL(redisURL, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL %q: %w", redisURL, err)
	}
	return NewClient(opts, instanceName)
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping round-trips a PING to the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
