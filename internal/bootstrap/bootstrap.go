// Package bootstrap wires the stores a process needs from its configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"

	"github.com/dyluth/nlbayes/internal/blobcache"
	"github.com/dyluth/nlbayes/internal/config"
	"github.com/dyluth/nlbayes/internal/sqlstore"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// Services bundles the stores selected by the configuration. Redis always
// holds tasks and the queue; blobs and jobs live in Redis or SQLite.
type Services struct {
	Redis *jobstore.Client
	Blobs jobstore.BlobStore
	Jobs  jobstore.JobStore

	sql *sqlstore.Store
}

// Open connects to Redis (retrying while it comes up) and opens the configured
// blob and job storage.
func Open(ctx context.Context, cfg *config.Config) (*Services, error) {
	client, err := jobstore.NewClientFromURL(cfg.Redis.URL, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	connect := repeater.New(&strategy.Backoff{Repeats: 5, Duration: 200 * time.Millisecond, Factor: 2, Jitter: true})
	err = connect.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			log.Printf("[WARN] Redis at %s not reachable yet: %v", cfg.Redis.URL, err)
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := &Services{Redis: client, Blobs: client, Jobs: client}

	if cfg.Storage.Backend == "sqlite" {
		store, err := sqlstore.New(cfg.Storage.SQLitePath)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to open SQLite store: %w", err)
		}
		s.sql = store
		s.Blobs = store
		s.Jobs = store
		log.Printf("[INFO] storing blobs and jobs in %s", cfg.Storage.SQLitePath)
	}

	if cfg.Storage.CacheSize > 0 {
		cache, err := blobcache.New(s.Blobs, cfg.Storage.CacheSize)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Blobs = cache
	}

	return s, nil
}

// Ping checks every backing store.
func (s *Services) Ping(ctx context.Context) error {
	if err := s.Redis.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if s.sql != nil {
		if err := s.sql.Ping(ctx); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
	}
	return nil
}

// Close releases all connections.
func (s *Services) Close() error {
	var errs []error
	if s.sql != nil {
		errs = append(errs, s.sql.Close())
	}
	errs = append(errs, s.Redis.Close())
	return errors.Join(errs...)
}

// NewReporterRepeater builds the retry policy for progress snapshot writes.
func NewReporterRepeater(cfg config.ReporterConfig) *repeater.Repeater {
	return repeater.New(&strategy.Backoff{
		Repeats:  cfg.Attempts,
		Duration: cfg.Delay,
		Factor:   cfg.Factor,
		Jitter:   true,
	})
}
