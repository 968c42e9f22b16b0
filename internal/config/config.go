package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where commands look for the configuration when none is given.
const DefaultPath = "nlbayes.yml"

// Config represents the top-level nlbayes.yml configuration
type Config struct {
	Version  string         `yaml:"version"`
	Instance string         `yaml:"instance"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Worker   WorkerConfig   `yaml:"worker"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	Reporter ReporterConfig `yaml:"reporter"`
	API      APIConfig      `yaml:"api"`
	Client   ClientConfig   `yaml:"client"`
}

// RedisConfig locates the Redis server holding tasks, the queue and, by default, blobs and jobs
type RedisConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig selects where blobs and job records live
type StorageConfig struct {
	Backend    string `yaml:"backend"`     // "redis" (default) or "sqlite"
	SQLitePath string `yaml:"sqlite_path"` // Required when backend is "sqlite"
	CacheSize  int    `yaml:"cache_size"`  // Blobs kept in memory, 0 disables the cache
}

// WorkerConfig controls task execution in worker processes
type WorkerConfig struct {
	ID          string        `yaml:"id"`           // Defaults to the host name
	Concurrency int           `yaml:"concurrency"`  // Tasks run in parallel, default 1
	JobTimeout  time.Duration `yaml:"job_timeout"`  // 0 = no limit
	PollTimeout time.Duration `yaml:"poll_timeout"` // How long one dequeue blocks, default 5s
	HealthAddr  string        `yaml:"health_addr"`  // Default ":8081"
}

// SamplerConfig holds the sampling schedule
type SamplerConfig struct {
	Chains            int     `yaml:"chains"`
	BurninBatch       int     `yaml:"burnin_batch"`
	BurninThreshold   float64 `yaml:"burnin_threshold"`
	SampleBatch       int     `yaml:"sample_batch"`
	SamplingThreshold float64 `yaml:"sampling_threshold"`
	MaxSamples        int     `yaml:"max_samples"`
	Seed              uint64  `yaml:"seed"` // 0 = seed from the clock
}

// ReporterConfig controls retries of progress snapshot writes
type ReporterConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Factor   float64       `yaml:"factor"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// ClientConfig configures polling clients (CLI watch)
type ClientConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: "1.0"}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate performs strict validation on the configuration, filling in
// defaults for omitted values.
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}
	if u, err := url.Parse(c.Redis.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		return fmt.Errorf("redis.url must be a redis:// or rediss:// URL, got %q", c.Redis.URL)
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Worker.validate(); err != nil {
		return err
	}
	if err := c.Sampler.validate(); err != nil {
		return err
	}
	if err := c.Reporter.validate(); err != nil {
		return err
	}

	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}

	if c.Client.PollInterval == 0 {
		c.Client.PollInterval = time.Second
	}
	if c.Client.PollInterval < 0 {
		return fmt.Errorf("client.poll_interval must be positive, got %s", c.Client.PollInterval)
	}
	if c.Client.StallTimeout == 0 {
		c.Client.StallTimeout = 5 * time.Minute
	}
	if c.Client.StallTimeout < c.Client.PollInterval {
		return fmt.Errorf("client.stall_timeout (%s) must not be shorter than client.poll_interval (%s)",
			c.Client.StallTimeout, c.Client.PollInterval)
	}

	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Backend {
	case "":
		s.Backend = "redis"
	case "redis":
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required when storage.backend is 'sqlite'")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %s (must be 'redis' or 'sqlite')", s.Backend)
	}

	if s.CacheSize < 0 {
		return fmt.Errorf("storage.cache_size must be >= 0 (0 = disabled), got %d", s.CacheSize)
	}
	return nil
}

func (w *WorkerConfig) validate() error {
	if w.Concurrency == 0 {
		w.Concurrency = 1
	}
	if w.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1, got %d", w.Concurrency)
	}
	if w.JobTimeout < 0 {
		return fmt.Errorf("worker.job_timeout must be >= 0 (0 = unlimited), got %s", w.JobTimeout)
	}
	if w.PollTimeout == 0 {
		w.PollTimeout = 5 * time.Second
	}
	if w.PollTimeout < time.Second {
		return fmt.Errorf("worker.poll_timeout must be at least 1s, got %s", w.PollTimeout)
	}
	if w.HealthAddr == "" {
		w.HealthAddr = ":8081"
	}
	return nil
}

func (s *SamplerConfig) validate() error {
	if s.Chains == 0 {
		s.Chains = 5
	}
	if s.BurninBatch == 0 {
		s.BurninBatch = 20
	}
	if s.BurninThreshold == 0 {
		s.BurninThreshold = 5.0
	}
	if s.SampleBatch == 0 {
		s.SampleBatch = 20
	}
	if s.SamplingThreshold == 0 {
		s.SamplingThreshold = 1.15
	}
	if s.MaxSamples == 0 {
		s.MaxSamples = 10000
	}

	if s.Chains < 2 {
		return fmt.Errorf("sampler.chains must be >= 2, got %d", s.Chains)
	}
	if s.BurninBatch < 1 || s.SampleBatch < 1 {
		return fmt.Errorf("sampler batch sizes must be >= 1")
	}
	if s.BurninThreshold < 1 || s.SamplingThreshold < 1 {
		return fmt.Errorf("sampler thresholds must be >= 1 (R-hat is never below 1)")
	}
	if s.MaxSamples < 0 {
		return fmt.Errorf("sampler.max_samples must be >= 0, got %d", s.MaxSamples)
	}
	return nil
}

func (r *ReporterConfig) validate() error {
	if r.Attempts == 0 {
		r.Attempts = 3
	}
	if r.Delay == 0 {
		r.Delay = 100 * time.Millisecond
	}
	if r.Factor == 0 {
		r.Factor = 2
	}
	if r.Attempts < 1 {
		return fmt.Errorf("reporter.attempts must be >= 1, got %d", r.Attempts)
	}
	if r.Factor < 1 {
		return fmt.Errorf("reporter.factor must be >= 1, got %g", r.Factor)
	}
	return nil
}

// ApplyEnv overrides file values with REDIS_URL, NLBAYES_INSTANCE and
// NLBAYES_WORKER_ID when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("NLBAYES_INSTANCE"); v != "" {
		c.Instance = v
	}
	if v := os.Getenv("NLBAYES_WORKER_ID"); v != "" {
		c.Worker.ID = v
	}
}

// Load reads and validates nlbayes.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a configuration document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Resolve loads the configuration used by commands. path comes from a flag and
// falls back to NLBAYES_CONFIG, then DefaultPath. A missing file at the default
// location yields the defaults; a missing explicit file is an error.
func Resolve(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv("NLBAYES_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath
		}
	}

	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if !explicit && errors.Is(err, os.ErrNotExist) {
		cfg = &Config{Version: "1.0"}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	return nil, err
}
