package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nlbayes.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// clearEnv hides overrides present in the environment running the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"REDIS_URL", "NLBAYES_INSTANCE", "NLBAYES_WORKER_ID", "NLBAYES_CONFIG"} {
		t.Setenv(key, "")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `version: "1.0"
instance: lab
redis:
  url: redis://cache:6380/2
storage:
  backend: sqlite
  sqlite_path: /var/lib/nlbayes/store.db
  cache_size: 64
worker:
  id: worker-a
  concurrency: 4
  job_timeout: 2h
  poll_timeout: 10s
sampler:
  chains: 4
  max_samples: 5000
  seed: 42
reporter:
  attempts: 5
  delay: 250ms
api:
  listen: ":9000"
client:
  poll_interval: 2s
  stall_timeout: 10m
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", config.Instance)
	assert.Equal(t, "redis://cache:6380/2", config.Redis.URL)
	assert.Equal(t, "sqlite", config.Storage.Backend)
	assert.Equal(t, 64, config.Storage.CacheSize)
	assert.Equal(t, "worker-a", config.Worker.ID)
	assert.Equal(t, 4, config.Worker.Concurrency)
	assert.Equal(t, 2*time.Hour, config.Worker.JobTimeout)
	assert.Equal(t, 10*time.Second, config.Worker.PollTimeout)
	assert.Equal(t, 4, config.Sampler.Chains)
	assert.Equal(t, 5000, config.Sampler.MaxSamples)
	assert.Equal(t, uint64(42), config.Sampler.Seed)
	assert.Equal(t, 5, config.Reporter.Attempts)
	assert.Equal(t, 250*time.Millisecond, config.Reporter.Delay)
	assert.Equal(t, ":9000", config.API.Listen)
	assert.Equal(t, 2*time.Second, config.Client.PollInterval)
	assert.Equal(t, 10*time.Minute, config.Client.StallTimeout)

	// defaults still applied to omitted fields
	assert.Equal(t, 20, config.Sampler.BurninBatch)
	assert.Equal(t, 1.15, config.Sampler.SamplingThreshold)
	assert.Equal(t, 2.0, config.Reporter.Factor)
}

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	clearEnv(t)
	config, err := Load(writeConfig(t, `version: "1.0"`))
	require.NoError(t, err)

	assert.Equal(t, "default", config.Instance)
	assert.Equal(t, "redis://localhost:6379", config.Redis.URL)
	assert.Equal(t, "redis", config.Storage.Backend)
	assert.Equal(t, 1, config.Worker.Concurrency)
	assert.Equal(t, 5*time.Second, config.Worker.PollTimeout)
	assert.Equal(t, 5, config.Sampler.Chains)
	assert.Equal(t, 20, config.Sampler.BurninBatch)
	assert.Equal(t, 5.0, config.Sampler.BurninThreshold)
	assert.Equal(t, 20, config.Sampler.SampleBatch)
	assert.Equal(t, 1.15, config.Sampler.SamplingThreshold)
	assert.Equal(t, 10000, config.Sampler.MaxSamples)
	assert.Equal(t, ":8080", config.API.Listen)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/nlbayes.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	config, err := Load(writeConfig(t, "version: \"1.0\"\nworker:\n  - not a map\n"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "version: \"1.0\"\nworkers:\n  concurrency: 2\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{"missing version", `instance: x`, "unsupported version"},
		{"bad redis scheme", "version: \"1.0\"\nredis:\n  url: http://localhost", "redis.url"},
		{"unknown backend", "version: \"1.0\"\nstorage:\n  backend: mongo", "invalid storage.backend"},
		{"sqlite without path", "version: \"1.0\"\nstorage:\n  backend: sqlite", "sqlite_path is required"},
		{"negative cache", "version: \"1.0\"\nstorage:\n  cache_size: -1", "cache_size"},
		{"negative concurrency", "version: \"1.0\"\nworker:\n  concurrency: -2", "worker.concurrency"},
		{"short poll timeout", "version: \"1.0\"\nworker:\n  poll_timeout: 100ms", "poll_timeout"},
		{"single chain", "version: \"1.0\"\nsampler:\n  chains: 1", "sampler.chains"},
		{"threshold below one", "version: \"1.0\"\nsampler:\n  sampling_threshold: 0.5", "thresholds"},
		{"stall shorter than poll", "version: \"1.0\"\nclient:\n  poll_interval: 10s\n  stall_timeout: 5s", "stall_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://env-host:6379")
	t.Setenv("NLBAYES_INSTANCE", "from-env")
	t.Setenv("NLBAYES_WORKER_ID", "env-worker")

	config, err := Load(writeConfig(t, "version: \"1.0\"\ninstance: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis://env-host:6379", config.Redis.URL)
	assert.Equal(t, "from-env", config.Instance)
	assert.Equal(t, "env-worker", config.Worker.ID)
}

func TestResolve(t *testing.T) {
	clearEnv(t)

	t.Run("missing default file yields defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())

		config, err := Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "default", config.Instance)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := Resolve(filepath.Join(t.TempDir(), "absent.yml"))
		assert.Error(t, err)
	})

	t.Run("NLBAYES_CONFIG is used when no flag is given", func(t *testing.T) {
		t.Setenv("NLBAYES_CONFIG", writeConfig(t, "version: \"1.0\"\ninstance: via-env-path\n"))
		config, err := Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "via-env-path", config.Instance)
	})
}

func TestDefault(t *testing.T) {
	config := Default()
	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, "redis", config.Storage.Backend)
}
