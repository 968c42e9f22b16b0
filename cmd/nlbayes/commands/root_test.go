package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/nlbayes/internal/scaffold"
	"github.com/dyluth/nlbayes/internal/testutil"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// execute runs rootCmd with args and returns what it wrote to its output.
// Package-level flag values survive between runs, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	configPath, debug = "", false
	statusOutput, jobOutput, resultOutput = "table", "table", "table"
	resultTop = 25
	submitOptions, submitWatch = "", false
	forceInit, initDir = false, "."

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	// a nil slice would make cobra fall back to os.Args
	rootCmd.SetArgs(append([]string{}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

// storeEnv points the commands at a fresh miniredis and returns a client on it.
func storeEnv(t *testing.T) *jobstore.Client {
	t.Helper()
	client, mr := testutil.NewStore(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("NLBAYES_INSTANCE", testutil.TestInstance)
	t.Setenv("NLBAYES_CONFIG", "")
	t.Chdir(t.TempDir())
	return client
}

func TestRootShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "nlbayes")
}

func TestRootRejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--unknown-flag", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "submit", "status", "watch", "result", "job", "serve", "worker"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "init", "--dir", dir)
	require.NoError(t, err)
	for _, name := range []string{scaffold.ConfigFile, scaffold.NetworkFile, scaffold.EvidenceFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	_, err = execute(t, "init", "--dir", dir)
	assert.Error(t, err, "second init without --force should refuse to overwrite")

	_, err = execute(t, "init", "--dir", dir, "--force")
	assert.NoError(t, err)
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "status", "01HXYZ", "--config", filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSubmitStatusAndJob(t *testing.T) {
	client := storeEnv(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile("network.json", []byte(`{"TF1": {"geneA": 1, "geneB": -1}}`), 0644))
	require.NoError(t, os.WriteFile("evidence.json", []byte(`{"geneA": 1, "geneB": 0}`), 0644))

	_, err := execute(t, "submit", "--network", "network.json", "--evidence", "evidence.json", "--options", `{"zn": 0.01}`)
	require.NoError(t, err)

	msg, err := client.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	t.Run("status json", func(t *testing.T) {
		out, err := execute(t, "status", msg.TaskID, "-o", "json")
		require.NoError(t, err)
		var status jobstore.Status
		require.NoError(t, json.Unmarshal([]byte(out), &status))
		assert.Equal(t, msg.TaskID, status.TaskID)
		assert.Equal(t, jobstore.PhasePending, status.Status)
	})

	t.Run("job table", func(t *testing.T) {
		out, err := execute(t, "job", msg.JobID)
		require.NoError(t, err)
		assert.Contains(t, out, msg.JobID)
		assert.Contains(t, out, msg.TaskID)
		assert.Contains(t, out, "zn=0.01")
	})

	t.Run("job by prefix", func(t *testing.T) {
		out, err := execute(t, "job", msg.JobID[:8])
		require.NoError(t, err)
		assert.Contains(t, out, msg.JobID)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := execute(t, "job", "00000000-0000-0000-0000-000000000000")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job not found")
	})
}

func TestSubmitRejectsUnknownOption(t *testing.T) {
	storeEnv(t)
	require.NoError(t, os.WriteFile("network.json", []byte(`{"TF1": {"geneA": 1}}`), 0644))
	require.NoError(t, os.WriteFile("evidence.json", []byte(`{"geneA": 1}`), 0644))

	_, err := execute(t, "submit", "-n", "network.json", "-e", "evidence.json", "--options", `{"n_graphs": 3}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid inference options")
}

func TestResultCommand(t *testing.T) {
	client := storeEnv(t)

	data, err := json.Marshal(jobstore.Posterior{
		X: map[string]float64{"TF1": 0.91, "TF2": 0.12},
		T: map[string]float64{"TF1": 0.6, "TF2": 0.05},
	})
	require.NoError(t, err)
	hash, err := client.PutBlob(context.Background(), data, jobstore.PosteriorFilename)
	require.NoError(t, err)

	out, err := execute(t, "result", hash, "--top", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "TF1")
	assert.NotContains(t, out, "TF2")

	out, err = execute(t, "result", hash, "-o", "json")
	require.NoError(t, err)
	var got jobstore.Posterior
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 0.91, got.X["TF1"], 1e-9)

	_, err = execute(t, "result", jobstore.ContentHash([]byte("missing")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result not found")
}
