package jobstore

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func newTestJob(t *testing.T, client *Client) *Job {
	t.Helper()
	ctx := context.Background()

	networkHash, err := client.PutBlob(ctx, []byte(`{"A":{"g1":1}}`), NetworkFilename)
	require.NoError(t, err)
	evidenceHash, err := client.PutBlob(ctx, []byte(`{"g1":1}`), EvidenceFilename)
	require.NoError(t, err)

	return &Job{
		ID:           uuid.New().String(),
		NetworkHash:  networkHash,
		EvidenceHash: evidenceHash,
		Config:       DefaultInferenceConfig(),
		SubmitTime:   time.Now().UTC(),
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("rejects malformed URL", func(t *testing.T) {
		_, err := NewClientFromURL("not-a-url://", "test")
		assert.Error(t, err)
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestPutBlob(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("stores content under its sha256", func(t *testing.T) {
		data := []byte("hello")
		hash, err := client.PutBlob(ctx, data, "hello.json")
		require.NoError(t, err)
		assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)

		got, filename, err := client.GetBlob(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		assert.Equal(t, "hello.json", filename)
		assert.Equal(t, "5", mr.HGet(BlobKey("test-instance", hash), "size"))
	})

	t.Run("same content and filename is a no-op", func(t *testing.T) {
		data := []byte(`{"x":1}`)
		first, err := client.PutBlob(ctx, data, "a.json")
		require.NoError(t, err)
		second, err := client.PutBlob(ctx, data, "a.json")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("same content under another filename conflicts", func(t *testing.T) {
		data := []byte(`{"y":2}`)
		hash, err := client.PutBlob(ctx, data, "a.json")
		require.NoError(t, err)

		_, err = client.PutBlob(ctx, data, "b.json")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrIntegrityConflict))

		var conflict *IntegrityConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, hash, conflict.Hash)
		assert.Equal(t, "a.json", conflict.Stored)
		assert.Equal(t, "b.json", conflict.Requested)

		_, filename, err := client.GetBlob(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, "a.json", filename)
	})

	t.Run("empty content is storable", func(t *testing.T) {
		hash, err := client.PutBlob(ctx, []byte{}, "empty.json")
		require.NoError(t, err)
		got, _, err := client.GetBlob(ctx, hash)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("rejects empty filename", func(t *testing.T) {
		_, err := client.PutBlob(ctx, []byte("x"), "")
		assert.Error(t, err)
	})

	t.Run("concurrent identical puts converge", func(t *testing.T) {
		data := []byte(`{"concurrent":true}`)
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = client.PutBlob(ctx, data, "c.json")
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestGetBlob(t *testing.T) {
	client, _ := setupTestClient(t)

	_, _, err := client.GetBlob(context.Background(), ContentHash([]byte("missing")))
	assert.True(t, IsNotFound(err))

	exists, err := client.BlobExists(context.Background(), ContentHash([]byte("missing")))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateJob(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("creates valid job", func(t *testing.T) {
		job := newTestJob(t, client)
		require.NoError(t, client.CreateJob(ctx, job))

		got, err := client.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.NetworkHash, got.NetworkHash)
		assert.Equal(t, job.EvidenceHash, got.EvidenceHash)
		assert.Equal(t, job.Config, got.Config)
		assert.True(t, job.SubmitTime.Equal(got.SubmitTime))
		assert.Equal(t, PhasePending, got.Phase)
		assert.Nil(t, got.Meta)
		assert.Empty(t, got.PosteriorHash)
	})

	t.Run("refuses duplicate id", func(t *testing.T) {
		job := newTestJob(t, client)
		require.NoError(t, client.CreateJob(ctx, job))
		err := client.CreateJob(ctx, job)
		assert.True(t, errors.Is(err, ErrJobExists))
	})

	t.Run("rejects invalid job", func(t *testing.T) {
		job := newTestJob(t, client)
		job.NetworkHash = "nope"
		assert.Error(t, client.CreateJob(ctx, job))
	})
}

func TestScanJobIDs(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"abcdef01-0000-4000-8000-000000000002", "abcdef01-0000-4000-8000-000000000001"} {
		job := newTestJob(t, client)
		job.ID = id
		require.NoError(t, client.CreateJob(ctx, job))
	}
	// another instance sharing the server is invisible
	mr.HSet("nlbayes:other:job:abcdef01-0000-4000-8000-000000000003", "job_id", "x")

	ids, err := client.ScanJobIDs(ctx, "abcdef")
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdef01-0000-4000-8000-000000000001", "abcdef01-0000-4000-8000-000000000002"}, ids)

	_, err = client.ScanJobIDs(ctx, "ab*")
	assert.Error(t, err)
}

func TestGetJobNotFound(t *testing.T) {
	client, _ := setupTestClient(t)
	_, err := client.GetJob(context.Background(), uuid.New().String())
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateJobProgress(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	job := newTestJob(t, client)
	require.NoError(t, client.CreateJob(ctx, job))

	t.Run("touches only progress fields", func(t *testing.T) {
		meta := &Meta{JobID: job.ID, WorkerID: "w1", StartTime: time.Now().UTC(), NSampled: 40, GRStat: 1.3, ElapsedTime: "2s"}
		require.NoError(t, client.UpdateJobProgress(ctx, job.ID, JobProgress{Phase: PhaseSampling, Meta: meta}))

		got, err := client.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, PhaseSampling, got.Phase)
		require.NotNil(t, got.Meta)
		assert.Equal(t, 40, got.Meta.NSampled)
		assert.Equal(t, job.NetworkHash, got.NetworkHash)
		assert.Equal(t, job.EvidenceHash, got.EvidenceHash)
		assert.True(t, job.SubmitTime.Equal(got.SubmitTime))
	})

	t.Run("records posterior hash", func(t *testing.T) {
		hash, err := client.PutBlob(ctx, []byte(`{"X":{},"T":{}}`), PosteriorFilename)
		require.NoError(t, err)
		require.NoError(t, client.UpdateJobProgress(ctx, job.ID, JobProgress{Phase: PhaseComplete, PosteriorHash: hash}))

		got, err := client.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, hash, got.PosteriorHash)
	})

	t.Run("unknown job is not found and not created", func(t *testing.T) {
		id := uuid.New().String()
		err := client.UpdateJobProgress(ctx, id, JobProgress{Phase: PhaseBurnin})
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = client.GetJob(ctx, id)
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejects invalid phase", func(t *testing.T) {
		assert.Error(t, client.UpdateJobProgress(ctx, job.ID, JobProgress{Phase: "RUNNING"}))
	})
}

func TestLinkTask(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	job := newTestJob(t, client)
	require.NoError(t, client.CreateJob(ctx, job))
	require.NoError(t, client.LinkTask(ctx, job.ID, "task-1"))

	got, err := client.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.TaskID)

	assert.True(t, errors.Is(client.LinkTask(ctx, uuid.New().String(), "task-2"), ErrNotFound))
}

func TestSetTaskState(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	meta := &Meta{JobID: "job", WorkerID: "w", StartTime: time.Now().UTC(), GRStat: Statistic(math.Inf(1))}

	t.Run("phases advance", func(t *testing.T) {
		for _, phase := range []Phase{PhasePending, PhaseBurnin, PhaseBurnin, PhaseSampling} {
			require.NoError(t, client.SetTaskState(ctx, &TaskState{TaskID: "t1", JobID: "job", Phase: phase, Meta: meta}))
		}

		got, err := client.GetTaskState(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, PhaseSampling, got.Phase)
		require.NotNil(t, got.Meta)
		assert.True(t, math.IsInf(float64(got.Meta.GRStat), 1))
	})

	t.Run("regression is refused", func(t *testing.T) {
		err := client.SetTaskState(ctx, &TaskState{TaskID: "t1", JobID: "job", Phase: PhaseBurnin})
		assert.True(t, errors.Is(err, ErrPhaseRegression))

		got, err := client.GetTaskState(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, PhaseSampling, got.Phase)
	})

	t.Run("terminal phases are final", func(t *testing.T) {
		require.NoError(t, client.SetTaskState(ctx, &TaskState{TaskID: "t2", Phase: PhaseFailed, Error: "boom"}))
		err := client.SetTaskState(ctx, &TaskState{TaskID: "t2", Phase: PhaseComplete, PosteriorHash: ContentHash(nil)})
		assert.True(t, errors.Is(err, ErrPhaseRegression))

		require.NoError(t, client.SetTaskState(ctx, &TaskState{TaskID: "t2", Phase: PhaseFailed, Error: "boom again"}))
	})

	t.Run("complete requires a posterior hash", func(t *testing.T) {
		assert.Error(t, client.SetTaskState(ctx, &TaskState{TaskID: "t3", Phase: PhaseComplete}))
	})

	t.Run("unknown task is not found", func(t *testing.T) {
		_, err := client.GetTaskState(ctx, "missing")
		assert.True(t, IsNotFound(err))
	})
}

func TestSubscribeTaskEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.SubscribeTaskEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.SetTaskState(ctx, &TaskState{TaskID: "t1", JobID: "j1", Phase: PhaseBurnin}))

	select {
	case state := <-sub.Events():
		require.NotNil(t, state)
		assert.Equal(t, "t1", state.TaskID)
		assert.Equal(t, PhaseBurnin, state.Phase)
	case <-ctx.Done():
		t.Fatal("timed out waiting for task event")
	}

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
}

func TestQueue(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("delivers in FIFO order", func(t *testing.T) {
		require.NoError(t, client.Enqueue(ctx, &TaskMessage{TaskID: "t1", JobID: "j1"}))
		require.NoError(t, client.Enqueue(ctx, &TaskMessage{TaskID: "t2", JobID: "j2"}))

		n, err := client.QueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		first, err := client.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "t1", first.TaskID)
		assert.NotZero(t, first.EnqueuedAtMs)

		second, err := client.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, "t2", second.TaskID)
	})

	t.Run("empty queue times out with nil", func(t *testing.T) {
		msg, err := client.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("broker failure is queue unavailable", func(t *testing.T) {
		mr.SetError("LOADING server is loading")
		defer mr.SetError("")

		err := client.Enqueue(ctx, &TaskMessage{TaskID: "t3", JobID: "j3"})
		assert.True(t, errors.Is(err, ErrQueueUnavailable))
	})
}
