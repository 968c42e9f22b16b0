package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/nlbayes/internal/metrics"
	"github.com/dyluth/nlbayes/internal/testutil"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// recordingTasks remembers every task state write that reached the store.
type recordingTasks struct {
	jobstore.TaskStore
	mu     sync.Mutex
	states []jobstore.TaskState
}

func (r *recordingTasks) SetTaskState(ctx context.Context, s *jobstore.TaskState) error {
	if err := r.TaskStore.SetTaskState(ctx, s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, *s)
	return nil
}

func (r *recordingTasks) phases() []jobstore.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]jobstore.Phase, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Phase)
	}
	return out
}

// flakyTasks fails the first failures writes.
type flakyTasks struct {
	jobstore.TaskStore
	mu       sync.Mutex
	failures int
}

func (f *flakyTasks) SetTaskState(ctx context.Context, s *jobstore.TaskState) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.TaskStore.SetTaskState(ctx, s)
}

type fixture struct {
	store  *jobstore.Client
	tasks  *recordingTasks
	runner *Runner
	job    *jobstore.Job
	taskID string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, _ := testutil.NewStore(t)
	ctx := context.Background()

	networkHash, err := store.PutBlob(ctx, []byte(`{"A":{"g1":1}}`), jobstore.NetworkFilename)
	require.NoError(t, err)
	evidenceHash, err := store.PutBlob(ctx, []byte(`{"g1":1}`), jobstore.EvidenceFilename)
	require.NoError(t, err)

	job := &jobstore.Job{
		ID:           uuid.New().String(),
		NetworkHash:  networkHash,
		EvidenceHash: evidenceHash,
		Config:       jobstore.DefaultInferenceConfig(),
		SubmitTime:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(ctx, job))

	tasks := &recordingTasks{TaskStore: store}
	return &fixture{
		store: store,
		tasks: tasks,
		runner: &Runner{
			Blobs:    store,
			Jobs:     store,
			Tasks:    tasks,
			Repeater: repeater.New(&strategy.FixedDelay{Repeats: 3, Delay: time.Millisecond}),
			Metrics:  metrics.New(prometheus.NewRegistry()),
			Params:   DefaultParams(),
			WorkerID: "worker-1",
		},
		job:    job,
		taskID: "task-" + uuid.New().String(),
	}
}

func TestRunConvergesImmediately(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	stub := &testutil.StubSampler{
		BurninStatuses:   []int{0},
		SamplingStatuses: []int{0},
		X:                map[string]float64{"A": 0.8},
		T:                map[string]float64{"A": 0.6},
	}

	result, err := f.runner.Run(ctx, f.taskID, f.job, stub)
	require.NoError(t, err)

	assert.Equal(t, []jobstore.Phase{jobstore.PhaseBurnin, jobstore.PhaseSampling, jobstore.PhaseComplete}, f.tasks.phases())
	assert.Equal(t, 1, stub.Resets)

	final := f.tasks.states[2]
	require.NotNil(t, final.Meta)
	assert.NotNil(t, final.Meta.EndTime)
	assert.Equal(t, result.PosteriorHash, final.PosteriorHash)
	assert.Equal(t, "worker-1", final.Meta.WorkerID)
	assert.Equal(t, f.job.ID, final.Meta.JobID)
	assert.Equal(t, 20, final.Meta.NSampled)

	// burn-in snapshot carries burn-in sample count
	assert.Equal(t, 20, f.tasks.states[0].Meta.NSampled)
	assert.Nil(t, f.tasks.states[0].Meta.EndTime)

	job, err := f.store.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseComplete, job.Phase)
	assert.Equal(t, result.PosteriorHash, job.PosteriorHash)
	require.NotNil(t, job.Meta)
	assert.NotNil(t, job.Meta.EndTime)

	data, filename, err := f.store.GetBlob(ctx, result.PosteriorHash)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PosteriorFilename, filename)

	var posterior jobstore.Posterior
	require.NoError(t, json.Unmarshal(data, &posterior))
	assert.Equal(t, 0.8, posterior.X["A"])
	assert.Equal(t, 0.6, posterior.T["A"])
}

func TestRunBatchSchedule(t *testing.T) {
	f := setup(t)
	f.runner.Params.MaxSamples = 50

	stub := &testutil.StubSampler{BurninStatuses: []int{1, 1, 0}}

	result, err := f.runner.Run(context.Background(), f.taskID, f.job, stub)
	require.NoError(t, err)

	// three burn-in batches, then 20+20+10 to hit the sample budget
	assert.Equal(t, []int{20, 20, 20, 20, 20, 10}, stub.Sizes)
	assert.Equal(t, 50, result.Meta.NSampled)

	phases := f.tasks.phases()
	assert.Equal(t, []jobstore.Phase{
		jobstore.PhaseBurnin, jobstore.PhaseBurnin, jobstore.PhaseBurnin,
		jobstore.PhaseSampling, jobstore.PhaseSampling, jobstore.PhaseSampling,
		jobstore.PhaseComplete,
	}, phases)

	// sample counts never decrease within a phase
	last := -1
	for _, s := range f.tasks.states[3:6] {
		assert.Greater(t, s.Meta.NSampled, last)
		last = s.Meta.NSampled
	}
}

func TestRunZeroSampleBudget(t *testing.T) {
	f := setup(t)
	f.runner.Params.MaxSamples = 0

	stub := &testutil.StubSampler{BurninStatuses: []int{0}}
	result, err := f.runner.Run(context.Background(), f.taskID, f.job, stub)
	require.NoError(t, err)

	assert.Equal(t, []jobstore.Phase{jobstore.PhaseBurnin, jobstore.PhaseComplete}, f.tasks.phases())
	assert.NotEmpty(t, result.PosteriorHash)
}

func TestRunSamplerError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	stub := &testutil.StubSampler{BurninStatuses: []int{1, 1}, FailAt: 2, Err: errors.New("numerical divergence")}

	_, err := f.runner.Run(ctx, f.taskID, f.job, stub)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSamplerFailure))

	assert.Equal(t, []jobstore.Phase{jobstore.PhaseBurnin, jobstore.PhaseFailed}, f.tasks.phases())

	state, err := f.store.GetTaskState(ctx, f.taskID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseFailed, state.Phase)
	assert.Contains(t, state.Error, "numerical divergence")

	job, err := f.store.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseFailed, job.Phase)
	assert.Contains(t, job.Error, "numerical divergence")
	assert.Empty(t, job.PosteriorHash)
}

func TestRunSamplerPanic(t *testing.T) {
	f := setup(t)

	stub := &testutil.StubSampler{BurninStatuses: []int{0}, FailAt: 2, PanicValue: "index out of range"}

	_, err := f.runner.Run(context.Background(), f.taskID, f.job, stub)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSamplerFailure))
	assert.Contains(t, err.Error(), "index out of range")

	phases := f.tasks.phases()
	assert.Equal(t, jobstore.PhaseFailed, phases[len(phases)-1])
}

func TestRunCancelledBetweenBatches(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &testutil.StubSampler{
		OnSample: func(call int) {
			if call == 3 {
				cancel()
			}
		},
	}

	_, err := f.runner.Run(ctx, f.taskID, f.job, stub)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	state, err := f.store.GetTaskState(context.Background(), f.taskID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseFailed, state.Phase)

	job, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseFailed, job.Phase)
}

func TestRunProgressErrorsDoNotAbort(t *testing.T) {
	f := setup(t)
	flaky := &flakyTasks{TaskStore: f.store, failures: 10}
	f.runner.Tasks = flaky

	stub := &testutil.StubSampler{BurninStatuses: []int{1, 1, 1, 0}, SamplingStatuses: []int{0}}

	result, err := f.runner.Run(context.Background(), f.taskID, f.job, stub)
	require.NoError(t, err)

	state, err := f.store.GetTaskState(context.Background(), f.taskID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseComplete, state.Phase)
	assert.Equal(t, result.PosteriorHash, state.PosteriorHash)
}

func TestRunUnknownJob(t *testing.T) {
	f := setup(t)
	job := *f.job
	job.ID = uuid.New().String()

	_, err := f.runner.Run(context.Background(), f.taskID, &job, &testutil.StubSampler{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobstore.ErrNotFound))
}

func TestFailBeforeSampling(t *testing.T) {
	f := setup(t)

	cause := errors.New("network blob missing")
	err := f.runner.Fail(context.Background(), f.taskID, f.job, cause)
	assert.Equal(t, cause, err)

	state, err := f.store.GetTaskState(context.Background(), f.taskID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseFailed, state.Phase)
	assert.Equal(t, "network blob missing", state.Error)
	require.NotNil(t, state.Meta)
	assert.Equal(t, 0, state.Meta.NSampled)
	assert.NotNil(t, state.Meta.EndTime)

	job, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.PhaseFailed, job.Phase)
	assert.Equal(t, "network blob missing", job.Error)
}
