// Package runner drives a sampler through the burn-in and sampling phases of one
// task, reporting a progress snapshot after every batch and persisting the
// posterior once sampling ends.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/dyluth/nlbayes/internal/metrics"
	"github.com/dyluth/nlbayes/internal/sampler"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// ErrSamplerFailure wraps any error or panic raised by the sampler.
var ErrSamplerFailure = errors.New("sampler failure")

// Repeater retries a function with the configured backoff strategy.
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Params controls batch sizes and the convergence gates of both phases.
type Params struct {
	Chains            int
	BurninBatch       int
	BurninThreshold   float64
	SampleBatch       int
	SamplingThreshold float64
	MaxSamples        int
}

// DefaultParams returns the production sampling schedule.
func DefaultParams() Params {
	return Params{
		Chains:            5,
		BurninBatch:       20,
		BurninThreshold:   5.0,
		SampleBatch:       20,
		SamplingThreshold: 1.15,
		MaxSamples:        10000,
	}
}

// Runner executes tasks. One Runner may serve many tasks concurrently as long as
// each call to Run gets its own sampler.
type Runner struct {
	Blobs    jobstore.BlobStore
	Jobs     jobstore.JobStore
	Tasks    jobstore.TaskStore
	Repeater Repeater // retries progress reports; nil means a single attempt
	Metrics  *metrics.Metrics
	Params   Params
	WorkerID string
}

// Result is what a successful run produced.
type Result struct {
	PosteriorHash string
	Meta          jobstore.Meta
}

// run holds the per-task state threaded through the phases.
type run struct {
	*Runner
	taskID string
	job    *jobstore.Job
	s      sampler.Sampler
	start  time.Time
	meta   jobstore.Meta
}

// Run samples job with s and records progress under taskID. On any sampler,
// storage or context error the task and job are marked FAILED with the cause
// and the error is returned.
func (r *Runner) Run(ctx context.Context, taskID string, job *jobstore.Job, s sampler.Sampler) (*Result, error) {
	rn := r.newRun(taskID, job, s)
	start := rn.start

	log.Printf("[INFO] task %s: starting job %s on worker %s", taskID, job.ID, r.WorkerID)

	initial := rn.meta
	if err := r.Jobs.UpdateJobProgress(ctx, job.ID, jobstore.JobProgress{Phase: jobstore.PhasePending, Meta: &initial}); err != nil {
		return nil, rn.fail(ctx, fmt.Errorf("failed to record worker start: %w", err))
	}

	if err := rn.burnin(ctx); err != nil {
		return nil, rn.fail(ctx, err)
	}

	if err := rn.sample(ctx); err != nil {
		return nil, rn.fail(ctx, err)
	}

	result, err := rn.complete(ctx)
	if err != nil {
		return nil, err
	}

	r.Metrics.RecordJobFinished(metrics.OutcomeComplete, time.Since(start))
	log.Printf("[INFO] task %s: complete after %d samples (gr_stat=%.4f, elapsed=%s)",
		taskID, result.Meta.NSampled, float64(result.Meta.GRStat), result.Meta.ElapsedTime)

	return result, nil
}

// Fail marks a task that never reached its sampler, for instance because its
// inputs could not be loaded, as FAILED on both the task and the job.
func (r *Runner) Fail(ctx context.Context, taskID string, job *jobstore.Job, cause error) error {
	return r.newRun(taskID, job, nil).fail(ctx, cause)
}

func (r *Runner) newRun(taskID string, job *jobstore.Job, s sampler.Sampler) *run {
	start := time.Now()
	return &run{
		Runner: r,
		taskID: taskID,
		job:    job,
		s:      s,
		start:  start,
		meta: jobstore.Meta{
			JobID:       job.ID,
			WorkerID:    r.WorkerID,
			StartTime:   start.UTC(),
			GRStat:      jobstore.Statistic(math.Inf(1)),
			ElapsedTime: time.Duration(0).String(),
		},
	}
}

func (rn *run) burnin(ctx context.Context) error {
	p := rn.Params
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("burn-in interrupted: %w", err)
		}

		status, err := rn.sampleBatch(p.BurninBatch, p.Chains, p.BurninThreshold)
		if err != nil {
			return fmt.Errorf("burn-in batch failed: %w", err)
		}

		rn.snapshot(ctx, jobstore.PhaseBurnin)

		if status == 0 {
			break
		}
	}

	log.Printf("[DEBUG] task %s: burn-in converged after %d samples", rn.taskID, rn.s.SampleCount())

	return rn.safeCall(func() error {
		rn.s.ResetBurnin()
		return nil
	})
}

func (rn *run) sample(ctx context.Context) error {
	p := rn.Params
	for rn.s.SampleCount() < p.MaxSamples {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sampling interrupted: %w", err)
		}

		n := min(p.SampleBatch, p.MaxSamples-rn.s.SampleCount())
		status, err := rn.sampleBatch(n, p.Chains, p.SamplingThreshold)
		if err != nil {
			return fmt.Errorf("sampling batch failed: %w", err)
		}

		rn.snapshot(ctx, jobstore.PhaseSampling)

		if status == 0 {
			break
		}
	}
	return nil
}

// complete stores the posterior and marks job and task COMPLETE. The job record
// is updated before the task state so a COMPLETE status always carries a hash
// that resolves.
func (rn *run) complete(ctx context.Context) (*Result, error) {
	end := time.Now()
	endUTC := end.UTC()
	rn.refreshMeta(end)
	rn.meta.EndTime = &endUTC

	var posterior jobstore.Posterior
	err := rn.safeCall(func() error {
		var err error
		if posterior.X, err = rn.s.PosteriorMean("X", 1); err != nil {
			return err
		}
		posterior.T, err = rn.s.PosteriorMean("T", 0)
		return err
	})
	if err != nil {
		return nil, rn.fail(ctx, fmt.Errorf("failed to read posterior: %w", err))
	}

	payload, err := json.Marshal(posterior)
	if err != nil {
		return nil, rn.fail(ctx, fmt.Errorf("failed to encode posterior: %w", err))
	}

	hash, err := rn.Blobs.PutBlob(ctx, payload, jobstore.PosteriorFilename)
	if err != nil {
		return nil, rn.fail(ctx, fmt.Errorf("failed to store posterior: %w", err))
	}

	meta := rn.meta
	err = rn.retry(ctx, func() error {
		return rn.Jobs.UpdateJobProgress(ctx, rn.job.ID, jobstore.JobProgress{
			Phase:         jobstore.PhaseComplete,
			Meta:          &meta,
			PosteriorHash: hash,
		})
	}, jobstore.ErrNotFound)
	if err != nil {
		return nil, rn.fail(ctx, fmt.Errorf("failed to record completion on job: %w", err))
	}

	state := &jobstore.TaskState{
		TaskID:        rn.taskID,
		JobID:         rn.job.ID,
		Phase:         jobstore.PhaseComplete,
		Meta:          &meta,
		PosteriorHash: hash,
	}
	if err := rn.retry(ctx, func() error { return rn.Tasks.SetTaskState(ctx, state) }, jobstore.ErrPhaseRegression); err != nil {
		return nil, fmt.Errorf("failed to publish completion for task %s: %w", rn.taskID, err)
	}

	return &Result{PosteriorHash: hash, Meta: meta}, nil
}

// snapshot records the current progress on the task and the job. Errors are
// logged and counted; the next batch supersedes a lost snapshot.
func (rn *run) snapshot(ctx context.Context, phase jobstore.Phase) {
	rn.refreshMeta(time.Now())
	meta := rn.meta
	rn.Metrics.RecordBatch(string(phase), float64(meta.GRStat))

	state := &jobstore.TaskState{TaskID: rn.taskID, JobID: rn.job.ID, Phase: phase, Meta: &meta}
	if err := rn.retry(ctx, func() error { return rn.Tasks.SetTaskState(ctx, state) }, jobstore.ErrPhaseRegression); err != nil {
		rn.Metrics.RecordReportError()
		log.Printf("[WARN] task %s: failed to report %s progress: %v", rn.taskID, phase, err)
	}

	progress := jobstore.JobProgress{Phase: phase, Meta: &meta}
	if err := rn.retry(ctx, func() error { return rn.Jobs.UpdateJobProgress(ctx, rn.job.ID, progress) }, jobstore.ErrNotFound); err != nil {
		rn.Metrics.RecordReportError()
		log.Printf("[WARN] task %s: failed to record %s progress on job %s: %v", rn.taskID, phase, rn.job.ID, err)
	}
}

// fail marks task and job FAILED with cause and returns cause. Persisting the
// failure ignores cancellation of ctx.
func (rn *run) fail(ctx context.Context, cause error) error {
	log.Printf("[ERROR] task %s: %v", rn.taskID, cause)

	persistCtx := context.WithoutCancel(ctx)
	end := time.Now()
	endUTC := end.UTC()
	rn.refreshMeta(end)
	rn.meta.EndTime = &endUTC
	meta := rn.meta

	progress := jobstore.JobProgress{Phase: jobstore.PhaseFailed, Meta: &meta, Error: cause.Error()}
	if err := rn.retry(persistCtx, func() error { return rn.Jobs.UpdateJobProgress(persistCtx, rn.job.ID, progress) }, jobstore.ErrNotFound); err != nil {
		log.Printf("[ERROR] task %s: failed to record failure on job %s: %v", rn.taskID, rn.job.ID, err)
	}

	state := &jobstore.TaskState{TaskID: rn.taskID, JobID: rn.job.ID, Phase: jobstore.PhaseFailed, Meta: &meta, Error: cause.Error()}
	if err := rn.retry(persistCtx, func() error { return rn.Tasks.SetTaskState(persistCtx, state) }, jobstore.ErrPhaseRegression); err != nil {
		log.Printf("[ERROR] task %s: failed to publish failure: %v", rn.taskID, err)
	}

	rn.Metrics.RecordJobFinished(metrics.OutcomeFailed, end.Sub(rn.start))
	return cause
}

func (rn *run) sampleBatch(n, chains int, threshold float64) (int, error) {
	var status int
	err := rn.safeCall(func() error {
		var err error
		status, err = rn.s.SampleN(n, chains, threshold)
		return err
	})
	return status, err
}

// safeCall runs a sampler operation, converting errors and panics to ErrSamplerFailure.
func (rn *run) safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSamplerFailure, p)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%w: %w", ErrSamplerFailure, err)
	}
	return nil
}

func (rn *run) refreshMeta(now time.Time) {
	if rn.s != nil {
		rn.meta.NSampled = rn.s.SampleCount()
		rn.meta.GRStat = jobstore.Statistic(rn.s.ConvergenceStat())
	}
	rn.meta.ElapsedTime = now.Sub(rn.start).Round(time.Millisecond).String()
}

func (rn *run) retry(ctx context.Context, fn func() error, stopOn ...error) error {
	if rn.Repeater == nil {
		return fn()
	}
	return rn.Repeater.Do(ctx, fn, stopOn...)
}
