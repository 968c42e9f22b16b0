// Package worker pulls task messages off the queue and runs each one to a
// terminal phase.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/dyluth/nlbayes/internal/config"
	"github.com/dyluth/nlbayes/internal/dispatcher"
	"github.com/dyluth/nlbayes/internal/runner"
	"github.com/dyluth/nlbayes/internal/sampler"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// dequeueErrorDelay is how long a slot waits after a broker error before polling again.
const dequeueErrorDelay = time.Second

// Options control how many tasks a worker runs and how long it waits for them.
type Options struct {
	WorkerID    string
	Concurrency int
	PollTimeout time.Duration
	JobTimeout  time.Duration // 0 = no limit
	Seed        uint64        // 0 = seed every task from the clock
}

// OptionsFromConfig extracts worker options from the service configuration.
// An empty worker ID falls back to the host name.
func OptionsFromConfig(cfg *config.Config) Options {
	id := cfg.Worker.ID
	if id == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		id = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return Options{
		WorkerID:    id,
		Concurrency: cfg.Worker.Concurrency,
		PollTimeout: cfg.Worker.PollTimeout,
		JobTimeout:  cfg.Worker.JobTimeout,
		Seed:        cfg.Sampler.Seed,
	}
}

// Engine runs Concurrency slots. Each slot blocks on the queue, executes the
// task it receives and goes back to the queue.
type Engine struct {
	opts    Options
	queue   jobstore.Queue
	runner  *runner.Runner
	factory sampler.Factory

	processed atomic.Int64
	seq       atomic.Uint64
}

// New creates an engine. The runner carries the stores and the sampling schedule.
func New(opts Options, queue jobstore.Queue, r *runner.Runner, factory sampler.Factory) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	r.WorkerID = opts.WorkerID
	return &Engine{
		opts:    opts,
		queue:   queue,
		runner:  r,
		factory: factory,
	}
}

// Processed returns the number of task messages this engine has handled.
func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

// Start launches the slots and blocks until ctx is cancelled and every slot
// has returned. Tasks still running when ctx is cancelled stop at their next
// batch boundary and are recorded as FAILED.
func (e *Engine) Start(ctx context.Context) error {
	log.Printf("[INFO] worker %s starting with %d slot(s)", e.opts.WorkerID, e.opts.Concurrency)

	gr := syncs.NewSizedGroup(e.opts.Concurrency, syncs.Context(ctx))
	for i := 0; i < e.opts.Concurrency; i++ {
		slot := i
		gr.Go(func(ctx context.Context) {
			e.slot(ctx, slot)
		})
	}
	gr.Wait()

	log.Printf("[INFO] worker %s stopped after %d task(s)", e.opts.WorkerID, e.Processed())
	return nil
}

func (e *Engine) slot(ctx context.Context, slot int) {
	defer log.Printf("[DEBUG] slot %d exited", slot)

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := e.queue.Dequeue(ctx, e.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] slot %d: failed to dequeue: %v", slot, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueErrorDelay):
			}
			continue
		}
		if msg == nil {
			continue
		}

		e.Process(ctx, msg)
	}
}

// Process executes one task message. Failures are recorded on the task and
// the job, never returned.
func (e *Engine) Process(ctx context.Context, msg *jobstore.TaskMessage) {
	e.processed.Add(1)
	e.runner.Metrics.TaskStarted()
	defer e.runner.Metrics.TaskDone()

	log.Printf("[INFO] received task %s for job %s (queued %s ago)",
		msg.TaskID, msg.JobID, time.Since(time.UnixMilli(msg.EnqueuedAtMs)).Round(time.Millisecond))

	state, err := e.runner.Tasks.GetTaskState(ctx, msg.TaskID)
	switch {
	case err == nil && state.Phase.Terminal():
		log.Printf("[WARN] task %s is already %s, skipping", msg.TaskID, state.Phase)
		return
	case err != nil && !jobstore.IsNotFound(err):
		log.Printf("[WARN] failed to read state of task %s: %v", msg.TaskID, err)
	}

	job, err := e.runner.Jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		e.failOrphan(ctx, msg, fmt.Errorf("failed to load job %s: %w", msg.JobID, err))
		return
	}

	runCtx := ctx
	if e.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.JobTimeout)
		defer cancel()
	}

	network, evidence, err := dispatcher.LoadInputs(runCtx, e.runner.Blobs, job)
	if err != nil {
		_ = e.runner.Fail(runCtx, msg.TaskID, job, err)
		return
	}

	s, err := e.factory(network, evidence, job.Config, e.nextSeed())
	if err != nil {
		_ = e.runner.Fail(runCtx, msg.TaskID, job, fmt.Errorf("failed to build sampler: %w", err))
		return
	}

	if _, err := e.runner.Run(runCtx, msg.TaskID, job, s); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			log.Printf("[WARN] task %s exceeded the job timeout of %s", msg.TaskID, e.opts.JobTimeout)
		}
		return
	}
}

// failOrphan records a failure for a task whose job record cannot be read.
func (e *Engine) failOrphan(ctx context.Context, msg *jobstore.TaskMessage, cause error) {
	log.Printf("[ERROR] task %s: %v", msg.TaskID, cause)
	state := &jobstore.TaskState{
		TaskID: msg.TaskID,
		JobID:  msg.JobID,
		Phase:  jobstore.PhaseFailed,
		Error:  cause.Error(),
	}
	if err := e.runner.Tasks.SetTaskState(context.WithoutCancel(ctx), state); err != nil {
		log.Printf("[ERROR] task %s: failed to publish failure: %v", msg.TaskID, err)
	}
}

// nextSeed returns the configured seed, or a fresh clock-derived one when unset.
func (e *Engine) nextSeed() uint64 {
	if e.opts.Seed != 0 {
		return e.opts.Seed
	}
	return uint64(time.Now().UnixNano()) + e.seq.Add(1)
}
