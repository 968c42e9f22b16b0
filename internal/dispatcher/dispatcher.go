// Package dispatcher turns submissions into stored inputs, a job record and a
// queued task, and answers status and result lookups for polling clients.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/dyluth/nlbayes/internal/metrics"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// ErrInvalidSubmission is matched by errors caused by the submitted inputs
// rather than by the stores.
var ErrInvalidSubmission = errors.New("invalid submission")

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	blobs   jobstore.BlobStore
	jobs    jobstore.JobStore
	tasks   jobstore.TaskStore
	queue   jobstore.Queue
	metrics *metrics.Metrics

	newJobID  func() string
	newTaskID func() string
}

// Submission identifies an accepted job and the task executing it.
type Submission struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
}

// New creates a dispatcher. m may be nil.
func New(blobs jobstore.BlobStore, jobs jobstore.JobStore, tasks jobstore.TaskStore, queue jobstore.Queue, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		blobs:     blobs,
		jobs:      jobs,
		tasks:     tasks,
		queue:     queue,
		metrics:   m,
		newJobID:  NewJobID,
		newTaskID: NewTaskID,
	}
}

// Submit stores the inputs, creates the job record and enqueues a task for it.
// A broker failure is returned as ErrQueueUnavailable and leaves the job
// without a task link.
func (d *Dispatcher) Submit(ctx context.Context, network jobstore.Network, evidence jobstore.Evidence, cfg jobstore.InferenceConfig) (*Submission, error) {
	if err := network.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid network: %w", ErrInvalidSubmission, err)
	}
	if err := evidence.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid evidence: %w", ErrInvalidSubmission, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	// encoding/json writes map keys in sorted order, so equal inputs hash equally
	networkJSON, err := json.Marshal(network)
	if err != nil {
		return nil, fmt.Errorf("failed to encode network: %w", err)
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence: %w", err)
	}

	networkHash, err := d.blobs.PutBlob(ctx, networkJSON, jobstore.NetworkFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to store network: %w", err)
	}
	evidenceHash, err := d.blobs.PutBlob(ctx, evidenceJSON, jobstore.EvidenceFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to store evidence: %w", err)
	}

	job := &jobstore.Job{
		ID:           d.newJobID(),
		NetworkHash:  networkHash,
		EvidenceHash: evidenceHash,
		Config:       cfg,
		SubmitTime:   time.Now().UTC(),
		Phase:        jobstore.PhasePending,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	taskID := d.newTaskID()
	msg := &jobstore.TaskMessage{TaskID: taskID, JobID: job.ID, EnqueuedAtMs: time.Now().UnixMilli()}
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		d.metrics.RecordQueueError()
		return nil, fmt.Errorf("failed to dispatch job %s: %w", job.ID, err)
	}

	// a fast worker may already have moved the task past PENDING
	pending := &jobstore.TaskState{TaskID: taskID, JobID: job.ID, Phase: jobstore.PhasePending}
	if err := d.tasks.SetTaskState(ctx, pending); err != nil && !errors.Is(err, jobstore.ErrPhaseRegression) {
		log.Printf("[WARN] failed to record pending state for task %s: %v", taskID, err)
	}

	if err := d.jobs.LinkTask(ctx, job.ID, taskID); err != nil {
		return nil, fmt.Errorf("failed to link task %s to job %s: %w", taskID, job.ID, err)
	}

	d.metrics.RecordSubmission()
	log.Printf("[INFO] submitted job %s as task %s", job.ID, taskID)

	return &Submission{JobID: job.ID, TaskID: taskID}, nil
}

// Status returns the current phase and latest snapshot of a task. Unknown
// tasks are reported as PENDING with no result.
func (d *Dispatcher) Status(ctx context.Context, taskID string) (*jobstore.Status, error) {
	state, err := d.tasks.GetTaskState(ctx, taskID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return jobstore.PendingStatus(taskID), nil
		}
		return nil, fmt.Errorf("failed to read status of task %s: %w", taskID, err)
	}
	return jobstore.StatusFromTask(state), nil
}

// Job returns the job record.
func (d *Dispatcher) Job(ctx context.Context, jobID string) (*jobstore.Job, error) {
	return d.jobs.GetJob(ctx, jobID)
}

// FetchResult loads and decodes the posterior stored under hash.
func (d *Dispatcher) FetchResult(ctx context.Context, hash string) (*jobstore.Posterior, error) {
	var posterior jobstore.Posterior
	if err := loadJSON(ctx, d.blobs, hash, &posterior); err != nil {
		return nil, fmt.Errorf("failed to load result %s: %w", hash, err)
	}
	return &posterior, nil
}

// LoadInputs fetches and decodes the network and evidence referenced by job.
func LoadInputs(ctx context.Context, blobs jobstore.BlobStore, job *jobstore.Job) (jobstore.Network, jobstore.Evidence, error) {
	var network jobstore.Network
	if err := loadJSON(ctx, blobs, job.NetworkHash, &network); err != nil {
		return nil, nil, fmt.Errorf("failed to load network: %w", err)
	}

	var evidence jobstore.Evidence
	if err := loadJSON(ctx, blobs, job.EvidenceHash, &evidence); err != nil {
		return nil, nil, fmt.Errorf("failed to load evidence: %w", err)
	}

	return network, evidence, nil
}

func loadJSON(ctx context.Context, blobs jobstore.BlobStore, hash string, v interface{}) error {
	data, filename, err := blobs.GetBlob(ctx, hash)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(filename, ".json") {
		return fmt.Errorf("blob %s is %q, not a JSON document", hash, filename)
	}
	return json.Unmarshal(data, v)
}
