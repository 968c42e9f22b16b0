package jobstore

import (
	"context"
	"time"
)

// BlobStore persists immutable content-addressed payloads.
type BlobStore interface {
	PutBlob(ctx context.Context, data []byte, filename string) (string, error)
	GetBlob(ctx context.Context, hash string) ([]byte, string, error)
}

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	LinkTask(ctx context.Context, jobID, taskID string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress JobProgress) error
}

// JobScanner lists stored job ids by prefix.
type JobScanner interface {
	ScanJobIDs(ctx context.Context, prefix string) ([]string, error)
}

// TaskStore persists the latest state of each task.
type TaskStore interface {
	SetTaskState(ctx context.Context, state *TaskState) error
	GetTaskState(ctx context.Context, taskID string) (*TaskState, error)
}

// Queue is the broker between the dispatcher and the workers.
type Queue interface {
	Enqueue(ctx context.Context, msg *TaskMessage) error
	Dequeue(ctx context.Context, timeout time.Duration) (*TaskMessage, error)
}

var (
	_ BlobStore = (*Client)(nil)
	_ JobStore  = (*Client)(nil)
	_ TaskStore = (*Client)(nil)
	_ Queue     = (*Client)(nil)
)
