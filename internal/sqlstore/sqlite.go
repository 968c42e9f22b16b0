// Package sqlstore keeps blobs and job records in a SQLite database. It is the
// durable alternative to keeping them in Redis; tasks and the queue stay in Redis.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// Store implements jobstore.BlobStore and jobstore.JobStore on SQLite.
type Store struct {
	db *sqlx.DB
}

var (
	_ jobstore.BlobStore  = (*Store)(nil)
	_ jobstore.JobStore   = (*Store)(nil)
	_ jobstore.JobScanner = (*Store)(nil)
)

// New opens (creating if needed) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// a single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS blobs (
			hash TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			data BLOB NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			network_hash TEXT NOT NULL,
			evidence_hash TEXT NOT NULL,
			config TEXT NOT NULL,
			submit_time TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL,
			meta TEXT NOT NULL DEFAULT '',
			posterior_hash TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_task_id ON jobs(task_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// PutBlob stores data under its content hash. The insert is a no-op when the
// hash exists; the stored filename decides between success and conflict.
func (s *Store) PutBlob(ctx context.Context, data []byte, filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("blob filename cannot be empty")
	}

	hash := jobstore.ContentHash(data)
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (hash, filename, data, size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`,
		hash, filename, data, len(data), time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	var stored string
	if err := s.db.GetContext(ctx, &stored, `SELECT filename FROM blobs WHERE hash = ?`, hash); err != nil {
		return "", fmt.Errorf("failed to read back blob %s: %w", hash, err)
	}

	if stored != filename {
		return "", &jobstore.IntegrityConflictError{Hash: hash, Stored: stored, Requested: filename}
	}

	return hash, nil
}

type blobRow struct {
	Data     []byte `db:"data"`
	Filename string `db:"filename"`
}

// GetBlob returns the content and filename of a blob.
func (s *Store) GetBlob(ctx context.Context, hash string) ([]byte, string, error) {
	var row blobRow
	err := s.db.GetContext(ctx, &row, `SELECT data, filename FROM blobs WHERE hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("blob %s: %w", hash, jobstore.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob: %w", err)
	}
	return row.Data, row.Filename, nil
}

type jobRow struct {
	JobID         string `db:"job_id"`
	NetworkHash   string `db:"network_hash"`
	EvidenceHash  string `db:"evidence_hash"`
	Config        string `db:"config"`
	SubmitTime    string `db:"submit_time"`
	TaskID        string `db:"task_id"`
	Phase         string `db:"phase"`
	Meta          string `db:"meta"`
	PosteriorHash string `db:"posterior_hash"`
	Error         string `db:"error"`
}

// CreateJob inserts a new job record. Fails with ErrJobExists for a taken id.
func (s *Store) CreateJob(ctx context.Context, job *jobstore.Job) error {
	if job.Phase == "" {
		job.Phase = jobstore.PhasePending
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	row, err := toJobRow(job)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (job_id, network_hash, evidence_hash, config, submit_time, task_id, phase, meta, posterior_hash, error)
		VALUES (:job_id, :network_hash, :evidence_hash, :config, :submit_time, :task_id, :phase, :meta, :posterior_hash, :error)
		ON CONFLICT(job_id) DO NOTHING`, row)
	if err != nil {
		return fmt.Errorf("failed to write job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check job insert: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, jobstore.ErrJobExists)
	}
	return nil
}

// GetJob reads a job record.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobstore.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, jobstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	return row.toJob()
}

// ScanJobIDs returns the sorted ids of jobs starting with prefix.
func (s *Store) ScanJobIDs(ctx context.Context, prefix string) ([]string, error) {
	if strings.Trim(strings.ToLower(prefix), "0123456789abcdef-") != "" {
		return nil, fmt.Errorf("invalid job ID prefix: %q", prefix)
	}
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT job_id FROM jobs WHERE job_id LIKE ? ORDER BY job_id`, prefix+"%"); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return ids, nil
}

// LinkTask records the dispatched task id on a job.
func (s *Store) LinkTask(ctx context.Context, jobID, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET task_id = ? WHERE job_id = ?`, taskID, jobID)
	if err != nil {
		return fmt.Errorf("failed to link task: %w", err)
	}
	return requireRow(res, jobID)
}

// UpdateJobProgress replaces the progress columns of a job in one statement.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, progress jobstore.JobProgress) error {
	if err := progress.Phase.Validate(); err != nil {
		return fmt.Errorf("invalid progress: %w", err)
	}
	if progress.PosteriorHash != "" && !jobstore.IsValidHash(progress.PosteriorHash) {
		return fmt.Errorf("invalid posterior hash: %q", progress.PosteriorHash)
	}

	meta := ""
	if progress.Meta != nil {
		data, err := json.Marshal(progress.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		meta = string(data)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET phase = ?, meta = ?, error = ?,
			posterior_hash = CASE WHEN ? = '' THEN posterior_hash ELSE ? END
		WHERE job_id = ?`,
		string(progress.Phase), meta, progress.Error, progress.PosteriorHash, progress.PosteriorHash, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return requireRow(res, jobID)
}

func requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check job update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, jobstore.ErrNotFound)
	}
	return nil
}

func toJobRow(job *jobstore.Job) (*jobRow, error) {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	meta := ""
	if job.Meta != nil {
		data, err := json.Marshal(job.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal meta: %w", err)
		}
		meta = string(data)
	}

	return &jobRow{
		JobID:         job.ID,
		NetworkHash:   job.NetworkHash,
		EvidenceHash:  job.EvidenceHash,
		Config:        string(cfg),
		SubmitTime:    job.SubmitTime.UTC().Format(time.RFC3339Nano),
		TaskID:        job.TaskID,
		Phase:         string(job.Phase),
		Meta:          meta,
		PosteriorHash: job.PosteriorHash,
		Error:         job.Error,
	}, nil
}

func (r *jobRow) toJob() (*jobstore.Job, error) {
	var cfg jobstore.InferenceConfig
	if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	submitTime, err := time.Parse(time.RFC3339Nano, r.SubmitTime)
	if err != nil {
		return nil, fmt.Errorf("invalid submit_time: %w", err)
	}

	var meta *jobstore.Meta
	if r.Meta != "" {
		meta = &jobstore.Meta{}
		if err := json.Unmarshal([]byte(r.Meta), meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
		}
	}

	return &jobstore.Job{
		ID:            r.JobID,
		NetworkHash:   r.NetworkHash,
		EvidenceHash:  r.EvidenceHash,
		Config:        cfg,
		SubmitTime:    submitTime,
		TaskID:        r.TaskID,
		Phase:         jobstore.Phase(r.Phase),
		Meta:          meta,
		PosteriorHash: r.PosteriorHash,
		Error:         r.Error,
	}, nil
}
