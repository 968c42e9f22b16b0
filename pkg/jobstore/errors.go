package jobstore

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a blob, job or task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIntegrityConflict is matched by IntegrityConflictError.
	ErrIntegrityConflict = errors.New("blob integrity conflict")

	// ErrQueueUnavailable is returned when a task message cannot be handed to the broker.
	ErrQueueUnavailable = errors.New("task queue unavailable")

	// ErrPhaseRegression is returned when a task state write would move the task
	// to an earlier phase or out of a terminal phase.
	ErrPhaseRegression = errors.New("phase regression")

	// ErrJobExists is returned by CreateJob when the job id is already taken.
	ErrJobExists = errors.New("job already exists")
)

// IntegrityConflictError reports content that is already stored under another filename.
type IntegrityConflictError struct {
	Hash      string
	Stored    string
	Requested string
}

func (e *IntegrityConflictError) Error() string {
	return fmt.Sprintf("blob %s already stored as %q, refusing to store it as %q", e.Hash, e.Stored, e.Requested)
}

// Is lets errors.Is match ErrIntegrityConflict.
func (e *IntegrityConflictError) Is(target error) bool {
	return target == ErrIntegrityConflict
}

// IsNotFound returns true for ErrNotFound and for raw Redis "key not found" errors (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
}
