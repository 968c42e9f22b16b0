// Package watch follows a task from the client side until it reaches a
// terminal phase or stops making progress.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

var (
	// ErrStalled is returned when no progress was observed within the stall
	// timeout. The task may still be burning in or its worker may be gone.
	ErrStalled = errors.New("no progress observed")

	// ErrTaskFailed is returned when the task reached the FAILED phase.
	ErrTaskFailed = errors.New("task failed")
)

// StatusSource answers point-in-time status lookups.
type StatusSource interface {
	Status(ctx context.Context, taskID string) (*jobstore.Status, error)
}

// Options tune PollForCompletion.
type Options struct {
	Interval     time.Duration // between polls, default 1s
	StallTimeout time.Duration // 0 = wait forever

	// Events, when set, triggers an immediate poll whenever a state for the
	// watched task arrives. Polling remains the source of truth.
	Events <-chan *jobstore.TaskState

	// OnUpdate is called with every status that differs from the previous one.
	OnUpdate func(*jobstore.Status)
}

// PollForCompletion polls the status of taskID until it is COMPLETE, FAILED,
// stalled or ctx is done. The last accepted status is returned in every case.
// A status ranking below one already seen is ignored so callers observe a
// monotonic sequence of phases.
func PollForCompletion(ctx context.Context, src StatusSource, taskID string, opts Options) (*jobstore.Status, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var (
		last         *jobstore.Status
		lastProgress = time.Now()
	)

	poll := func() (bool, error) {
		status, err := src.Status(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			log.Printf("[WARN] failed to poll task %s: %v", taskID, err)
			return false, nil
		}

		if last != nil && status.Status.Rank() < last.Status.Rank() {
			log.Printf("[DEBUG] ignoring %s status for task %s already seen in %s", status.Status, taskID, last.Status)
			return false, nil
		}

		if progressed(last, status) {
			last = status
			lastProgress = time.Now()
			if opts.OnUpdate != nil {
				opts.OnUpdate(status)
			}
		}

		switch status.Status {
		case jobstore.PhaseComplete:
			return true, nil
		case jobstore.PhaseFailed:
			cause := "unknown cause"
			if status.Result != nil && status.Result.Error != "" {
				cause = status.Result.Error
			}
			return true, fmt.Errorf("%w: %s", ErrTaskFailed, cause)
		}
		return false, nil
	}

	for {
		done, err := poll()
		if done {
			return last, err
		}

		if opts.StallTimeout > 0 && time.Since(lastProgress) >= opts.StallTimeout {
			phase := jobstore.PhasePending
			if last != nil {
				phase = last.Status
			}
			return last, fmt.Errorf("%w for task %s in %s after %s", ErrStalled, taskID, phase, opts.StallTimeout)
		}

		if err := wait(ctx, ticker.C, &opts.Events, taskID); err != nil {
			return last, err
		}
	}
}

// wait blocks until the next tick or an event for taskID, whichever comes first.
func wait(ctx context.Context, tick <-chan time.Time, events *<-chan *jobstore.TaskState, taskID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			return nil
		case state, ok := <-*events:
			if !ok {
				*events = nil
				continue
			}
			if state.TaskID == taskID {
				return nil
			}
		}
	}
}

// progressed reports whether next carries anything the caller has not seen yet.
func progressed(prev, next *jobstore.Status) bool {
	if prev == nil {
		return true
	}
	if prev.Status != next.Status {
		return true
	}
	pm, nm := snapshotMeta(prev), snapshotMeta(next)
	if pm == nil || nm == nil {
		return pm != nm
	}
	return pm.NSampled != nm.NSampled || pm.ElapsedTime != nm.ElapsedTime
}

func snapshotMeta(s *jobstore.Status) *jobstore.Meta {
	if s.Result == nil {
		return nil
	}
	return s.Result.Meta
}
