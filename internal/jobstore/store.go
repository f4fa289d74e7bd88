// Package jobstore holds the shared job state written by workers and read by
// status queries. Records are partial-merge hashes keyed by job id.
package jobstore

import (
	"context"
	"errors"

	"github.com/stemtranscriber/api/internal/model"
)

var (
	// ErrNotFound is returned for job ids that were never created (or expired).
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when updating a job that already succeeded or failed.
	ErrTerminal = errors.New("job already finished")
)

// Store is the job state store shared between the API and the workers.
type Store interface {
	// Create (re)initialises a job record in the queued state with progress 0.
	Create(ctx context.Context, jobID, projectID string, kind model.JobKind, message string) error
	// Update merges the non-nil fields of u into the record.
	Update(ctx context.Context, jobID string, u model.JobUpdate) error
	// Get returns the current snapshot or ErrNotFound.
	Get(ctx context.Context, jobID string) (*model.Job, error)
}

// ActiveLister is implemented by stores that can enumerate non-terminal jobs.
type ActiveLister interface {
	Active(ctx context.Context) ([]*model.Job, error)
}

// normalize enforces the progress invariants: progress stays in [0,100],
// success pins it to 100 and failure resets it to 0.
func normalize(u model.JobUpdate) model.JobUpdate {
	if u.Progress != nil {
		p := clamp(*u.Progress, 0, 100)
		u.Progress = &p
	}
	if u.State != nil {
		switch *u.State {
		case model.JobStateSucceeded:
			p := 100
			u.Progress = &p
		case model.JobStateFailed:
			p := 0
			u.Progress = &p
		}
	}
	return u
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
