package store

import (
	"context"
	"errors"

	"github.com/seantiz/cairoprove/internal/model"
)

var (
	// ErrNotFound is returned when a job is not found.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a job status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobStats holds aggregate job counts.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
}

// Store is the registry of proving jobs. Every operation is linearizable with
// respect to the others.
type Store interface {
	// Create assigns the next job ID to j, sets its status to queued and
	// inserts it. The record is visible to Get before Create returns.
	Create(ctx context.Context, j *model.Job) error
	// Update records a status transition with its message. It returns
	// ErrNotFound for unknown IDs and ErrInvalidTransition when the state
	// machine forbids the move; in both cases nothing is changed.
	Update(ctx context.Context, id uint64, status model.Status, message string) error
	// Get returns a snapshot of the job or ErrNotFound.
	Get(ctx context.Context, id uint64) (*model.Job, error)
	// List returns a page of jobs, newest first, and the total job count.
	// A negative offset counts as zero and a non-positive limit yields an
	// empty page.
	List(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	Stats(ctx context.Context) (*JobStats, error)
	Close() error
}

// pageBounds normalizes List arguments.
func pageBounds(limit, offset int) (int, int) {
	return max(limit, 0), max(offset, 0)
}

func newStats() *JobStats {
	return &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}
}
