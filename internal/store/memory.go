package store

import (
	"context"
	"sync"
	"time"

	"github.com/seantiz/cairoprove/internal/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps jobs in process memory. Job IDs are dense, so the job with
// ID n lives at index n-1.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs []*model.Job
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j.ID = uint64(len(s.jobs)) + 1
	j.Status = model.StatusQueued
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	s.jobs = append(s.jobs, j.Clone())
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id uint64, status model.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	if !model.ValidTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.Status = status
	j.Message = message
	if status == model.StatusRunning {
		j.StartedAt = &now
	}
	if status.Terminal() {
		j.FinishedAt = &now
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*model.Job, int, error) {
	limit, offset = pageBounds(limit, offset)
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.jobs)
	var page []*model.Job
	for i := total - 1 - offset; i >= 0 && len(page) < limit; i-- {
		page = append(page, s.jobs[i].Clone())
	}
	return page, total, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := newStats()
	for _, j := range s.jobs {
		stats.Total++
		stats.CountByStatus[string(j.Status)]++
		stats.CountByKind[string(j.Kind)]++
	}
	return stats, nil
}

// Close is a no-op; it exists to satisfy Store.
func (s *MemoryStore) Close() error {
	return nil
}

// lookup must be called with s.mu held.
func (s *MemoryStore) lookup(id uint64) (*model.Job, bool) {
	if id == 0 || id > uint64(len(s.jobs)) {
		return nil, false
	}
	return s.jobs[id-1], true
}
