package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/seantiz/cairoprove/internal/model"
)

const (
	jobKeyPrefix = "jobs/"
	jobSeqKey    = "seq/jobs"
	seqBandwidth = 100
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore persists jobs as JSON documents in an embedded badger database.
// Writes are serialized by mu so that IDs become visible in allocation order
// and status checks cannot race with a concurrent update.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	mu  sync.Mutex
}

// NewBadgerStore opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(jobSeqKey), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open job sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq}, nil
}

// Close releases the unused part of the ID lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("release job sequence: %w", err)
	}
	return s.db.Close()
}

func jobKey(id uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", jobKeyPrefix, id)
}

func (s *BadgerStore) Create(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next job id: %w", err)
	}

	rec := j.Clone()
	rec.ID = n + 1
	rec.Status = model.StatusQueued
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := s.put(rec); err != nil {
		return err
	}
	j.ID = rec.ID
	j.Status = rec.Status
	j.CreatedAt = rec.CreatedAt
	return nil
}

func (s *BadgerStore) Update(_ context.Context, id uint64, status model.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.load(id)
	if err != nil {
		return err
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
	return s.put(j)
}

func (s *BadgerStore) Get(_ context.Context, id uint64) (*model.Job, error) {
	return s.load(id)
}

func (s *BadgerStore) List(_ context.Context, limit, offset int) ([]*model.Job, int, error) {
	limit, offset = pageBounds(limit, offset)
	var jobs []*model.Job
	total := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		for it.Seek([]byte(jobKeyPrefix + "\xff")); it.Valid(); it.Next() {
			total++
			if total <= offset || len(jobs) >= limit {
				continue
			}
			var j model.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &j)
			}); err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			jobs = append(jobs, &j)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *BadgerStore) Stats(_ context.Context) (*JobStats, error) {
	stats := newStats()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var j model.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &j)
			}); err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			stats.Total++
			stats.CountByStatus[string(j.Status)]++
			stats.CountByKind[string(j.Kind)]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

func (s *BadgerStore) load(id uint64) (*model.Job, error) {
	var j model.Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &j)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *BadgerStore) put(j *model.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(j.ID), data)
	}); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}
