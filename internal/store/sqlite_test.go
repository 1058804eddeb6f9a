package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/seantiz/cairoprove/internal/model"
)

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	j := makeTestJob()
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Update(ctx, j.ID, model.StatusRunning, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Status != model.StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt lost across reopen")
	}

	// AUTOINCREMENT never hands out an ID twice.
	next := makeTestJob()
	if err := reopened.Create(ctx, next); err != nil {
		t.Fatalf("Create after reopen: %v", err)
	}
	if next.ID != j.ID+1 {
		t.Errorf("next ID = %d, want %d", next.ID, j.ID+1)
	}
}
