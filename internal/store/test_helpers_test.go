package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/tablesync/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// commitFact stores one fact in its own transaction.
func commitFact(t *testing.T, s *Store, relation string, v ir.Record, count int64) string {
	t.Helper()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	id := ir.MustFactID(v)
	if err := tx.SetCount(ctx, relation, id, v, count); err != nil {
		t.Fatalf("SetCount() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return id
}

func learned(port int64) ir.NamedStruct {
	return ir.Struct("Learned", ir.F("mac", ir.NewInt(0xaabb)), ir.F("port", ir.NewInt(port)))
}
