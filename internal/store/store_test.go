package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"records", "sync_queue", "delivery_attempts"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}

	indexes := []string{
		"idx_records_modified_at",
		"idx_records_owner",
		"idx_sync_queue_enqueued",
		"idx_sync_queue_entity",
	}
	for _, idx := range indexes {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
			idx,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %q not found: %v", idx, err)
		}
	}
}

func TestOpen_InvalidPathIsStorageUnavailable(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Fatal("expected error for invalid path, got nil")
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("error %v does not match ErrStorageUnavailable", err)
	}
}

func TestOpen_SecondProcessLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	defer s1.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open() error = %v, want ErrLocked", err)
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("lock error should also match ErrStorageUnavailable")
	}

	// Releasing the first handle frees the lock.
	s1.Close()
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Open() after Close() failed: %v", err)
	}
	s2.Close()
}

func TestOpen_WithoutLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s1.Close()

	s2, err := Open(path, WithoutLock())
	if err != nil {
		t.Fatalf("Open(WithoutLock) failed: %v", err)
	}
	s2.Close()
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.PutRecord(ctx, testRecord("a", "", 0, `{"id":"a"}`)); err != nil {
		t.Fatalf("PutRecord() failed: %v", err)
	}
	n, err := s.Count(ctx, Records)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count(records) = %d, want 1", n)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	checks := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "2"}, // FULL
		{"busy_timeout", "5000"},
		{"user_version", "1"},
	}
	for _, c := range checks {
		if err := s.verifyPragma(c.name, c.want); err != nil {
			t.Error(err)
		}
	}
}

func TestMigration_FromVersionZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	// Simulate a database written before delivery bookkeeping existed.
	if _, err := s.db.Exec("DROP TABLE delivery_attempts"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM delivery_attempts").Scan(&n); err != nil {
		t.Errorf("delivery_attempts missing after migration: %v", err)
	}
}

func TestDurability_AcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.PutRecord(ctx, testRecord("r1", "alice", 0, `{"id":"r1","n":1}`)); err != nil {
		t.Fatalf("PutRecord() failed: %v", err)
	}
	e := testEntry(t, "update", "r1", 0, `{"id":"r1","n":1}`)
	mustPutEntry(t, s, e)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.GetRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecord() after reopen failed: %v", err)
	}
	if string(got.Payload) != `{"id":"r1","n":1}` {
		t.Errorf("payload = %s", got.Payload)
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != e.ID {
		t.Errorf("entries after reopen = %+v, want [%s]", entries, e.ID)
	}
}

func TestCount_UnknownCollection(t *testing.T) {
	s := createTestStore(t)
	if _, err := s.Count(context.Background(), Collection("nope")); err == nil {
		t.Error("expected error for unknown collection")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := storageErr("put record", cause)

	if !errors.Is(err, ErrStorageUnavailable) {
		t.Error("StorageError should match ErrStorageUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("StorageError should unwrap to its cause")
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "put record" {
		t.Errorf("errors.As() = %+v", se)
	}
	if storageErr("noop", nil) != nil {
		t.Error("storageErr(nil) should be nil")
	}
}
