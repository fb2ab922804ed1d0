package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/stowaway/internal/record"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
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

func testRecord(id, owner string, offset time.Duration, payload string) record.Stored {
	return record.Stored{
		ID:         id,
		Owner:      owner,
		ModifiedAt: baseTime.Add(offset),
		Payload:    json.RawMessage(payload),
	}
}

func testEntry(t *testing.T, kind record.Kind, entityID string, offset time.Duration, payload string) record.QueueEntry {
	t.Helper()
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	e, err := record.NewEntry(kind, entityID, raw, baseTime.Add(offset))
	if err != nil {
		t.Fatalf("NewEntry() failed: %v", err)
	}
	return e
}

func mustPutEntry(t *testing.T, s *Store, e record.QueueEntry) {
	t.Helper()
	if err := s.PutEntry(context.Background(), e); err != nil {
		t.Fatalf("PutEntry(%s) failed: %v", e.ID, err)
	}
}
