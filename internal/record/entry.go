package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind is the mutation carried by a queue entry.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// CarriesPayload reports whether entries of this kind hold a full record.
// Delete entries carry only the entity id.
func (k Kind) CarriesPayload() bool {
	return k == KindCreate || k == KindUpdate
}

// QueueEntry is a pending mutation awaiting transmission to the remote.
//
// RetryCount is not part of the persisted entry: it is read from delivery
// bookkeeping so that failed flushes leave the entry itself untouched.
type QueueEntry struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// EntryID builds the synthetic queue key for a mutation.
//
//	sync-{entityId}-{unixNano}          create / update
//	sync-delete-{entityId}-{unixNano}   delete
//
// The nanosecond timestamp is zero-padded to 19 digits so ids for the same
// entity sort lexically in time order.
func EntryID(kind Kind, entityID string, at time.Time) string {
	ts := fmt.Sprintf("%019d", at.UnixNano())
	if kind == KindDelete {
		return "sync-delete-" + entityID + "-" + ts
	}
	return "sync-" + entityID + "-" + ts
}

// NewEntry builds a queue entry stamped at the given time.
// Payload must be nil for delete entries.
func NewEntry(kind Kind, entityID string, payload json.RawMessage, at time.Time) (QueueEntry, error) {
	if !kind.Valid() {
		return QueueEntry{}, fmt.Errorf("invalid entry kind %q", kind)
	}
	if entityID == "" {
		return QueueEntry{}, ErrMissingID
	}
	if kind.CarriesPayload() && len(payload) == 0 {
		return QueueEntry{}, fmt.Errorf("%s entry for %s requires a payload", kind, entityID)
	}
	if !kind.CarriesPayload() {
		payload = nil
	}
	return QueueEntry{
		ID:         EntryID(kind, entityID, at),
		Kind:       kind,
		EntityID:   entityID,
		Payload:    payload,
		EnqueuedAt: at.UTC(),
	}, nil
}

// ParseEntryTime extracts the timestamp suffix of an entry id.
func ParseEntryTime(id string) (time.Time, error) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '-' {
			n, err := strconv.ParseInt(id[i+1:], 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("parse entry id %q: %w", id, err)
			}
			return time.Unix(0, n).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse entry id %q: no timestamp", id)
}
