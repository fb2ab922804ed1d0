package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingID is returned when a record or document has no usable id.
var ErrMissingID = errors.New("record id is required")

// Record is any application entity the engine can persist and synchronize.
// The engine never looks inside a record beyond its id.
type Record interface {
	RecordID() string
}

// Owned is implemented by records that belong to an owner. The owner is
// indexed in the records collection for range queries.
type Owned interface {
	RecordOwner() string
}

// Stored is a record row as held by the records collection.
type Stored struct {
	ID         string
	Owner      string
	ModifiedAt time.Time
	Payload    json.RawMessage // canonical JSON
}

// Document is a schemaless record: any JSON object with a string "id" field.
// It is what the CLI and the HTTP remote use when the application type is
// not known at compile time.
type Document struct {
	ID     string
	Owner  string
	Fields map[string]any
}

// NewDocument parses a JSON object into a Document. The object must carry a
// non-empty string "id". An "owner" string field, when present, is used as
// the record owner.
func NewDocument(data []byte) (Document, error) {
	var d Document
	if err := d.UnmarshalJSON(data); err != nil {
		return Document{}, err
	}
	return d, nil
}

// RecordID implements Record.
func (d Document) RecordID() string { return d.ID }

// RecordOwner implements Owned.
func (d Document) RecordOwner() string { return d.Owner }

// MarshalJSON emits the fields with "id" (and "owner" if set) folded back in.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		out[k] = v
	}
	out["id"] = d.ID
	if d.Owner != "" {
		out["owner"] = d.Owner
	}
	return MarshalCanonical(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	v, err := decodeJSON(data)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("decode document: expected JSON object, got %T", v)
	}

	id, _ := obj["id"].(string)
	if id == "" {
		return ErrMissingID
	}
	owner, _ := obj["owner"].(string)

	fields := make(map[string]any, len(obj))
	for k, val := range obj {
		if k == "id" || k == "owner" {
			continue
		}
		fields[k] = val
	}

	d.ID = id
	d.Owner = owner
	d.Fields = fields
	return nil
}

// OwnerOf returns the owner of r, or "" if r does not implement Owned.
func OwnerOf(r Record) string {
	if o, ok := r.(Owned); ok {
		return o.RecordOwner()
	}
	return ""
}

// Encode validates the record id and returns its canonical JSON payload.
func Encode(r Record) (json.RawMessage, error) {
	if r.RecordID() == "" {
		return nil, ErrMissingID
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.RecordID(), err)
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.RecordID(), err)
	}
	return canonical, nil
}

// Decode unmarshals a stored payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}
