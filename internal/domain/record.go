package domain

import (
	"time"

	"github.com/google/uuid"
)

// Record is a live versioned row. Fields holds the tracked column values keyed by
// column name; the version and lock counters are managed by the versioning engine.
type Record struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type,omitempty"`
	Version     int64          `json:"version"`
	LockVersion int64          `json:"lock_version"`
	Fields      map[string]any `json:"fields"`
	UpdatedAt   time.Time      `json:"updated_at"`

	persisted     map[string]any
	persistedType string
	stored        bool
}

// NewRecord creates an unsaved record of the given subtype.
func NewRecord(recordType string, fields map[string]any) Record {
	return Record{
		Type:   recordType,
		Fields: copyFields(fields),
	}
}

// IsNewRecord reports whether the record has never been persisted.
func (r Record) IsNewRecord() bool {
	return !r.stored
}

// Get returns the current value of a field.
func (r Record) Get(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// Set assigns a field value in place.
func (r *Record) Set(name string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[name] = value
}

// Persisted returns a copy of the field values as of the last successful write or
// load. It is nil for records that were never stored.
func (r Record) Persisted() map[string]any {
	if !r.stored {
		return nil
	}
	return copyFields(r.persisted)
}

// PersistedType returns the subtype as of the last successful write or load.
func (r Record) PersistedType() string {
	return r.persistedType
}

// MarkPersisted records the current state as the stored baseline.
func (r *Record) MarkPersisted() {
	r.persisted = copyFields(r.Fields)
	r.persistedType = r.Type
	r.stored = true
}

// Clone returns a copy that does not share field maps with r.
func (r Record) Clone() Record {
	clone := r
	clone.Fields = copyFields(r.Fields)
	if r.persisted != nil {
		clone.persisted = copyFields(r.persisted)
	}
	return clone
}

// copyFields copies the top level of a field map; values are treated as immutable
func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
