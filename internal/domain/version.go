package domain

import (
	"time"

	"github.com/google/uuid"
)

// Version captures a historical snapshot of a record's tracked fields.
// EntityID is uuid.Nil once the owning record was destroyed with the nullify policy.
type Version struct {
	ID          uuid.UUID      `json:"id"`
	EntityID    uuid.UUID      `json:"entity_id"`
	Sequence    int64          `json:"sequence"`
	VersionType string         `json:"version_type,omitempty"`
	Fields      map[string]any `json:"fields"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewVersionFromRecord snapshots every tracked field of rec at sequence.
func NewVersionFromRecord(rec Record, fields []FieldDefinition, sequence int64, capturedAt time.Time) Version {
	snapshot := make(map[string]any, len(fields))
	for _, field := range fields {
		snapshot[field.Name] = rec.Get(field.Name)
	}
	return Version{
		ID:          uuid.New(),
		EntityID:    rec.ID,
		Sequence:    sequence,
		VersionType: rec.Type,
		Fields:      snapshot,
		CreatedAt:   capturedAt,
	}
}

// Get returns the snapshot value of a field.
func (v Version) Get(name string) any {
	return v.Fields[name]
}

// Has reports whether the snapshot carries a value slot for name.
func (v Version) Has(name string) bool {
	_, ok := v.Fields[name]
	return ok
}

// IsDetached reports whether the owning record reference was cleared.
func (v Version) IsDetached() bool {
	return v.EntityID == uuid.Nil
}
