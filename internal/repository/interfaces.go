package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/versioned/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record or version row does not exist.
	ErrNotFound = errors.New("row not found")
	// ErrStaleRecord is returned when an optimistic lock comparison fails.
	ErrStaleRecord = errors.New("attempted to update a stale record")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("duplicate row")
)

// Mapping describes how a versioned entity type and its version table are laid out.
type Mapping struct {
	Table         string `mapstructure:"table"`
	IDColumn      string `mapstructure:"id_column"`
	VersionColumn string `mapstructure:"version_column"`
	// LockColumn is the optimistic concurrency counter; empty disables locking.
	LockColumn string `mapstructure:"lock_column"`
	// TypeColumn stores the concrete subtype of polymorphic records.
	TypeColumn string `mapstructure:"type_column"`

	VersionTable   string `mapstructure:"version_table"`
	ForeignKey     string `mapstructure:"foreign_key"`
	SequenceColumn string `mapstructure:"sequence_column"`
	// InheritanceColumn is the version table's subtype discriminator.
	InheritanceColumn string `mapstructure:"inheritance_column"`

	Fields []domain.FieldDefinition `mapstructure:"fields"`
}

// WithDefaults fills the conventional column names.
func (m Mapping) WithDefaults() Mapping {
	if m.IDColumn == "" {
		m.IDColumn = "id"
	}
	if m.VersionColumn == "" {
		m.VersionColumn = "version"
	}
	if m.SequenceColumn == "" {
		m.SequenceColumn = m.VersionColumn
	}
	return m
}

// Validate checks the mapping for missing or conflicting names.
func (m Mapping) Validate() error {
	if m.Table == "" {
		return fmt.Errorf("table is required")
	}
	if m.VersionTable == "" {
		return fmt.Errorf("version table is required for %s", m.Table)
	}
	if m.ForeignKey == "" {
		return fmt.Errorf("foreign key is required for %s", m.VersionTable)
	}
	if m.IDColumn == "" || m.VersionColumn == "" || m.SequenceColumn == "" {
		return fmt.Errorf("id, version and sequence columns are required for %s", m.Table)
	}
	if m.LockColumn != "" && m.LockColumn == m.VersionColumn {
		return fmt.Errorf("lock column %q must differ from the version column on %s", m.LockColumn, m.Table)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("at least one tracked field is required for %s", m.Table)
	}
	seen := make(map[string]struct{}, len(m.Fields))
	reserved := map[string]struct{}{
		m.IDColumn: {}, m.VersionColumn: {}, m.LockColumn: {}, m.TypeColumn: {},
		m.ForeignKey: {}, m.SequenceColumn: {}, m.InheritanceColumn: {},
		"updated_at": {}, "created_at": {},
	}
	for _, field := range m.Fields {
		if field.Name == "" {
			return fmt.Errorf("field name is required for %s", m.Table)
		}
		if !field.Type.Valid() {
			return fmt.Errorf("field %s has unsupported type %q", field.Name, field.Type)
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("field %s declared twice for %s", field.Name, m.Table)
		}
		if _, clash := reserved[field.Name]; clash {
			return fmt.Errorf("field %s collides with a bookkeeping column of %s", field.Name, m.Table)
		}
		seen[field.Name] = struct{}{}
	}
	return nil
}

// VersionFilter narrows a version listing by equality on tracked fields.
type VersionFilter struct {
	Equals map[string]any
}

// RecordRepository persists live records.
type RecordRepository interface {
	InsertRecord(ctx context.Context, m Mapping, rec domain.Record) error
	// UpdateRecord writes every tracked field, the version counter and the lock
	// counter in one statement. A non-nil expectedLock is compared against the
	// stored lock value and ErrStaleRecord is returned on mismatch.
	UpdateRecord(ctx context.Context, m Mapping, rec domain.Record, expectedLock *int64) error
	GetRecord(ctx context.Context, m Mapping, id uuid.UUID) (domain.Record, error)
	DeleteRecord(ctx context.Context, m Mapping, id uuid.UUID, expectedLock *int64) error
}

// VersionRepository persists version rows.
type VersionRepository interface {
	InsertVersion(ctx context.Context, m Mapping, v domain.Version) error
	GetVersion(ctx context.Context, m Mapping, entityID uuid.UUID, sequence int64) (domain.Version, error)
	ListVersions(ctx context.Context, m Mapping, entityID uuid.UUID, filter VersionFilter) ([]domain.Version, error)
	FirstVersion(ctx context.Context, m Mapping, entityID uuid.UUID) (domain.Version, error)
	LastVersion(ctx context.Context, m Mapping, entityID uuid.UUID) (domain.Version, error)
	VersionBefore(ctx context.Context, m Mapping, entityID uuid.UUID, sequence int64) (domain.Version, error)
	VersionAfter(ctx context.Context, m Mapping, entityID uuid.UUID, sequence int64) (domain.Version, error)
	CountVersions(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error)
	MaxSequence(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error)
	LatestVersions(ctx context.Context, m Mapping, entityIDs []uuid.UUID) (map[uuid.UUID]domain.Version, error)
	// DeleteOldestVersions removes the count lowest-sequence rows of an entity.
	DeleteOldestVersions(ctx context.Context, m Mapping, entityID uuid.UUID, count int64) (int64, error)
	DeleteVersions(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error)
	// DetachVersions clears the foreign key of an entity's version rows.
	DetachVersions(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error)
}

// Queries groups the record and version operations available on a connection or
// inside a transaction.
type Queries interface {
	RecordRepository
	VersionRepository
}

// Store is the record storage collaborator of the versioning engine.
type Store interface {
	Queries
	// WithTx runs fn inside one transaction; fn's error rolls it back.
	WithTx(ctx context.Context, fn func(Queries) error) error
	Dialect() string
}
