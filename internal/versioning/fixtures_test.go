package versioning_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/versioned/internal/db"
	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/repository"
	"github.com/rpattn/versioned/internal/versioning"
)

func openTempStore(t *testing.T) (repository.Store, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "versioned.db")
	sqlDB, err := db.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Fatalf("close sqlite: %v", err)
		}
	})
	return repository.NewSQLiteStore(sqlDB), sqlDB
}

func pageConfig() versioning.Config {
	return versioning.Config{
		Name: "Page",
		Mapping: repository.Mapping{
			Table:        "pages",
			VersionTable: "page_versions",
			ForeignKey:   "page_id",
			Fields: []domain.FieldDefinition{
				{Name: "title", Type: domain.FieldTypeString},
				{Name: "body", Type: domain.FieldTypeString},
			},
		},
	}
}

func lockedPageConfig() versioning.Config {
	return versioning.Config{
		Name: "LockedPage",
		Mapping: repository.Mapping{
			Table:             "locked_pages",
			VersionColumn:     "revision",
			LockColumn:        "lock_version",
			TypeColumn:        "type",
			VersionTable:      "locked_pages_revisions",
			ForeignKey:        "page_id",
			InheritanceColumn: "version_type",
			Fields: []domain.FieldDefinition{
				{Name: "title", Type: domain.FieldTypeString},
			},
		},
		WatchFields: []string{"title"},
		Limit:       2,
	}
}

func landmarkConfig() versioning.Config {
	return versioning.Config{
		Name: "Landmark",
		Mapping: repository.Mapping{
			Table:        "landmarks",
			VersionTable: "landmark_versions",
			ForeignKey:   "landmark_id",
			Fields: []domain.FieldDefinition{
				{Name: "name", Type: domain.FieldTypeString},
				{Name: "latitude", Type: domain.FieldTypeFloat},
				{Name: "longitude", Type: domain.FieldTypeFloat},
				{Name: "doesnt_trigger_version", Type: domain.FieldTypeString},
			},
		},
		WatchFields: []string{"name", "latitude", "longitude"},
	}
}

func widgetConfig() versioning.Config {
	return versioning.Config{
		Name: "Widget",
		Mapping: repository.Mapping{
			Table:        "widgets",
			VersionTable: "widget_versions",
			ForeignKey:   "widget_id",
			Fields: []domain.FieldDefinition{
				{Name: "name", Type: domain.FieldTypeString},
			},
		},
		Dependent: versioning.DependentNullify,
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newEngine(t *testing.T, store repository.Store, cfg versioning.Config) *versioning.Engine {
	t.Helper()
	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	engine, err := versioning.NewEngine(store, cfg,
		versioning.WithLogger(quietLogger()),
		versioning.WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func mustCreate(t *testing.T, engine *versioning.Engine, rec *domain.Record) versioning.Outcome {
	t.Helper()
	out, err := engine.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return out
}

func mustSave(t *testing.T, engine *versioning.Engine, rec *domain.Record) versioning.Outcome {
	t.Helper()
	out, err := engine.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	return out
}

func mustCount(t *testing.T, engine *versioning.Engine, id uuid.UUID) int64 {
	t.Helper()
	count, err := engine.History(id).Count(context.Background())
	if err != nil {
		t.Fatalf("count versions: %v", err)
	}
	return count
}

// faultyStore injects failures into selected operations inside transactions.
type faultyStore struct {
	repository.Store
	failInsertVersion bool
	failPrune         bool
}

func (s faultyStore) WithTx(ctx context.Context, fn func(repository.Queries) error) error {
	return s.Store.WithTx(ctx, func(q repository.Queries) error {
		return fn(faultyQueries{Queries: q, store: s})
	})
}

type faultyQueries struct {
	repository.Queries
	store faultyStore
}

var errInjected = errors.New("disk full")

func (q faultyQueries) InsertVersion(ctx context.Context, m repository.Mapping, v domain.Version) error {
	if q.store.failInsertVersion {
		return errInjected
	}
	return q.Queries.InsertVersion(ctx, m, v)
}

func (q faultyQueries) DeleteOldestVersions(ctx context.Context, m repository.Mapping, id uuid.UUID, count int64) (int64, error) {
	if q.store.failPrune {
		return 0, errInjected
	}
	return q.Queries.DeleteOldestVersions(ctx, m, id, count)
}
