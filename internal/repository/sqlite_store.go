package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/rpattn/versioned/internal/domain"
)

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	encode: func(fieldType domain.FieldType, value any) any {
		if ts, ok := value.(time.Time); ok && fieldType == domain.FieldTypeTimestamp {
			return ts.UTC().Format(time.RFC3339Nano)
		}
		return value
	},
	classify: func(err error) error {
		var sqliteErr *msqlite.Error
		if errors.As(err, &sqliteErr) {
			switch sqliteErr.Code() {
			case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
				return fmt.Errorf("%w: %s", ErrDuplicate, sqliteErr.Error())
			}
		}
		// Without extended result codes only the message tells unique violations apart.
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, err.Error())
		}
		return nil
	},
}

// sqlConn is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}

type sqlExecutor struct {
	conn sqlConn
}

func (e sqlExecutor) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := e.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (e sqlExecutor) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := e.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{Rows: r}, nil
}

// sqliteStore implements Store on a database/sql handle opened with modernc.org/sqlite
type sqliteStore struct {
	*sqlQueries
	db *sql.DB
}

// NewSQLiteStore creates a store backed by sqlDB
func NewSQLiteStore(sqlDB *sql.DB) Store {
	return &sqliteStore{
		sqlQueries: &sqlQueries{ex: sqlExecutor{conn: sqlDB}, d: sqliteDialect},
		db:         sqlDB,
	}
}

// WithTx runs fn in a database/sql transaction
func (s *sqliteStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(); err != nil {
				log.Printf("Failed to rollback transaction: %v", err)
			}
			panic(p)
		}
	}()

	if err := fn(&sqlQueries{ex: sqlExecutor{conn: tx}, d: sqliteDialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *sqliteStore) Dialect() string {
	return sqliteDialect.name
}
