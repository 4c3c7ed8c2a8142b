package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/versioned/internal/db"
	"github.com/rpattn/versioned/internal/domain"
)

const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	encode:      func(_ domain.FieldType, value any) any { return value },
	classify: func(err error) error {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Message)
		}
		return nil
	},
}

// pgxConn is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type pgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgxExecutor struct {
	conn pgxConn
}

func (e pgxExecutor) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e pgxExecutor) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := e.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// postgresStore implements Store on a pgx connection pool
type postgresStore struct {
	*sqlQueries
	conn *db.Connection
}

// NewPostgresStore creates a store backed by the connection's pool
func NewPostgresStore(conn *db.Connection) Store {
	return &postgresStore{
		sqlQueries: &sqlQueries{ex: pgxExecutor{conn: conn.Pool}, d: postgresDialect},
		conn:       conn,
	}
}

// WithTx runs fn in a pgx transaction
func (s *postgresStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&sqlQueries{ex: pgxExecutor{conn: tx}, d: postgresDialect})
	})
}

func (s *postgresStore) Dialect() string {
	return postgresDialect.name
}
