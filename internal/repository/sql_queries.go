package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/versioned/internal/domain"
)

// rows is the cursor surface shared by pgx.Rows and *sql.Rows.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// executor runs statements on a pool, a connection or a transaction.
type executor interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
}

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name        string
	placeholder func(n int) string
	// encode converts a canonical field value into a driver argument.
	encode func(fieldType domain.FieldType, value any) any
	// classify maps driver errors onto repository sentinels.
	classify func(err error) error
}

// sqlQueries implements Queries over any executor.
type sqlQueries struct {
	ex executor
	d  dialect
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type argList struct {
	d      dialect
	values []any
}

func (a *argList) add(value any) string {
	a.values = append(a.values, value)
	return a.d.placeholder(len(a.values))
}

func (q *sqlQueries) args() *argList {
	return &argList{d: q.d}
}

func (q *sqlQueries) encodeField(field domain.FieldDefinition, value any) (any, error) {
	canonical, err := field.Type.Coerce(value)
	if err != nil {
		return nil, fmt.Errorf("invalid value for field %s: %w", field.Name, err)
	}
	if canonical == nil {
		return nil, nil
	}
	return q.d.encode(field.Type, canonical), nil
}

func (q *sqlQueries) encodeTime(ts time.Time) any {
	return q.d.encode(domain.FieldTypeTimestamp, ts.UTC())
}

func (q *sqlQueries) fail(action string, err error) error {
	if q.d.classify != nil {
		if classified := q.d.classify(err); classified != nil {
			return fmt.Errorf("failed to %s: %w", action, classified)
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// recordColumns lists the selected expressions for a record row in scan order.
func recordColumns(m Mapping) []string {
	cols := []string{quoteIdent(m.IDColumn)}
	if m.TypeColumn != "" {
		cols = append(cols, "COALESCE("+quoteIdent(m.TypeColumn)+", '')")
	} else {
		cols = append(cols, "''")
	}
	cols = append(cols, quoteIdent(m.VersionColumn))
	if m.LockColumn != "" {
		cols = append(cols, quoteIdent(m.LockColumn))
	} else {
		cols = append(cols, "0")
	}
	cols = append(cols, quoteIdent("updated_at"))
	for _, field := range m.Fields {
		cols = append(cols, quoteIdent(field.Name))
	}
	return cols
}

func scanRecord(m Mapping, r rows) (domain.Record, error) {
	var (
		rec       domain.Record
		lock      int64
		updatedAt any
	)
	values := make([]any, len(m.Fields))
	dest := []any{&rec.ID, &rec.Type, &rec.Version, &lock, &updatedAt}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := r.Scan(dest...); err != nil {
		return domain.Record{}, err
	}
	rec.LockVersion = lock
	if ts, err := domain.FieldTypeTimestamp.Coerce(updatedAt); err == nil && ts != nil {
		rec.UpdatedAt = ts.(time.Time)
	}
	rec.Fields = make(map[string]any, len(m.Fields))
	for i, field := range m.Fields {
		rec.Fields[field.Name] = decodeField(field, values[i])
	}
	rec.MarkPersisted()
	return rec, nil
}

// versionColumns lists the selected expressions for a version row; prefix qualifies
// the columns with a table alias when non-empty.
func versionColumns(m Mapping, prefix string) []string {
	col := func(name string) string {
		if prefix == "" {
			return quoteIdent(name)
		}
		return prefix + "." + quoteIdent(name)
	}
	cols := []string{col("id"), col(m.ForeignKey), col(m.SequenceColumn)}
	if m.InheritanceColumn != "" {
		cols = append(cols, "COALESCE("+col(m.InheritanceColumn)+", '')")
	} else {
		cols = append(cols, "''")
	}
	cols = append(cols, col("created_at"))
	for _, field := range m.Fields {
		cols = append(cols, col(field.Name))
	}
	return cols
}

func scanVersion(m Mapping, r rows) (domain.Version, error) {
	var (
		v         domain.Version
		entityID  uuid.NullUUID
		createdAt any
	)
	values := make([]any, len(m.Fields))
	dest := []any{&v.ID, &entityID, &v.Sequence, &v.VersionType, &createdAt}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := r.Scan(dest...); err != nil {
		return domain.Version{}, err
	}
	if entityID.Valid {
		v.EntityID = entityID.UUID
	}
	if ts, err := domain.FieldTypeTimestamp.Coerce(createdAt); err == nil && ts != nil {
		v.CreatedAt = ts.(time.Time)
	}
	v.Fields = make(map[string]any, len(m.Fields))
	for i, field := range m.Fields {
		v.Fields[field.Name] = decodeField(field, values[i])
	}
	return v, nil
}

// decodeField normalises a scanned value; values the declared type rejects are kept raw.
func decodeField(field domain.FieldDefinition, raw any) any {
	if raw == nil {
		return nil
	}
	value, err := field.Type.Coerce(raw)
	if err != nil {
		return raw
	}
	return value
}

// InsertRecord inserts a new live row.
func (q *sqlQueries) InsertRecord(ctx context.Context, m Mapping, rec domain.Record) error {
	a := q.args()
	cols := []string{quoteIdent(m.IDColumn)}
	vals := []string{a.add(rec.ID)}
	if m.TypeColumn != "" {
		cols = append(cols, quoteIdent(m.TypeColumn))
		vals = append(vals, a.add(nullableText(rec.Type)))
	}
	cols = append(cols, quoteIdent(m.VersionColumn))
	vals = append(vals, a.add(rec.Version))
	if m.LockColumn != "" {
		cols = append(cols, quoteIdent(m.LockColumn))
		vals = append(vals, a.add(rec.LockVersion))
	}
	cols = append(cols, quoteIdent("updated_at"))
	vals = append(vals, a.add(q.encodeTime(rec.UpdatedAt)))
	for _, field := range m.Fields {
		value, err := q.encodeField(field, rec.Get(field.Name))
		if err != nil {
			return err
		}
		cols = append(cols, quoteIdent(field.Name))
		vals = append(vals, a.add(value))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(m.Table), strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := q.ex.exec(ctx, stmt, a.values...); err != nil {
		return q.fail("insert "+m.Table+" row", err)
	}
	return nil
}

// UpdateRecord rewrites a live row, optionally guarded by the lock column.
func (q *sqlQueries) UpdateRecord(ctx context.Context, m Mapping, rec domain.Record, expectedLock *int64) error {
	a := q.args()
	var sets []string
	if m.TypeColumn != "" {
		sets = append(sets, quoteIdent(m.TypeColumn)+" = "+a.add(nullableText(rec.Type)))
	}
	sets = append(sets, quoteIdent(m.VersionColumn)+" = "+a.add(rec.Version))
	if m.LockColumn != "" {
		sets = append(sets, quoteIdent(m.LockColumn)+" = "+a.add(rec.LockVersion))
	}
	sets = append(sets, quoteIdent("updated_at")+" = "+a.add(q.encodeTime(rec.UpdatedAt)))
	for _, field := range m.Fields {
		value, err := q.encodeField(field, rec.Get(field.Name))
		if err != nil {
			return err
		}
		sets = append(sets, quoteIdent(field.Name)+" = "+a.add(value))
	}

	where := quoteIdent(m.IDColumn) + " = " + a.add(rec.ID)
	if expectedLock != nil && m.LockColumn != "" {
		where += " AND " + quoteIdent(m.LockColumn) + " = " + a.add(*expectedLock)
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quoteIdent(m.Table), strings.Join(sets, ", "), where)
	affected, err := q.ex.exec(ctx, stmt, a.values...)
	if err != nil {
		return q.fail("update "+m.Table+" row", err)
	}
	if affected == 0 {
		return q.missingOrStale(ctx, m, rec.ID, expectedLock)
	}
	return nil
}

func (q *sqlQueries) missingOrStale(ctx context.Context, m Mapping, id uuid.UUID, expectedLock *int64) error {
	if expectedLock == nil || m.LockColumn == "" {
		return ErrNotFound
	}
	a := q.args()
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		quoteIdent(m.Table), quoteIdent(m.IDColumn), a.add(id))
	count, err := q.scalar(ctx, stmt, a.values...)
	if err != nil {
		return q.fail("check "+m.Table+" row", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleRecord
}

// GetRecord loads one live row.
func (q *sqlQueries) GetRecord(ctx context.Context, m Mapping, id uuid.UUID) (domain.Record, error) {
	a := q.args()
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(recordColumns(m), ", "), quoteIdent(m.Table), quoteIdent(m.IDColumn), a.add(id))
	r, err := q.ex.query(ctx, stmt, a.values...)
	if err != nil {
		return domain.Record{}, q.fail("get "+m.Table+" row", err)
	}
	defer r.Close()
	if !r.Next() {
		if err := r.Err(); err != nil {
			return domain.Record{}, q.fail("get "+m.Table+" row", err)
		}
		return domain.Record{}, ErrNotFound
	}
	rec, err := scanRecord(m, r)
	if err != nil {
		return domain.Record{}, q.fail("scan "+m.Table+" row", err)
	}
	return rec, nil
}

// DeleteRecord removes a live row, optionally guarded by the lock column.
func (q *sqlQueries) DeleteRecord(ctx context.Context, m Mapping, id uuid.UUID, expectedLock *int64) error {
	a := q.args()
	where := quoteIdent(m.IDColumn) + " = " + a.add(id)
	if expectedLock != nil && m.LockColumn != "" {
		where += " AND " + quoteIdent(m.LockColumn) + " = " + a.add(*expectedLock)
	}
	affected, err := q.ex.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(m.Table), where), a.values...)
	if err != nil {
		return q.fail("delete "+m.Table+" row", err)
	}
	if affected == 0 {
		return q.missingOrStale(ctx, m, id, expectedLock)
	}
	return nil
}

// InsertVersion writes a snapshot row.
func (q *sqlQueries) InsertVersion(ctx context.Context, m Mapping, v domain.Version) error {
	a := q.args()
	cols := []string{quoteIdent("id"), quoteIdent(m.ForeignKey), quoteIdent(m.SequenceColumn)}
	vals := []string{a.add(v.ID), a.add(v.EntityID), a.add(v.Sequence)}
	if m.InheritanceColumn != "" {
		cols = append(cols, quoteIdent(m.InheritanceColumn))
		vals = append(vals, a.add(nullableText(v.VersionType)))
	}
	cols = append(cols, quoteIdent("created_at"))
	vals = append(vals, a.add(q.encodeTime(v.CreatedAt)))
	for _, field := range m.Fields {
		value, err := q.encodeField(field, v.Fields[field.Name])
		if err != nil {
			return err
		}
		cols = append(cols, quoteIdent(field.Name))
		vals = append(vals, a.add(value))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(m.VersionTable), strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := q.ex.exec(ctx, stmt, a.values...); err != nil {
		return q.fail("insert "+m.VersionTable+" row", err)
	}
	return nil
}

func (q *sqlQueries) selectVersions(ctx context.Context, m Mapping, where string, order string, limit int, args []any) ([]domain.Version, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s %s",
		strings.Join(versionColumns(m, ""), ", "), quoteIdent(m.VersionTable), where, quoteIdent(m.SequenceColumn), order)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	r, err := q.ex.query(ctx, stmt, args...)
	if err != nil {
		return nil, q.fail("query "+m.VersionTable, err)
	}
	defer r.Close()

	versions := []domain.Version{}
	for r.Next() {
		v, err := scanVersion(m, r)
		if err != nil {
			return nil, q.fail("scan "+m.VersionTable+" row", err)
		}
		versions = append(versions, v)
	}
	if err := r.Err(); err != nil {
		return nil, q.fail("iterate "+m.VersionTable, err)
	}
	return versions, nil
}

func (q *sqlQueries) selectOneVersion(ctx context.Context, m Mapping, where string, order string, args []any) (domain.Version, error) {
	versions, err := q.selectVersions(ctx, m, where, order, 1, args)
	if err != nil {
		return domain.Version{}, err
	}
	if len(versions) == 0 {
		return domain.Version{}, ErrNotFound
	}
	return versions[0], nil
}

func (q *sqlQueries) ownerClause(m Mapping, a *argList, entityID uuid.UUID) string {
	return quoteIdent(m.ForeignKey) + " = " + a.add(entityID)
}

// GetVersion loads the version captured at sequence.
func (q *sqlQueries) GetVersion(ctx context.Context, m Mapping, entityID uuid.UUID, sequence int64) (domain.Version, error) {
	a := q.args()
	where := q.ownerClause(m, a, entityID) + " AND " + quoteIdent(m.SequenceColumn) + " = " + a.add(sequence)
	return q.selectOneVersion(ctx, m, where, "ASC", a.values)
}

// ListVersions returns an entity's versions in ascending sequence order.
func (q *sqlQueries) ListVersions(ctx context.Context, m Mapping, entityID uuid.UUID, filter VersionFilter) ([]domain.Version, error) {
	a := q.args()
	where := q.ownerClause(m, a, entityID)
	for _, field := range m.Fields {
		value, ok := filter.Equals[field.Name]
		if !ok {
			continue
		}
		if value == nil {
			where += " AND " + quoteIdent(field.Name) + " IS NULL"
			continue
		}
		encoded, err := q.encodeField(field, value)
		if err != nil {
			return nil, err
		}
		where += " AND " + quoteIdent(field.Name) + " = " + a.add(encoded)
	}
	for name := range filter.Equals {
		if _, ok := domain.LookupField(m.Fields, name); !ok {
			return nil, fmt.Errorf("cannot filter %s by untracked field %q", m.VersionTable, name)
		}
	}
	return q.selectVersions(ctx, m, where, "ASC", 0, a.values)
}

// FirstVersion returns the lowest-sequence version.
func (q *sqlQueries) FirstVersion(ctx context.Context, m Mapping, entityID uuid.UUID) (domain.Version, error) {
	a := q.args()
	return q.selectOneVersion(ctx, m, q.ownerClause(m, a, entityID), "ASC", a.values)
}

// LastVersion returns the highest-sequence version.
func (q *sqlQueries) LastVersion(ctx context.Context, m Mapping, entityID uuid.UUID) (domain.Version, error) {
	a := q.args()
	return q.selectOneVersion(ctx, m, q.ownerClause(m, a, entityID), "DESC", a.values)
}

// VersionBefore returns the closest version with a lower sequence.
func (q *sqlQueries) VersionBefore(ctx context.Context, m Mapping, entityID uuid.UUID, sequence int64) (domain.Version, error) {
	a := q.args()
	where := q.ownerClause(m, a, entityID) + " AND " + quoteIdent(m.SequenceColumn) + " < " + a.add(sequence)
	return q.selectOneVersion(ctx, m, where, "DESC", a.values)
}

// VersionAfter returns the closest version with a higher sequence.
func (q *sqlQueries) VersionAfter(ctx context.Context, m Mapping, entityID uuid.UUID, sequence int64) (domain.Version, error) {
	a := q.args()
	where := q.ownerClause(m, a, entityID) + " AND " + quoteIdent(m.SequenceColumn) + " > " + a.add(sequence)
	return q.selectOneVersion(ctx, m, where, "ASC", a.values)
}

func (q *sqlQueries) scalar(ctx context.Context, stmt string, args ...any) (int64, error) {
	r, err := q.ex.query(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	var value int64
	if r.Next() {
		if err := r.Scan(&value); err != nil {
			return 0, err
		}
	}
	return value, r.Err()
}

// CountVersions counts an entity's version rows.
func (q *sqlQueries) CountVersions(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error) {
	a := q.args()
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", quoteIdent(m.VersionTable), q.ownerClause(m, a, entityID))
	count, err := q.scalar(ctx, stmt, a.values...)
	if err != nil {
		return 0, q.fail("count "+m.VersionTable, err)
	}
	return count, nil
}

// MaxSequence returns the highest stored sequence, or 0 without history.
func (q *sqlQueries) MaxSequence(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error) {
	a := q.args()
	stmt := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s WHERE %s",
		quoteIdent(m.SequenceColumn), quoteIdent(m.VersionTable), q.ownerClause(m, a, entityID))
	highest, err := q.scalar(ctx, stmt, a.values...)
	if err != nil {
		return 0, q.fail("read max sequence of "+m.VersionTable, err)
	}
	return highest, nil
}

// LatestVersions returns the highest-sequence version for each listed entity that has history.
func (q *sqlQueries) LatestVersions(ctx context.Context, m Mapping, entityIDs []uuid.UUID) (map[uuid.UUID]domain.Version, error) {
	result := make(map[uuid.UUID]domain.Version, len(entityIDs))
	if len(entityIDs) == 0 {
		return result, nil
	}
	a := q.args()
	placeholders := make([]string, len(entityIDs))
	for i, id := range entityIDs {
		placeholders[i] = a.add(id)
	}
	fk := quoteIdent(m.ForeignKey)
	seq := quoteIdent(m.SequenceColumn)
	stmt := fmt.Sprintf(
		"SELECT %s FROM %s v WHERE v.%s IN (%s) AND v.%s = (SELECT MAX(v2.%s) FROM %s v2 WHERE v2.%s = v.%s)",
		strings.Join(versionColumns(m, "v"), ", "), quoteIdent(m.VersionTable),
		fk, strings.Join(placeholders, ", "), seq, seq, quoteIdent(m.VersionTable), fk, fk,
	)
	r, err := q.ex.query(ctx, stmt, a.values...)
	if err != nil {
		return nil, q.fail("query latest "+m.VersionTable, err)
	}
	defer r.Close()
	for r.Next() {
		v, err := scanVersion(m, r)
		if err != nil {
			return nil, q.fail("scan "+m.VersionTable+" row", err)
		}
		result[v.EntityID] = v
	}
	if err := r.Err(); err != nil {
		return nil, q.fail("iterate latest "+m.VersionTable, err)
	}
	return result, nil
}

// DeleteOldestVersions removes the count lowest-sequence versions of an entity.
func (q *sqlQueries) DeleteOldestVersions(ctx context.Context, m Mapping, entityID uuid.UUID, count int64) (int64, error) {
	if count <= 0 {
		return 0, nil
	}
	a := q.args()
	stmt := fmt.Sprintf(
		"DELETE FROM %s WHERE %s IN (SELECT %s FROM %s WHERE %s ORDER BY %s ASC LIMIT %d)",
		quoteIdent(m.VersionTable), quoteIdent("id"), quoteIdent("id"), quoteIdent(m.VersionTable),
		q.ownerClause(m, a, entityID), quoteIdent(m.SequenceColumn), count,
	)
	deleted, err := q.ex.exec(ctx, stmt, a.values...)
	if err != nil {
		return 0, q.fail("prune "+m.VersionTable, err)
	}
	return deleted, nil
}

// DeleteVersions removes every version of an entity.
func (q *sqlQueries) DeleteVersions(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error) {
	a := q.args()
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(m.VersionTable), q.ownerClause(m, a, entityID))
	deleted, err := q.ex.exec(ctx, stmt, a.values...)
	if err != nil {
		return 0, q.fail("delete "+m.VersionTable+" rows", err)
	}
	return deleted, nil
}

// DetachVersions nulls the owner reference of an entity's versions.
func (q *sqlQueries) DetachVersions(ctx context.Context, m Mapping, entityID uuid.UUID) (int64, error) {
	a := q.args()
	stmt := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s",
		quoteIdent(m.VersionTable), quoteIdent(m.ForeignKey), q.ownerClause(m, a, entityID))
	updated, err := q.ex.exec(ctx, stmt, a.values...)
	if err != nil {
		return 0, q.fail("detach "+m.VersionTable+" rows", err)
	}
	return updated, nil
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
