package versioning

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/versioned/internal/domain"
)

// RevertTo restores rec to the version captured at sequence and saves it without
// capturing a new version. It returns false without error when no such version
// exists. Storage failures return ErrConcurrencyConflict or a *PersistenceError
// and leave rec untouched.
func (e *Engine) RevertTo(ctx context.Context, rec *domain.Record, sequence int64) (ok bool, err error) {
	ctx, span := e.startSpan(ctx, "RevertTo", rec.ID)
	defer func() { endSpan(span, err) }()

	if rec.IsNewRecord() {
		return false, nil
	}
	v, found, err := e.History(rec.ID).Find(ctx, sequence)
	if err != nil || !found {
		return false, err
	}
	return e.revert(ctx, rec, v)
}

// RevertToVersion restores rec from v. A version that belongs to another record
// or was never stored is declined with false.
func (e *Engine) RevertToVersion(ctx context.Context, rec *domain.Record, v domain.Version) (ok bool, err error) {
	ctx, span := e.startSpan(ctx, "RevertToVersion", rec.ID)
	defer func() { endSpan(span, err) }()

	stored, valid, err := e.resolve(ctx, rec, v)
	if err != nil || !valid {
		return false, err
	}
	return e.revert(ctx, rec, stored)
}

// Restore copies the snapshot at sequence onto rec in memory without saving.
func (e *Engine) Restore(ctx context.Context, rec *domain.Record, sequence int64) (bool, error) {
	if rec.IsNewRecord() {
		return false, nil
	}
	v, found, err := e.History(rec.ID).Find(ctx, sequence)
	if err != nil || !found {
		return false, err
	}
	e.apply(rec, v)
	return true, nil
}

func (e *Engine) resolve(ctx context.Context, rec *domain.Record, v domain.Version) (domain.Version, bool, error) {
	if rec.IsNewRecord() || v.ID == uuid.Nil || v.EntityID != rec.ID {
		return domain.Version{}, false, nil
	}
	stored, found, err := e.History(rec.ID).Find(ctx, v.Sequence)
	if err != nil || !found || stored.ID != v.ID {
		return domain.Version{}, false, err
	}
	return stored, true, nil
}

// apply copies the snapshot fields, subtype and sequence onto rec.
func (e *Engine) apply(rec *domain.Record, v domain.Version) {
	for _, field := range e.cfg.Mapping.Fields {
		if v.Has(field.Name) {
			rec.Set(field.Name, v.Get(field.Name))
		}
	}
	m := e.cfg.Mapping
	if m.TypeColumn != "" && m.InheritanceColumn != "" && v.VersionType != "" {
		rec.Type = v.VersionType
	}
	rec.Version = v.Sequence
}

func (e *Engine) revert(ctx context.Context, rec *domain.Record, v domain.Version) (bool, error) {
	next := rec.Clone()
	e.apply(&next, v)
	if err := e.normalize(&next); err != nil {
		return false, err
	}
	if _, err := e.update(WithoutRevision(ctx), *rec, &next, false); err != nil {
		return false, err
	}
	*rec = next
	e.logger.Printf("[versioning] reverted %s %s to version %d", e.cfg.Name, rec.ID, v.Sequence)
	return true, nil
}
