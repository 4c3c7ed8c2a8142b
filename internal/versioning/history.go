package versioning

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/repository"
)

// History navigates the stored versions of one record. Lookups that find nothing
// return ok == false rather than an error.
type History struct {
	engine   *Engine
	entityID uuid.UUID
}

// History returns the version history of the record with id.
func (e *Engine) History(id uuid.UUID) *History {
	return &History{engine: e, entityID: id}
}

func (h *History) mapping() repository.Mapping {
	return h.engine.cfg.Mapping
}

func (h *History) op(action string) string {
	return action + " " + h.engine.cfg.Name + " versions"
}

// lookup turns a repository miss into an absent result.
func (h *History) lookup(action string, v domain.Version, err error) (domain.Version, bool, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Version{}, false, nil
	}
	if err != nil {
		return domain.Version{}, false, storageError(h.op(action), err)
	}
	return v, true, nil
}

// List returns every version in ascending sequence order.
func (h *History) List(ctx context.Context) ([]domain.Version, error) {
	versions, err := h.engine.store.ListVersions(ctx, h.mapping(), h.entityID, repository.VersionFilter{})
	if err != nil {
		return nil, storageError(h.op("list"), err)
	}
	return versions, nil
}

// Where returns the versions whose field equals value.
func (h *History) Where(ctx context.Context, field string, value any) ([]domain.Version, error) {
	filter := repository.VersionFilter{Equals: map[string]any{field: value}}
	versions, err := h.engine.store.ListVersions(ctx, h.mapping(), h.entityID, filter)
	if err != nil {
		return nil, storageError(h.op("search"), err)
	}
	return versions, nil
}

// Count returns the number of stored versions.
func (h *History) Count(ctx context.Context) (int64, error) {
	count, err := h.engine.store.CountVersions(ctx, h.mapping(), h.entityID)
	if err != nil {
		return 0, storageError(h.op("count"), err)
	}
	return count, nil
}

// Find returns the version captured at sequence.
func (h *History) Find(ctx context.Context, sequence int64) (domain.Version, bool, error) {
	v, err := h.engine.store.GetVersion(ctx, h.mapping(), h.entityID, sequence)
	return h.lookup("find", v, err)
}

// Earliest returns the lowest-sequence version.
func (h *History) Earliest(ctx context.Context) (domain.Version, bool, error) {
	v, err := h.engine.store.FirstVersion(ctx, h.mapping(), h.entityID)
	return h.lookup("find earliest", v, err)
}

// Latest returns the highest-sequence version.
func (h *History) Latest(ctx context.Context) (domain.Version, bool, error) {
	v, err := h.engine.store.LastVersion(ctx, h.mapping(), h.entityID)
	return h.lookup("find latest", v, err)
}

// Before returns the version preceding v, absent for the earliest one or for a
// version of another record.
func (h *History) Before(ctx context.Context, v domain.Version) (domain.Version, bool, error) {
	if v.EntityID != h.entityID {
		return domain.Version{}, false, nil
	}
	prev, err := h.engine.store.VersionBefore(ctx, h.mapping(), h.entityID, v.Sequence)
	return h.lookup("find previous", prev, err)
}

// After returns the version following v, absent for the latest one or for a
// version of another record.
func (h *History) After(ctx context.Context, v domain.Version) (domain.Version, bool, error) {
	if v.EntityID != h.entityID {
		return domain.Version{}, false, nil
	}
	next, err := h.engine.store.VersionAfter(ctx, h.mapping(), h.entityID, v.Sequence)
	return h.lookup("find next", next, err)
}
