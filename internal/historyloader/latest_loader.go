package historyloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/versioning"
)

// LatestSource answers batched latest-version lookups.
type LatestSource interface {
	LatestVersions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Version, error)
}

// LatestVersionLoader batches latest-version lookups for one entity type.
type LatestVersionLoader struct {
	Loader *dataloader.Loader
}

func NewLatestVersionLoader(src LatestSource) *LatestVersionLoader {
	loader := dataloader.NewBatchedLoader(batchLatest(src), dataloader.WithWait(5*time.Millisecond))
	return &LatestVersionLoader{Loader: loader}
}

// batchLatest answers a batch of record ids with one result per key, in key order.
func batchLatest(src LatestSource) dataloader.BatchFunc {
	return func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return failAll(len(keys), fmt.Errorf("invalid UUID %q: %w", k.String(), err))
			}
			ids[i] = id
		}

		latest, err := src.LatestVersions(ctx, ids)
		if err != nil {
			return failAll(len(keys), err)
		}

		// Results must follow the order of keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if v, ok := latest[id]; ok {
				results[i] = &dataloader.Result{Data: v}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}
}

// failAll reports err for every key; dataloader requires len(results) == len(keys).
func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

// Load returns the latest version of one record; ok is false without history.
func (l *LatestVersionLoader) Load(ctx context.Context, id uuid.UUID) (domain.Version, bool, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(id.String()))()
	if err != nil {
		return domain.Version{}, false, err
	}
	v, ok := data.(domain.Version)
	return v, ok, nil
}

// LoadMany returns the latest versions keyed by record id; records without
// history are omitted.
func (l *LatestVersionLoader) LoadMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Version, error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}
	data, errs := l.Loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	out := make(map[uuid.UUID]domain.Version, len(ids))
	for i, item := range data {
		if v, ok := item.(domain.Version); ok {
			out[ids[i]] = v
		}
	}
	return out, nil
}

// Set lazily creates one loader per entity type for the lifetime of a request.
type Set struct {
	mu       sync.Mutex
	registry *versioning.Registry
	loaders  map[string]*LatestVersionLoader
}

func NewSet(registry *versioning.Registry) *Set {
	return &Set{registry: registry, loaders: make(map[string]*LatestVersionLoader)}
}

// For returns the loader of an entity type, or false when the type is unknown.
func (s *Set) For(name string) (*LatestVersionLoader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loader, ok := s.loaders[name]; ok {
		return loader, true
	}
	engine, ok := s.registry.Get(name)
	if !ok {
		return nil, false
	}
	loader := NewLatestVersionLoader(engine)
	s.loaders[name] = loader
	return loader, true
}
