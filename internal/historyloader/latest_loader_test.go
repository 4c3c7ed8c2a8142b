package historyloader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/versioned/internal/domain"
)

type fakeSource struct {
	mu       sync.Mutex
	calls    int
	versions map[uuid.UUID]domain.Version
	err      error
}

func (f *fakeSource) LatestVersions(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[uuid.UUID]domain.Version)
	for _, id := range ids {
		if v, ok := f.versions[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func TestLoadManyBatchesAndOrders(t *testing.T) {
	a, b, missing := uuid.New(), uuid.New(), uuid.New()
	src := &fakeSource{versions: map[uuid.UUID]domain.Version{
		a: {EntityID: a, Sequence: 3},
		b: {EntityID: b, Sequence: 7},
	}}
	loader := NewLatestVersionLoader(src)

	got, err := loader.LoadMany(context.Background(), []uuid.UUID{b, missing, a})
	if err != nil {
		t.Fatalf("load many: %v", err)
	}
	if len(got) != 2 || got[a].Sequence != 3 || got[b].Sequence != 7 {
		t.Fatalf("loaded = %+v", got)
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1", src.calls)
	}

	v, ok, err := loader.Load(context.Background(), a)
	if err != nil || !ok || v.Sequence != 3 {
		t.Fatalf("load a = %d ok=%t err=%v", v.Sequence, ok, err)
	}
	if _, ok, err := loader.Load(context.Background(), missing); ok || err != nil {
		t.Fatalf("load missing: ok=%t err=%v", ok, err)
	}
}

func TestLoadPropagatesErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	loader := NewLatestVersionLoader(src)
	if _, _, err := loader.Load(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected source error")
	}
}

func TestBatchAnswersEveryKeyOnInvalidID(t *testing.T) {
	src := &fakeSource{}
	keys := dataloader.Keys{
		dataloader.StringKey(uuid.NewString()),
		dataloader.StringKey("not-a-uuid"),
		dataloader.StringKey(uuid.NewString()),
	}

	results := batchLatest(src)(context.Background(), keys)
	if len(results) != len(keys) {
		t.Fatalf("results = %d, want %d", len(results), len(keys))
	}
	for i, res := range results {
		if res == nil || res.Error == nil || !strings.Contains(res.Error.Error(), "not-a-uuid") {
			t.Fatalf("result %d = %+v, want invalid UUID error", i, res)
		}
	}
	if src.calls != 0 {
		t.Fatalf("source calls = %d, want 0", src.calls)
	}
}
