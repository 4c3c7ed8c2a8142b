package versioning

import (
	"context"
	"slices"

	"github.com/rpattn/versioned/internal/condition"
	"github.com/rpattn/versioned/internal/domain"
)

// Policy decides when a save captures a version and how much history is kept.
type Policy struct {
	Condition   condition.Predicate
	WatchFields []string
	Limit       int64
}

// ShouldCapture applies, in order: suppression, the conditional predicate, the
// watch list, and finally requires at least one changed field.
func (p Policy) ShouldCapture(ctx context.Context, rec domain.Record, changed []string) bool {
	if RevisionSuppressed(ctx) {
		return false
	}
	if p.Condition != nil && !p.Condition(rec) {
		return false
	}
	if len(p.WatchFields) > 0 {
		for _, name := range p.WatchFields {
			if slices.Contains(changed, name) {
				return true
			}
		}
		return false
	}
	return len(changed) > 0
}

// PruneExcess returns how many of the oldest versions exceed the limit.
func (p Policy) PruneExcess(count int64) int64 {
	return PruneExcess(count, p.Limit)
}

// PruneExcess returns count-limit when a positive limit is exceeded, else 0.
func PruneExcess(count, limit int64) int64 {
	if limit <= 0 || count <= limit {
		return 0
	}
	return count - limit
}
