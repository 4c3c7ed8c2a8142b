package versioning

import "context"

type scopeKey int

const (
	revisionSuppressedKey scopeKey = iota
	lockingSuppressedKey
)

// WithoutRevision returns a context under which saves never capture a version.
func WithoutRevision(ctx context.Context) context.Context {
	return context.WithValue(ctx, revisionSuppressedKey, true)
}

// RevisionSuppressed reports whether ctx disables version capture.
func RevisionSuppressed(ctx context.Context) bool {
	suppressed, _ := ctx.Value(revisionSuppressedKey).(bool)
	return suppressed
}

// WithoutLocking returns a context under which writes skip the optimistic lock
// comparison. The lock counter still advances.
func WithoutLocking(ctx context.Context) context.Context {
	return context.WithValue(ctx, lockingSuppressedKey, true)
}

// LockingSuppressed reports whether ctx disables the optimistic lock comparison.
func LockingSuppressed(ctx context.Context) bool {
	suppressed, _ := ctx.Value(lockingSuppressedKey).(bool)
	return suppressed
}
