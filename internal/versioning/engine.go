package versioning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/versioned/internal/changes"
	"github.com/rpattn/versioned/internal/condition"
	"github.com/rpattn/versioned/internal/domain"
	"github.com/rpattn/versioned/internal/repository"
)

const tracerName = "github.com/rpattn/versioned/internal/versioning"

// State is the terminal state of one save.
type State int

const (
	// StateSkipped means the save completed without capturing a version.
	StateSkipped State = iota
	// StateCaptured means a version row was written with the save.
	StateCaptured
)

func (s State) String() string {
	if s == StateCaptured {
		return "captured"
	}
	return "skipped"
}

// Outcome describes what a save did.
type Outcome struct {
	State State
	// Written is false when the save found nothing to persist.
	Written bool
	// Version is the captured snapshot when State is StateCaptured.
	Version domain.Version
	// Pruned counts versions removed by the retention limit.
	Pruned int64
	// PruneErr is set when pruning failed; the save itself still succeeded.
	PruneErr error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// Engine runs the save, history and revert lifecycle of one entity type.
type Engine struct {
	store   repository.Store
	cfg     Config
	tracker *changes.Tracker

	mu        sync.RWMutex
	condition condition.Predicate

	logger *log.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// NewEngine validates cfg and binds it to store.
func NewEngine(store repository.Store, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:     store,
		cfg:       cfg,
		tracker:   changes.NewTracker(cfg.Mapping.Fields),
		condition: cfg.Condition,
		logger:    log.Default(),
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Name returns the entity type name.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Condition = e.currentCondition()
	return cfg
}

// Fields returns the tracked field definitions.
func (e *Engine) Fields() []domain.FieldDefinition {
	return e.cfg.Mapping.Fields
}

// SetCondition replaces the capture predicate; nil removes it. Existing history is
// not affected.
func (e *Engine) SetCondition(pred condition.Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.condition = pred
}

func (e *Engine) currentCondition() condition.Predicate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.condition
}

// Policy returns the capture policy in effect.
func (e *Engine) Policy() Policy {
	return Policy{
		Condition:   e.currentCondition(),
		WatchFields: e.cfg.WatchFields,
		Limit:       e.cfg.Limit,
	}
}

// WithoutRevision runs fn with version capture suppressed. The suppression only
// lives in the context handed to fn, so it ends when fn returns or panics.
func (e *Engine) WithoutRevision(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(WithoutRevision(ctx))
}

// WithoutLocking runs fn with the optimistic lock comparison disabled.
func (e *Engine) WithoutLocking(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(WithoutLocking(ctx))
}

func (e *Engine) startSpan(ctx context.Context, name string, id uuid.UUID) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "versioning."+name,
		trace.WithAttributes(
			attribute.String("versioning.entity", e.cfg.Name),
			attribute.String("versioning.record_id", id.String()),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// normalize coerces every tracked field to its canonical representation.
func (e *Engine) normalize(rec *domain.Record) error {
	for _, field := range e.cfg.Mapping.Fields {
		value, err := field.Type.Coerce(rec.Get(field.Name))
		if err != nil {
			return fmt.Errorf("invalid value for %s.%s: %w", e.cfg.Name, field.Name, err)
		}
		rec.Set(field.Name, value)
	}
	return nil
}

// Create inserts a new record and captures its first version unless ctx
// suppresses capture. rec is updated in place on success.
func (e *Engine) Create(ctx context.Context, rec *domain.Record) (out Outcome, err error) {
	ctx, span := e.startSpan(ctx, "Create", rec.ID)
	defer func() { endSpan(span, err) }()

	if !rec.IsNewRecord() {
		return Outcome{}, fmt.Errorf("%s record %s is already persisted", e.cfg.Name, rec.ID)
	}

	next := rec.Clone()
	if err := e.normalize(&next); err != nil {
		return Outcome{}, err
	}
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	now := e.now().UTC()
	next.UpdatedAt = now
	next.LockVersion = 0

	capture := !RevisionSuppressed(ctx)
	if capture {
		next.Version = 1
	}

	var version domain.Version
	err = e.store.WithTx(ctx, func(q repository.Queries) error {
		if err := q.InsertRecord(ctx, e.cfg.Mapping, next); err != nil {
			return err
		}
		if !capture {
			return nil
		}
		version = domain.NewVersionFromRecord(next, e.cfg.Mapping.Fields, next.Version, now)
		return q.InsertVersion(ctx, e.cfg.Mapping, version)
	})
	if err != nil {
		return Outcome{}, storageError("create "+e.cfg.Name+" record", err)
	}

	next.MarkPersisted()
	*rec = next
	out = Outcome{State: StateSkipped, Written: true}
	if capture {
		out.State = StateCaptured
		out.Version = version
		out.Pruned, out.PruneErr = e.prune(ctx, next.ID)
	}
	span.SetAttributes(attribute.String("versioning.state", out.State.String()))
	return out, nil
}

// Save persists rec. New records are created; stored records are updated when a
// tracked field or the subtype changed, capturing a version when the policy
// agrees. The version counter rides on the same UPDATE as the fields.
func (e *Engine) Save(ctx context.Context, rec *domain.Record) (out Outcome, err error) {
	if rec.IsNewRecord() {
		return e.Create(ctx, rec)
	}

	ctx, span := e.startSpan(ctx, "Save", rec.ID)
	defer func() { endSpan(span, err) }()

	next := rec.Clone()
	if err := e.normalize(&next); err != nil {
		return Outcome{}, err
	}

	changed := e.tracker.ChangedFields(rec.Persisted(), next.Fields)
	typeChanged := e.cfg.Mapping.TypeColumn != "" && next.Type != rec.PersistedType()
	if len(changed) == 0 && !typeChanged {
		span.SetAttributes(attribute.String("versioning.state", StateSkipped.String()))
		return Outcome{State: StateSkipped}, nil
	}

	capture := e.Policy().ShouldCapture(ctx, next, changed)
	version, err := e.update(ctx, *rec, &next, capture)
	if err != nil {
		return Outcome{}, err
	}

	*rec = next
	out = Outcome{State: StateSkipped, Written: true}
	if capture {
		out.State = StateCaptured
		out.Version = version
		out.Pruned, out.PruneErr = e.prune(ctx, next.ID)
	}
	span.SetAttributes(
		attribute.String("versioning.state", out.State.String()),
		attribute.StringSlice("versioning.changed", changed),
	)
	return out, nil
}

// SaveWithoutRevision saves rec without capturing a version.
func (e *Engine) SaveWithoutRevision(ctx context.Context, rec *domain.Record) (Outcome, error) {
	return e.Save(WithoutRevision(ctx), rec)
}

// update writes next over the stored row described by current in one
// transaction, inserting a version when capture is set. next is marked
// persisted on success.
func (e *Engine) update(ctx context.Context, current domain.Record, next *domain.Record, capture bool) (domain.Version, error) {
	m := e.cfg.Mapping
	now := e.now().UTC()

	var version domain.Version
	err := e.store.WithTx(ctx, func(q repository.Queries) error {
		var expectedLock *int64
		if m.LockColumn != "" {
			lock := current.LockVersion
			if LockingSuppressed(ctx) {
				stored, err := q.GetRecord(ctx, m, current.ID)
				if err != nil {
					return err
				}
				lock = stored.LockVersion
			} else {
				expectedLock = &lock
			}
			next.LockVersion = lock + 1
		}

		if capture {
			highest, err := q.MaxSequence(ctx, m, current.ID)
			if err != nil {
				return err
			}
			next.Version = max(highest, current.Version) + 1
		}
		next.UpdatedAt = now

		if err := q.UpdateRecord(ctx, m, *next, expectedLock); err != nil {
			return err
		}
		if !capture {
			return nil
		}
		version = domain.NewVersionFromRecord(*next, m.Fields, next.Version, now)
		return q.InsertVersion(ctx, m, version)
	})
	if err != nil {
		return domain.Version{}, storageError("save "+e.cfg.Name+" record", err)
	}

	next.MarkPersisted()
	return version, nil
}

// prune trims history beyond the retention limit in its own transaction.
// Failures are logged and returned without undoing the captured version.
func (e *Engine) prune(ctx context.Context, id uuid.UUID) (int64, error) {
	policy := e.Policy()
	if policy.Limit <= 0 {
		return 0, nil
	}

	var deleted int64
	err := e.store.WithTx(ctx, func(q repository.Queries) error {
		count, err := q.CountVersions(ctx, e.cfg.Mapping, id)
		if err != nil {
			return err
		}
		excess := policy.PruneExcess(count)
		if excess == 0 {
			return nil
		}
		deleted, err = q.DeleteOldestVersions(ctx, e.cfg.Mapping, id, excess)
		return err
	})
	if err != nil {
		err = storageError("prune "+e.cfg.Name+" history", err)
		e.logger.Printf("[versioning] %s %s: %v", e.cfg.Name, id, err)
		return 0, err
	}
	return deleted, nil
}

// Find loads a stored record.
func (e *Engine) Find(ctx context.Context, id uuid.UUID) (rec domain.Record, err error) {
	ctx, span := e.startSpan(ctx, "Find", id)
	defer func() { endSpan(span, err) }()

	rec, err = e.store.GetRecord(ctx, e.cfg.Mapping, id)
	if err != nil {
		return domain.Record{}, storageError("find "+e.cfg.Name+" record", err)
	}
	return rec, nil
}

// Destroy deletes rec and applies the dependent policy to its history in the
// same transaction.
func (e *Engine) Destroy(ctx context.Context, rec *domain.Record) (err error) {
	ctx, span := e.startSpan(ctx, "Destroy", rec.ID)
	defer func() { endSpan(span, err) }()

	if rec.IsNewRecord() {
		return fmt.Errorf("%s record was never persisted", e.cfg.Name)
	}

	m := e.cfg.Mapping
	var affected int64
	err = e.store.WithTx(ctx, func(q repository.Queries) error {
		var expectedLock *int64
		if m.LockColumn != "" && !LockingSuppressed(ctx) {
			lock := rec.LockVersion
			expectedLock = &lock
		}
		if err := q.DeleteRecord(ctx, m, rec.ID, expectedLock); err != nil {
			return err
		}
		var err error
		if e.cfg.Dependent == DependentNullify {
			affected, err = q.DetachVersions(ctx, m, rec.ID)
		} else {
			affected, err = q.DeleteVersions(ctx, m, rec.ID)
		}
		return err
	})
	if err != nil {
		return storageError("destroy "+e.cfg.Name+" record", err)
	}
	e.logger.Printf("[versioning] destroyed %s %s (%s %d versions)", e.cfg.Name, rec.ID, e.cfg.Dependent, affected)
	return nil
}

// LatestVersions returns the newest version of each listed record that has history.
func (e *Engine) LatestVersions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Version, error) {
	latest, err := e.store.LatestVersions(ctx, e.cfg.Mapping, ids)
	if err != nil {
		return nil, storageError("load latest "+e.cfg.Name+" versions", err)
	}
	return latest, nil
}

// DeleteOldest removes the count oldest versions of a record.
func (e *Engine) DeleteOldest(ctx context.Context, id uuid.UUID, count int64) (int64, error) {
	if count < 0 {
		return 0, fmt.Errorf("count must not be negative")
	}
	deleted, err := e.store.DeleteOldestVersions(ctx, e.cfg.Mapping, id, count)
	if err != nil {
		return 0, storageError("delete oldest "+e.cfg.Name+" versions", err)
	}
	return deleted, nil
}

// IsConflict reports whether err is an optimistic lock conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
