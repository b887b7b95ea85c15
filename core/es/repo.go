package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/chronicle-go/core/perkey"
)

// Repository rebuilds aggregates of one Schema by replay and stores their
// pending events with optimistic concurrency.
type Repository[S any] struct {
	log         *slog.Logger
	store       *EventStore
	schema      *Schema[S]
	idGenerator IDGenerator
	metrics     ESMetrics
	now         func() time.Time
	locks       *perkey.Locker[string]
}

// NewRepository registers the event types of schema with the store's registry.
func NewRepository[S any](store *EventStore, schema *Schema[S], opts ...RepositoryOption) *Repository[S] {
	options := newRepoOpts(opts...)
	schema.Register(store.Registry())
	return &Repository[S]{
		log:         options.log.With(slog.String("repo", schema.aggType)),
		store:       store,
		schema:      schema,
		idGenerator: options.idGenerator,
		metrics:     options.metrics,
		now:         options.now,
		locks:       perkey.New[string](),
	}
}

func (r *Repository[S]) Store() *EventStore { return r.store }
func (r *Repository[S]) Schema() *Schema[S] { return r.schema }
func (r *Repository[S]) hasher() Hasher     { return r.store.Hasher() }
func (r *Repository[S]) newRoot(id string) *Root[S] {
	return &Root[S]{repo: r, id: id}
}

// Create starts a new aggregate under a generated id. The Created event gets
// version 0; events are triggered after it. Nothing is stored until Save.
func (r *Repository[S]) Create(events ...Event) (*Root[S], error) {
	return r.CreateWithID(r.idGenerator(), events...)
}

func (r *Repository[S]) CreateWithID(id string, events ...Event) (*Root[S], error) {
	if id == "" {
		return nil, errors.New("aggregate id is empty")
	}
	root := r.newRoot(id)
	if err := root.Trigger(Created{AggregateType: r.schema.aggType}); err != nil {
		return nil, err
	}
	for _, ev := range events {
		if err := root.Trigger(ev); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// Exists reports whether id has at least one event and is not discarded.
func (r *Repository[S]) Exists(ctx context.Context, id string) (bool, error) {
	tail, err := r.store.LastRecord(ctx, id)
	if err != nil {
		return false, err
	}
	return tail != nil && !tail.IsTombstone(), nil
}

// Get replays the events of id. AtVersion stops the replay early; the tombstone
// check only applies to the events actually replayed.
func (r *Repository[S]) Get(ctx context.Context, id string, opts ...LoadOption) (*Root[S], error) {
	defer r.metrics.RepoGetDuration(r.schema.aggType).ObserveDuration()

	if id == "" {
		return nil, errors.New("aggregate id is empty")
	}

	o := newLoadOptions(opts...)
	replay := make([]LoadOption, 0, 1)
	if o.toVersion != nil {
		replay = append(replay, WithToVersion(*o.toVersion))
	}

	root := r.newRoot(id)
	for ev, err := range r.store.DomainEvents(ctx, id, replay...) {
		if err != nil {
			return nil, err
		}
		if o.verifyHashes {
			if err := ev.CheckHash(r.hasher()); err != nil {
				return nil, err
			}
		}
		if c, ok := ev.Payload.(Created); ok && c.AggregateType != r.schema.aggType {
			return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrAggregateNotFound, id, c.AggregateType, r.schema.aggType)
		}
		if err := root.apply(ev); err != nil {
			return nil, fmt.Errorf("replay %s: %w", id, err)
		}
	}

	if root.version == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
	}
	if root.discarded {
		return nil, ErrAggregateDiscarded
	}
	if o.toVersion != nil && root.version != *o.toVersion+1 {
		return nil, fmt.Errorf("%w: %s has no version %d", ErrAggregateNotFound, id, *o.toVersion)
	}

	r.log.Debug("loaded", root.logAttrs())
	return root, nil
}

// Save appends the pending events of root. On failure the pending events are
// kept, so the caller may inspect them or retry after reloading.
func (r *Repository[S]) Save(ctx context.Context, root *Root[S]) error {
	if len(root.pending) == 0 {
		if root.discarded {
			return ErrAggregateDiscarded
		}
		return nil
	}
	defer r.metrics.RepoSaveDuration(r.schema.aggType).ObserveDuration()

	expected := root.version - Version(len(root.pending))
	res, err := r.store.Append(ctx, expected, root.pending...)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", r.schema.aggType, root.id, err)
	}
	root.pending = nil

	r.log.Debug(
		"saved",
		root.logAttrs(),
		slog.Int("num_events", len(res.Events)),
		slog.Uint64("last_notification_id", res.LastNotificationID()),
	)
	return nil
}

// Update loads id, runs fn on it and saves the result. Calls for the same id
// through this repository run one at a time; writers elsewhere may still
// cause ErrConcurrencyConflict, which is returned as is.
func (r *Repository[S]) Update(ctx context.Context, id string, fn func(*Root[S]) error) error {
	return r.locks.Do(ctx, id, func() error {
		root, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(root); err != nil {
			return err
		}
		return r.Save(ctx, root)
	})
}
