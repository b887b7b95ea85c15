package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Transition mutates the state of an aggregate for one event type.
type Transition[S any] func(state *S, ev Event) error

// Schema is the dispatch table of an aggregate type: the event types it
// accepts and the transition each one runs. Build it once, before the first
// Repository uses it.
type Schema[S any] struct {
	aggType     string
	transitions map[string]Transition[S]
	decoders    map[string]DecodeFunc
}

func NewSchema[S any](aggType string) *Schema[S] {
	return &Schema[S]{
		aggType:     aggType,
		transitions: map[string]Transition[S]{},
		decoders:    map[string]DecodeFunc{},
	}
}

func (s *Schema[S]) AggregateType() string { return s.aggType }

// On registers the transition for event type E on schema s.
func On[S any, E Event](s *Schema[S], fn func(state *S, ev E) error) *Schema[S] {
	var zero E
	t := zero.EventType()
	s.transitions[t] = func(state *S, ev Event) error {
		e, ok := ev.(E)
		if !ok {
			return fmt.Errorf("event %s: got payload %T", t, ev)
		}
		return fn(state, e)
	}
	s.decoders[t] = decodeAs[E]
	return s
}

// EventTypes lists the tags s has transitions for.
func (s *Schema[S]) EventTypes() []string {
	out := make([]string, 0, len(s.transitions))
	for t := range s.transitions {
		out = append(out, t)
	}
	return out
}

// Register adds the decoders of every event type of s to reg.
func (s *Schema[S]) Register(reg *EventRegistry) {
	for t, d := range s.decoders {
		reg.Register(t, d)
	}
}

func (s *Schema[S]) transition(state *S, ev Event) error {
	t := ev.EventType()
	fn, ok := s.transitions[t]
	if !ok {
		switch t {
		case CreatedEventType, DiscardedEventType:
			return nil
		}
		return fmt.Errorf("%w: %s on aggregate %s", ErrUnknownEventType, t, s.aggType)
	}
	return fn(state, ev)
}

// Root is an aggregate root: an entity whose state S is the result of applying
// its events in order. A Root is not safe for concurrent use.
type Root[S any] struct {
	repo *Repository[S]

	id         string
	version    Version
	head       string
	discarded  bool
	createdAt  time.Time
	modifiedAt time.Time
	pending    []DomainEvent
	state      S
}

func (r *Root[S]) ID() string { return r.id }

// Version is the number of applied events, which is also the version the next
// event will get.
func (r *Root[S]) Version() Version { return r.version }

// Head is the hash of the last applied event.
func (r *Root[S]) Head() string           { return r.head }
func (r *Root[S]) IsDiscarded() bool      { return r.discarded }
func (r *Root[S]) CreatedAt() time.Time   { return r.createdAt }
func (r *Root[S]) ModifiedAt() time.Time  { return r.modifiedAt }
func (r *Root[S]) AggregateType() string  { return r.repo.schema.aggType }
func (r *Root[S]) State() S               { return r.state }
func (r *Root[S]) HasPendingEvents() bool { return len(r.pending) > 0 }

// PendingEvents returns a copy of the events triggered since the last save.
func (r *Root[S]) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.pending))
	copy(out, r.pending)
	return out
}

// Trigger records ev as the next event of the aggregate and applies it. If the
// transition fails, neither the state nor the pending events change.
func (r *Root[S]) Trigger(ev Event) error {
	if r.discarded {
		return ErrAggregateDiscarded
	}
	if ev == nil {
		return errors.New("event is nil")
	}

	de := DomainEvent{
		OriginatorID:      r.id,
		OriginatorVersion: r.version,
		PreviousHash:      r.head,
		Timestamp:         r.repo.now().UTC(),
		Type:              ev.EventType(),
		Payload:           ev,
	}
	sum, err := r.repo.hasher().EventHash(de)
	if err != nil {
		return err
	}
	de.EventHash = sum

	if err := r.apply(de); err != nil {
		return err
	}
	r.pending = append(r.pending, de)
	return nil
}

// Discard triggers the tombstone event. Once saved, the aggregate no longer exists.
func (r *Root[S]) Discard() error {
	return r.Trigger(Discarded{})
}

// Save stores the pending events through the repository the root came from.
func (r *Root[S]) Save(ctx context.Context) error {
	return r.repo.Save(ctx, r)
}

func (r *Root[S]) apply(ev DomainEvent) error {
	if ev.OriginatorVersion != r.version {
		return newIntegrityError(r.id, ev.OriginatorVersion, "out of order: aggregate is at version %d", r.version)
	}
	if ev.PreviousHash != r.head {
		return newIntegrityError(r.id, ev.OriginatorVersion, "previous hash %q does not link to head %q", ev.PreviousHash, r.head)
	}

	next := r.state
	if err := r.repo.schema.transition(&next, ev.Payload); err != nil {
		return err
	}
	r.state = next

	if ev.Type == CreatedEventType {
		r.createdAt = ev.Timestamp
	}
	if ev.IsTombstone() {
		r.discarded = true
	}
	r.modifiedAt = ev.Timestamp
	r.version = ev.OriginatorVersion + 1
	r.head = ev.EventHash
	return nil
}

func (r *Root[S]) logAttrs() slog.Attr {
	return slog.Group(
		"agg",
		slog.String("type", r.repo.schema.aggType),
		slog.String("id", r.id),
		r.version.SlogAttr(),
	)
}
