package es

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	CreatedEventType   = "es.Created"
	DiscardedEventType = "es.Discarded"
)

// Event is the payload of a domain event. EventType returns the tag the
// payload is stored under; it must be stable for the lifetime of the data.
type Event interface {
	EventType() string
}

type (
	// Created is the first event of every aggregate stream.
	Created struct {
		AggregateType string `json:"aggregate_type"`
	}

	// Discarded is the tombstone event. No event may follow it.
	Discarded struct{}
)

func (Created) EventType() string   { return CreatedEventType }
func (Discarded) EventType() string { return DiscardedEventType }

// DomainEvent is one immutable state transition of an aggregate together with
// the hash that links it to its predecessor.
type DomainEvent struct {
	OriginatorID      string    `json:"originator_id"`
	OriginatorVersion Version   `json:"originator_version"`
	PreviousHash      string    `json:"previous_hash"`
	EventHash         string    `json:"event_hash"`
	Timestamp         time.Time `json:"timestamp"`
	Type              string    `json:"type"`
	Payload           Event     `json:"payload"`
}

// CheckHash recomputes the event hash and compares it to EventHash.
func (e DomainEvent) CheckHash(h Hasher) error {
	sum, err := h.EventHash(e)
	if err != nil {
		return newIntegrityError(e.OriginatorID, e.OriginatorVersion, "hash event: %s", err)
	}
	if sum != e.EventHash {
		return newIntegrityError(e.OriginatorID, e.OriginatorVersion, "event hash mismatch: stored %s, computed %s", e.EventHash, sum)
	}
	return nil
}

func (e DomainEvent) IsTombstone() bool { return e.Type == DiscardedEventType }

func (e DomainEvent) logAttrs() slog.Attr {
	return slog.Group(
		"event",
		slog.String("originator_id", e.OriginatorID),
		e.OriginatorVersion.SlogAttr(),
		slog.String("type", e.Type),
	)
}

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func marshalPayload(ev Event) (json.RawMessage, error) {
	if ev == nil {
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.EventType(), err)
	}
	return data, nil
}

// DecodeFunc builds an event payload from its stored JSON form.
type DecodeFunc func(data json.RawMessage) (Event, error)

// EventRegistry maps event type tags to decoders so stored payloads can be rebuilt.
type EventRegistry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *EventRegistry {
	r := &EventRegistry{decoders: map[string]DecodeFunc{}}
	RegisterEvent[Created](r)
	RegisterEvent[Discarded](r)
	return r
}

func (r *EventRegistry) Register(eventType string, decode DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[eventType] = decode
}

func (r *EventRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[eventType]
	return ok
}

// Decode builds the payload for eventType from its JSON form.
func (r *EventRegistry) Decode(eventType string, data json.RawMessage) (Event, error) {
	r.mu.RLock()
	decode, ok := r.decoders[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	ev, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return ev, nil
}

// RegisterEvent registers E under the tag returned by its zero value.
func RegisterEvent[E Event](r *EventRegistry) {
	var zero E
	r.Register(zero.EventType(), decodeAs[E])
}

func decodeAs[E Event](data json.RawMessage) (Event, error) {
	var ev E
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
	}
	return ev, nil
}
