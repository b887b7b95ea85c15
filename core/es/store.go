package es

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// AppendResult describes a committed batch.
type AppendResult struct {
	// Events are the appended events with their hashes filled in.
	Events          []DomainEvent
	NotificationIDs []uint64
	// Version is the stream length after the append.
	Version Version
	// Head is the event hash of the last appended event.
	Head string
}

func (r *AppendResult) LastNotificationID() uint64 {
	if r == nil || len(r.NotificationIDs) == 0 {
		return 0
	}
	return r.NotificationIDs[len(r.NotificationIDs)-1]
}

// EventStore is the append-only log of domain events keyed by originator id.
// It owns the hash chain and the encryption of record state; the RecordStore
// only has to keep (id, version) unique and number notifications.
type EventStore struct {
	log      *slog.Logger
	records  RecordStore
	cipher   Cipher
	hasher   Hasher
	registry *EventRegistry
	metrics  ESMetrics
	pageSize int
	notifs   *NotificationLog
}

func NewEventStore(records RecordStore, cipher Cipher, opts ...EventStoreOption) *EventStore {
	o := newStoreOptions(opts...)
	return &EventStore{
		log:      o.log.With(slog.String("component", "event_store")),
		records:  records,
		cipher:   cipher,
		hasher:   o.hasher,
		registry: o.registry,
		metrics:  o.metrics,
		pageSize: o.pageSize,
		notifs:   newNotificationLog(records, o),
	}
}

func (s *EventStore) Registry() *EventRegistry        { return s.registry }
func (s *EventStore) Hasher() Hasher                  { return s.hasher }
func (s *EventStore) Notifications() *NotificationLog { return s.notifs }

// Append stores events as the continuation of the stream at expected.
//
// All events must belong to one originator and carry the versions expected,
// expected+1, and so on. Hashes are re-derived from the stored tail; a preset
// EventHash or PreviousHash that disagrees is an integrity error.
func (s *EventStore) Append(ctx context.Context, expected Version, events ...DomainEvent) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	defer s.metrics.StoreAppendDuration().ObserveDuration()

	id := events[0].OriginatorID
	if id == "" {
		return nil, errors.New("originator id is empty")
	}
	for i, e := range events {
		if e.OriginatorID != id {
			return nil, fmt.Errorf("batch spans originators %s and %s", id, e.OriginatorID)
		}
		if want := expected + Version(i); e.OriginatorVersion != want {
			return nil, fmt.Errorf("event %d has version %d, want %d (originator_id=%s)", i, e.OriginatorVersion, want, id)
		}
		if e.Payload == nil {
			return nil, fmt.Errorf("event %d has no payload (originator_id=%s)", i, id)
		}
		if e.Type != e.Payload.EventType() {
			return nil, fmt.Errorf("event %d type %q does not match payload type %q", i, e.Type, e.Payload.EventType())
		}
		if e.Timestamp.IsZero() {
			return nil, fmt.Errorf("event %d has no timestamp (originator_id=%s)", i, id)
		}
		if e.IsTombstone() && i != len(events)-1 {
			return nil, fmt.Errorf("event %d: %w", i, ErrAggregateDiscarded)
		}
	}

	log := s.log.With(slog.Group("agg", slog.String("id", id), expected.SlogAttrWithKey("expected")))

	tail, err := s.LastRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		stored   Version
		prevHash string
	)
	if tail != nil {
		if tail.IsTombstone() {
			return nil, ErrAggregateDiscarded
		}
		stored = tail.OriginatorVersion + 1
		prevHash = tail.EventHash
	}
	if stored != expected {
		s.metrics.ConcurrencyConflict()
		log.Warn("version conflict", stored.SlogAttrWithKey("stored"))
		return nil, fmt.Errorf("%w: expected version %d, stored %d (originator_id=%s)", ErrConcurrencyConflict, expected, stored, id)
	}

	out := make([]DomainEvent, len(events))
	records := make([]StoredRecord, len(events))
	for i, e := range events {
		if e.PreviousHash != prevHash {
			s.metrics.IntegrityViolation()
			return nil, newIntegrityError(id, e.OriginatorVersion, "previous hash %q does not link to %q", e.PreviousHash, prevHash)
		}
		payload, err := marshalPayload(e.Payload)
		if err != nil {
			return nil, err
		}
		sum, err := s.hasher.hashContent(id, e.OriginatorVersion, prevHash, formatTimestamp(e.Timestamp), e.Type, payload)
		if err != nil {
			return nil, err
		}
		if e.EventHash != "" && e.EventHash != sum {
			s.metrics.IntegrityViolation()
			return nil, newIntegrityError(id, e.OriginatorVersion, "event hash mismatch: got %s, computed %s", e.EventHash, sum)
		}

		plaintext, err := encodeState(e.Timestamp, payload)
		if err != nil {
			return nil, err
		}
		state, err := s.cipher.Seal(plaintext, associatedData(id, e.OriginatorVersion))
		if err != nil {
			return nil, fmt.Errorf("encrypt state: %w", err)
		}

		records[i] = StoredRecord{
			OriginatorID:      id,
			OriginatorVersion: e.OriginatorVersion,
			EventType:         e.Type,
			State:             state,
			PreviousHash:      prevHash,
			EventHash:         sum,
		}

		e.EventHash = sum
		e.Timestamp = e.Timestamp.UTC()
		out[i] = e
		prevHash = sum
	}

	inserted, err := s.records.InsertRecords(ctx, records)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			s.metrics.ConcurrencyConflict()
			log.Warn("insert conflict", slog.Any("error", err))
			return nil, fmt.Errorf("append originator_id=%s: %w", id, err)
		}
		return nil, fmt.Errorf("insert records: %w", err)
	}

	res := &AppendResult{
		Events:          out,
		NotificationIDs: make([]uint64, len(inserted)),
		Version:         expected + Version(len(events)),
		Head:            prevHash,
	}
	for i, r := range inserted {
		res.NotificationIDs[i] = r.NotificationID
		s.metrics.EventsAppended(r.EventType, 1)
	}

	log.Debug(
		"appended",
		slog.Int("num_events", len(events)),
		res.Version.SlogAttr(),
		slog.Uint64("last_notification_id", res.LastNotificationID()),
	)

	return res, nil
}

// DomainEvents iterates the stream of id in version order, one page at a time.
// The sequence is finite and can be ranged over again.
func (s *EventStore) DomainEvents(ctx context.Context, id string, opts ...LoadOption) iter.Seq2[DomainEvent, error] {
	o := newLoadOptions(opts...)
	return func(yield func(DomainEvent, error) bool) {
		for rec, err := range s.scan(ctx, id, o) {
			if err != nil {
				yield(DomainEvent{}, err)
				return
			}
			ev, err := s.Decode(rec)
			if err != nil {
				yield(DomainEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// LoadDomainEvents collects DomainEvents into a slice.
func (s *EventStore) LoadDomainEvents(ctx context.Context, id string, opts ...LoadOption) ([]DomainEvent, error) {
	defer s.metrics.StoreLoadDuration().ObserveDuration()

	out := make([]DomainEvent, 0)
	for ev, err := range s.DomainEvents(ctx, id, opts...) {
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// LastRecord returns the tail of the stream of id, or nil when it is empty.
func (s *EventStore) LastRecord(ctx context.Context, id string) (*StoredRecord, error) {
	tail, err := s.records.SelectLastRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("select stream tail of %s: %w", id, err)
	}
	return tail, nil
}

// RawRecords returns the stored, still encrypted records of id.
func (s *EventStore) RawRecords(ctx context.Context, id string) ([]StoredRecord, error) {
	out := make([]StoredRecord, 0)
	for rec, err := range s.scan(ctx, id, loadOptions{}) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// scan pages through the raw stream of id.
func (s *EventStore) scan(ctx context.Context, id string, o loadOptions) iter.Seq2[StoredRecord, error] {
	return func(yield func(StoredRecord, error) bool) {
		from := o.fromVersion
		for {
			page, err := s.records.SelectRecords(ctx, id, RecordQuery{
				FromVersion: from,
				ToVersion:   o.toVersion,
				Limit:       s.pageSize,
			})
			if err != nil {
				yield(StoredRecord{}, fmt.Errorf("select records of %s from %d: %w", id, from, err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			from = page[len(page)-1].OriginatorVersion + 1
		}
	}
}

// Decode decrypts rec and rebuilds its payload. A record that fails
// authentication is reported as an *IntegrityError.
func (s *EventStore) Decode(rec StoredRecord) (DomainEvent, error) {
	st, ts, err := s.open(rec)
	if err != nil {
		return DomainEvent{}, err
	}
	payload, err := s.registry.Decode(rec.EventType, st.Payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("originator_id=%s version=%d: %w", rec.OriginatorID, rec.OriginatorVersion, err)
	}
	return DomainEvent{
		OriginatorID:      rec.OriginatorID,
		OriginatorVersion: rec.OriginatorVersion,
		PreviousHash:      rec.PreviousHash,
		EventHash:         rec.EventHash,
		Timestamp:         ts,
		Type:              rec.EventType,
		Payload:           payload,
	}, nil
}

// DecodeNotification decrypts a notification.
func (s *EventStore) DecodeNotification(n Notification) (DomainEvent, error) {
	return s.Decode(n.record())
}

func (s *EventStore) open(rec StoredRecord) (recordState, time.Time, error) {
	st, ts, err := s.openState(rec)
	if err != nil {
		s.metrics.IntegrityViolation()
	}
	return st, ts, err
}

func (s *EventStore) openState(rec StoredRecord) (recordState, time.Time, error) {
	plaintext, err := s.cipher.Open(rec.State, associatedData(rec.OriginatorID, rec.OriginatorVersion))
	if err != nil {
		return recordState{}, time.Time{}, newIntegrityError(rec.OriginatorID, rec.OriginatorVersion, "%s", err)
	}
	st, ts, err := decodeState(plaintext)
	if err != nil {
		return recordState{}, time.Time{}, newIntegrityError(rec.OriginatorID, rec.OriginatorVersion, "%s", err)
	}
	return st, ts, nil
}

// chainLink is the running state of a stream during verification.
type chainLink struct {
	next Version
	head string
	done bool
}

func (s *EventStore) verifyRecord(link *chainLink, rec StoredRecord) error {
	id, v := rec.OriginatorID, rec.OriginatorVersion
	if link.done {
		return newIntegrityError(id, v, "record follows tombstone")
	}
	if v != link.next {
		return newIntegrityError(id, v, "version gap: want %d", link.next)
	}
	if rec.PreviousHash != link.head {
		return newIntegrityError(id, v, "previous hash %q does not link to %q", rec.PreviousHash, link.head)
	}
	st, ts, err := s.openState(rec)
	if err != nil {
		return err
	}
	sum, err := s.hasher.hashContent(id, v, rec.PreviousHash, formatTimestamp(ts), rec.EventType, st.Payload)
	if err != nil {
		return err
	}
	if sum != rec.EventHash {
		return newIntegrityError(id, v, "event hash mismatch: stored %s, computed %s", rec.EventHash, sum)
	}
	link.next = v + 1
	link.head = sum
	link.done = rec.IsTombstone()
	return nil
}

// VerifyChain walks the stream of id and checks versions, links and hashes.
// It hashes the stored payload JSON, so no event types need to be registered.
func (s *EventStore) VerifyChain(ctx context.Context, id string) error {
	var link chainLink
	for rec, err := range s.scan(ctx, id, loadOptions{}) {
		if err != nil {
			return err
		}
		if err := s.verifyRecord(&link, rec); err != nil {
			s.metrics.IntegrityViolation()
			return err
		}
	}
	if link.next == 0 {
		return fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
	}
	return nil
}

// VerifyAll verifies every stream in notification order and returns the number
// of records checked. Within one stream, notification order is version order.
func (s *EventStore) VerifyAll(ctx context.Context) (int, error) {
	links := map[string]*chainLink{}
	count := 0
	var lastID uint64
	for {
		page, err := s.records.SelectNotifications(ctx, lastID+1, s.pageSize)
		if err != nil {
			return count, fmt.Errorf("select notifications from %d: %w", lastID+1, err)
		}
		for _, rec := range page {
			if rec.NotificationID != lastID+1 {
				return count, newIntegrityError(rec.OriginatorID, rec.OriginatorVersion, "notification id %d follows %d", rec.NotificationID, lastID)
			}
			link, ok := links[rec.OriginatorID]
			if !ok {
				link = &chainLink{}
				links[rec.OriginatorID] = link
			}
			if err := s.verifyRecord(link, rec); err != nil {
				s.metrics.IntegrityViolation()
				return count, err
			}
			lastID = rec.NotificationID
			count++
		}
		if len(page) < s.pageSize {
			break
		}
	}
	s.log.Debug("verified", slog.Int("records", count), slog.Int("streams", len(links)))
	return count, nil
}
