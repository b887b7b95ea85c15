package es

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryStore is a RecordStore for tests and dev. A single mutex orders all
// inserts, which is what keeps notification ids gapless.
type InMemoryStore struct {
	mu      sync.RWMutex
	log     *slog.Logger
	streams map[string][]StoredRecord
	all     []StoredRecord // indexed by notification id - 1
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]StoredRecord{},
	}
}

func (s *InMemoryStore) InsertRecords(_ context.Context, records []StoredRecord) ([]StoredRecord, error) {
	if len(records) == 0 {
		return nil, ErrNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// uniqueness on (id, version), checked for the whole batch before writing anything
	pending := map[string]Version{}
	for _, r := range records {
		next, ok := pending[r.OriginatorID]
		if !ok {
			next = Version(len(s.streams[r.OriginatorID]))
		}
		if r.OriginatorVersion != next {
			return nil, ErrConcurrencyConflict
		}
		pending[r.OriginatorID] = next + 1
	}

	out := make([]StoredRecord, len(records))
	for i, r := range records {
		r.State = append([]byte(nil), r.State...)
		r.NotificationID = uint64(len(s.all)) + 1
		s.all = append(s.all, r)
		s.streams[r.OriginatorID] = append(s.streams[r.OriginatorID], r)
		out[i] = r
	}

	s.log.Debug(
		"insert",
		slog.Uint64("last_notification_id", out[len(out)-1].NotificationID),
		slog.Int("num_records", len(out)),
	)

	return out, nil
}

func (s *InMemoryStore) SelectRecords(_ context.Context, originatorID string, q RecordQuery) ([]StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[originatorID]
	out := make([]StoredRecord, 0)
	for _, r := range stream[min(int(q.FromVersion), len(stream)):] {
		if q.ToVersion != nil && r.OriginatorVersion > *q.ToVersion {
			break
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		out = append(out, r.clone())
	}
	return out, nil
}

func (s *InMemoryStore) SelectLastRecord(_ context.Context, originatorID string) (*StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[originatorID]
	if len(stream) == 0 {
		return nil, nil
	}
	last := stream[len(stream)-1].clone()
	return &last, nil
}

func (s *InMemoryStore) SelectNotifications(_ context.Context, start uint64, limit int) ([]StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if start == 0 {
		start = 1
	}
	out := make([]StoredRecord, 0)
	for i := start - 1; i < uint64(len(s.all)); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.all[i].clone())
	}
	return out, nil
}

func (s *InMemoryStore) MaxNotificationID(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.all)), nil
}

var _ RecordStore = (*InMemoryStore)(nil)
