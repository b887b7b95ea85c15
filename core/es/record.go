package es

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// StoredRecord is the persisted form of a DomainEvent. State is ciphertext.
type StoredRecord struct {
	OriginatorID      string  `json:"originator_id"`
	OriginatorVersion Version `json:"originator_version"`
	EventType         string  `json:"event_type"`
	State             []byte  `json:"state"`
	PreviousHash      string  `json:"previous_hash"`
	EventHash         string  `json:"event_hash"`
	NotificationID    uint64  `json:"notification_id"`
}

func (r StoredRecord) clone() StoredRecord {
	r.State = append([]byte(nil), r.State...)
	return r
}

func (r StoredRecord) IsTombstone() bool { return r.EventType == DiscardedEventType }

// Notification projects a StoredRecord for consumers of the notification log.
func (r StoredRecord) Notification() Notification {
	return Notification{
		ID:                r.NotificationID,
		OriginatorID:      r.OriginatorID,
		OriginatorVersion: r.OriginatorVersion,
		EventType:         r.EventType,
		State:             r.State,
		PreviousHash:      r.PreviousHash,
		EventHash:         r.EventHash,
	}
}

type RecordQuery struct {
	FromVersion Version
	// ToVersion is inclusive; nil means the end of the stream.
	ToVersion *Version
	// Limit caps the number of records; 0 means no limit.
	Limit int
}

// RecordStore is the storage backend of the EventStore.
//
// InsertRecords must insert the whole batch atomically, reject any record whose
// (OriginatorID, OriginatorVersion) already exists with ErrConcurrencyConflict,
// and assign NotificationID values continuing the global sequence, gapless, in the
// same critical section as the insert. Reads only observe committed batches.
type RecordStore interface {
	InsertRecords(ctx context.Context, records []StoredRecord) ([]StoredRecord, error)
	SelectRecords(ctx context.Context, originatorID string, q RecordQuery) ([]StoredRecord, error)
	// SelectLastRecord returns nil when the stream is empty.
	SelectLastRecord(ctx context.Context, originatorID string) (*StoredRecord, error)
	SelectNotifications(ctx context.Context, start uint64, limit int) ([]StoredRecord, error)
	MaxNotificationID(ctx context.Context) (uint64, error)
}

// recordState is the plaintext of StoredRecord.State.
type recordState struct {
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func encodeState(ts time.Time, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(recordState{Timestamp: formatTimestamp(ts), Payload: payload})
}

func decodeState(data []byte) (recordState, time.Time, error) {
	var st recordState
	if err := json.Unmarshal(data, &st); err != nil {
		return st, time.Time{}, fmt.Errorf("decode record state: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, st.Timestamp)
	if err != nil {
		return st, time.Time{}, fmt.Errorf("parse record timestamp: %w", err)
	}
	return st, ts.UTC(), nil
}

// associatedData binds a ciphertext to its position so it cannot be replayed elsewhere.
func associatedData(id string, v Version) []byte {
	ad := make([]byte, 0, len(id)+9)
	ad = append(ad, id...)
	ad = append(ad, 0)
	return binary.BigEndian.AppendUint64(ad, uint64(v))
}
