package es

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// DefaultSectionSize is the number of notifications per log section.
const DefaultSectionSize = 10

// Notification is a committed record as seen through the notification log.
// State is still encrypted; use EventStore.DecodeNotification to read it.
type Notification struct {
	ID                uint64  `json:"id"`
	OriginatorID      string  `json:"originator_id"`
	OriginatorVersion Version `json:"originator_version"`
	EventType         string  `json:"event_type"`
	State             []byte  `json:"state"`
	PreviousHash      string  `json:"previous_hash"`
	EventHash         string  `json:"event_hash"`
}

func (n Notification) record() StoredRecord {
	return StoredRecord{
		OriginatorID:      n.OriginatorID,
		OriginatorVersion: n.OriginatorVersion,
		EventType:         n.EventType,
		State:             n.State,
		PreviousHash:      n.PreviousHash,
		EventHash:         n.EventHash,
		NotificationID:    n.ID,
	}
}

// Section is a fixed-size window of the notification log.
type Section struct {
	ID         string         `json:"id"`
	Items      []Notification `json:"items"`
	PreviousID string         `json:"previous_id,omitempty"`
	NextID     string         `json:"next_id,omitempty"`
}

var ErrInvalidSectionID = errors.New("invalid section id")

// NotificationLog is the read-only, globally ordered view over every committed record.
type NotificationLog struct {
	log         *slog.Logger
	records     RecordStore
	metrics     ESMetrics
	pageSize    int
	sectionSize int
}

func newNotificationLog(records RecordStore, o storeOptions) *NotificationLog {
	return &NotificationLog{
		log:         o.log.With(slog.String("component", "notification_log")),
		records:     records,
		metrics:     o.metrics,
		pageSize:    o.pageSize,
		sectionSize: DefaultSectionSize,
	}
}

// Read returns notifications with ID >= start in ascending order, at most limit
// of them. A limit of 0 uses the page size.
func (l *NotificationLog) Read(ctx context.Context, start uint64, limit int) ([]Notification, error) {
	if start == 0 {
		start = 1
	}
	if limit <= 0 {
		limit = l.pageSize
	}
	recs, err := l.records.SelectNotifications(ctx, start, limit)
	if err != nil {
		return nil, fmt.Errorf("select notifications from %d: %w", start, err)
	}
	out := make([]Notification, len(recs))
	for i, r := range recs {
		out[i] = r.Notification()
	}
	l.metrics.NotificationsRead(len(out))
	return out, nil
}

// All iterates from start to the end of the log as it is while iterating.
func (l *NotificationLog) All(ctx context.Context, start uint64) iter.Seq2[Notification, error] {
	return func(yield func(Notification, error) bool) {
		next := max(start, 1)
		for {
			page, err := l.Read(ctx, next, l.pageSize)
			if err != nil {
				yield(Notification{}, err)
				return
			}
			for _, n := range page {
				if !yield(n, nil) {
					return
				}
				next = n.ID + 1
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

func (l *NotificationLog) MaxID(ctx context.Context) (uint64, error) {
	return l.records.MaxNotificationID(ctx)
}

// Section returns the section named "first,last" or the one holding the latest
// notification when sectionID is "current".
func (l *NotificationLog) Section(ctx context.Context, sectionID string) (*Section, error) {
	size := uint64(l.sectionSize)

	var first uint64
	if sectionID == "current" {
		maxID, err := l.MaxID(ctx)
		if err != nil {
			return nil, err
		}
		if maxID > 0 {
			first = ((maxID-1)/size)*size + 1
		} else {
			first = 1
		}
	} else {
		f, last, err := parseSectionID(sectionID)
		if err != nil {
			return nil, err
		}
		if f == 0 || (f-1)%size != 0 || last-f+1 != size {
			return nil, fmt.Errorf("%w: %q is not aligned to size %d", ErrInvalidSectionID, sectionID, size)
		}
		first = f
	}

	last := first + size - 1
	items, err := l.Read(ctx, first, int(size))
	if err != nil {
		return nil, err
	}

	s := &Section{ID: formatSectionID(first, last), Items: items}
	if first > 1 {
		s.PreviousID = formatSectionID(first-size, first-1)
	}
	if uint64(len(items)) == size {
		s.NextID = formatSectionID(last+1, last+size)
	}
	return s, nil
}

func formatSectionID(first, last uint64) string {
	return strconv.FormatUint(first, 10) + "," + strconv.FormatUint(last, 10)
}

func parseSectionID(id string) (first, last uint64, err error) {
	a, b, ok := strings.Cut(id, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSectionID, id)
	}
	if first, err = strconv.ParseUint(strings.TrimSpace(a), 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %s", ErrInvalidSectionID, id, err)
	}
	if last, err = strconv.ParseUint(strings.TrimSpace(b), 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %s", ErrInvalidSectionID, id, err)
	}
	if last < first {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSectionID, id)
	}
	return first, last, nil
}

// NotificationLogReader keeps a position in the log so that each Read returns
// only what was committed since the previous one.
type NotificationLogReader struct {
	mu   sync.Mutex
	log  *NotificationLog
	next uint64
}

// Reader returns a reader positioned at the first notification.
func (l *NotificationLog) Reader() *NotificationLogReader {
	return &NotificationLogReader{log: l, next: 1}
}

// Read returns every notification after the current position and advances past them.
func (r *NotificationLogReader) Read(ctx context.Context) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notification, 0)
	for n, err := range r.log.All(ctx, r.next) {
		if err != nil {
			return out, err
		}
		out = append(out, n)
		r.next = n.ID + 1
	}
	return out, nil
}

// Seek sets the id of the next notification to read.
func (r *NotificationLogReader) Seek(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = max(id, 1)
}

// Position is the id of the next notification Read will return.
func (r *NotificationLogReader) Position() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}
