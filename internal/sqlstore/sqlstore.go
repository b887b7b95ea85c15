// Package sqlstore implements es.RecordStore on database/sql. The SQL dialect
// specifics (placeholders, notification lock, constraint errors) are supplied
// by the adapters.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/codewandler/chronicle-go/core/es"
)

type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
	// LockNotifications runs inside the insert transaction before the next
	// notification id is read. Empty when the transaction itself is exclusive.
	LockNotifications string
	// IsUniqueViolation reports a violated (originator_id, originator_version) key.
	IsUniqueViolation func(err error) bool
}

func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger

	qInsert       string
	qSelectRange  string
	qSelectLast   string
	qSelectNotifs string
	qMaxNotifID   string
}

func New(db *sql.DB, dialect Dialect, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		log:     log.With(slog.String("store", dialect.Name)),

		qInsert: dialect.rebind(`INSERT INTO stored_events
			(notification_id, originator_id, originator_version, event_type, state, previous_hash, event_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
		qSelectRange: dialect.rebind(`SELECT ` + columns + ` FROM stored_events
			WHERE originator_id = ? AND originator_version >= ? AND originator_version <= ?
			ORDER BY originator_version ASC LIMIT ?`),
		qSelectLast: dialect.rebind(`SELECT ` + columns + ` FROM stored_events
			WHERE originator_id = ?
			ORDER BY originator_version DESC LIMIT 1`),
		qSelectNotifs: dialect.rebind(`SELECT ` + columns + ` FROM stored_events
			WHERE notification_id >= ?
			ORDER BY notification_id ASC LIMIT ?`),
		qMaxNotifID: `SELECT COALESCE(MAX(notification_id), 0) FROM stored_events`,
	}
}

const columns = `notification_id, originator_id, originator_version, event_type, state, previous_hash, event_hash`

// maxInt64 bounds open-ended range queries; versions and ids are stored as BIGINT.
const maxInt64 = int64(^uint64(0) >> 1)

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InsertRecords(ctx context.Context, records []es.StoredRecord) (_ []es.StoredRecord, err error) {
	if len(records) == 0 {
		return nil, es.ErrNoEvents
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.dialect.LockNotifications != "" {
		if _, err = tx.ExecContext(ctx, s.dialect.LockNotifications); err != nil {
			return nil, fmt.Errorf("lock notifications: %w", err)
		}
	}

	var maxID int64
	if err = tx.QueryRowContext(ctx, s.qMaxNotifID).Scan(&maxID); err != nil {
		return nil, fmt.Errorf("read max notification id: %w", err)
	}

	out := make([]es.StoredRecord, len(records))
	for i, r := range records {
		r.NotificationID = uint64(maxID) + uint64(i) + 1
		_, err = tx.ExecContext(
			ctx,
			s.qInsert,
			int64(r.NotificationID),
			r.OriginatorID,
			int64(r.OriginatorVersion),
			r.EventType,
			r.State,
			r.PreviousHash,
			r.EventHash,
		)
		if err != nil {
			if s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
				err = fmt.Errorf("%w: %s version %d already exists", es.ErrConcurrencyConflict, r.OriginatorID, r.OriginatorVersion)
				return nil, err
			}
			return nil, fmt.Errorf("insert record: %w", err)
		}
		out[i] = r
	}

	if err = tx.Commit(); err != nil {
		if s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
			err = fmt.Errorf("%w: %s", es.ErrConcurrencyConflict, err)
			return nil, err
		}
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.log.Debug(
		"insert",
		slog.Uint64("last_notification_id", out[len(out)-1].NotificationID),
		slog.Int("num_records", len(out)),
	)
	return out, nil
}

func (s *Store) SelectRecords(ctx context.Context, originatorID string, q es.RecordQuery) ([]es.StoredRecord, error) {
	to := maxInt64
	if q.ToVersion != nil {
		to = int64(*q.ToVersion)
	}
	limit := maxInt64
	if q.Limit > 0 {
		limit = int64(q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.qSelectRange, originatorID, int64(q.FromVersion), to, limit)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) SelectLastRecord(ctx context.Context, originatorID string) (*es.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.qSelectLast, originatorID)
	if err != nil {
		return nil, fmt.Errorf("select last record: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *Store) SelectNotifications(ctx context.Context, start uint64, limit int) ([]es.StoredRecord, error) {
	lim := maxInt64
	if limit > 0 {
		lim = int64(limit)
	}
	rows, err := s.db.QueryContext(ctx, s.qSelectNotifs, int64(max(start, 1)), lim)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) MaxNotificationID(ctx context.Context) (uint64, error) {
	var maxID int64
	if err := s.db.QueryRowContext(ctx, s.qMaxNotifID).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("read max notification id: %w", err)
	}
	return uint64(maxID), nil
}

func scanRecords(rows *sql.Rows) (_ []es.StoredRecord, err error) {
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	out := make([]es.StoredRecord, 0)
	for rows.Next() {
		var (
			r       es.StoredRecord
			id      int64
			version int64
		)
		if err := rows.Scan(&id, &r.OriginatorID, &version, &r.EventType, &r.State, &r.PreviousHash, &r.EventHash); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.NotificationID = uint64(id)
		r.OriginatorVersion = es.Version(version)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

var _ es.RecordStore = (*Store)(nil)
