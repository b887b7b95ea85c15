package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/chronicle-go/core/es"
)

func record(id string, v es.Version) es.StoredRecord {
	return es.StoredRecord{
		OriginatorID:      id,
		OriginatorVersion: v,
		EventType:         "test.Happened",
		State:             []byte{0x01, 0x02, byte(v)},
		EventHash:         "h",
	}
}

func TestOpen_emptyPath(t *testing.T) {
	_, err := Open(t.Context(), Config{Path: "  "})
	require.Error(t, err)
}

func TestStore_InsertRecords(t *testing.T) {
	ctx := t.Context()
	s, err := Open(ctx, Config{Path: MemoryPath})
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	out, err := s.InsertRecords(ctx, []es.StoredRecord{record("a", 0), record("a", 1)})
	require.NoError(t, err)
	require.Equal(t, uint64(1), out[0].NotificationID)
	require.Equal(t, uint64(2), out[1].NotificationID)

	_, err = s.InsertRecords(ctx, []es.StoredRecord{record("b", 0), record("a", 1)})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	// the failed batch left nothing behind
	last, err := s.SelectLastRecord(ctx, "b")
	require.NoError(t, err)
	require.Nil(t, last)

	out, err = s.InsertRecords(ctx, []es.StoredRecord{record("b", 0)})
	require.NoError(t, err)
	require.Equal(t, uint64(3), out[0].NotificationID)

	maxID, err := s.MaxNotificationID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), maxID)

	to := es.Version(0)
	got, err := s.SelectRecords(ctx, "a", es.RecordQuery{ToVersion: &to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte{0x01, 0x02, 0x00}, got[0].State)

	notifs, err := s.SelectNotifications(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, notifs, 2)
	require.Equal(t, "b", notifs[1].OriginatorID)

	_, err = s.InsertRecords(ctx, nil)
	require.ErrorIs(t, err, es.ErrNoEvents)
}

func TestStore_ConcurrentHandles(t *testing.T) {
	var (
		ctx  = t.Context()
		path = filepath.Join(t.TempDir(), "es.db")
	)
	first, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { require.NoError(t, first.Close()) }()
	second, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { require.NoError(t, second.Close()) }()

	var g errgroup.Group
	for i, s := range []*Store{first, second, first, second} {
		id := string(rune('a' + i))
		g.Go(func() error {
			for v := range 10 {
				if _, err := s.InsertRecords(ctx, []es.StoredRecord{record(id, es.Version(v))}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	notifs, err := first.SelectNotifications(ctx, 1, 100)
	require.NoError(t, err)
	require.Len(t, notifs, 40)
	for i, n := range notifs {
		require.Equal(t, uint64(i+1), n.NotificationID)
	}
}

func TestMigrate_idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "es.db")
	for range 2 {
		s, err := Open(t.Context(), Config{Path: path})
		require.NoError(t, err)
		var n int
		require.NoError(t, s.DB().QueryRowContext(t.Context(), "SELECT COUNT(*) FROM schema_migrations").Scan(&n))
		require.Equal(t, 1, n)
		require.NoError(t, s.Close())
	}
}
