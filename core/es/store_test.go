package es

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...EventStoreOption) (*EventStore, *InMemoryStore) {
	t.Helper()
	c, err := NewCipher(CipherAESGCM, TestKey(t))
	require.NoError(t, err)
	reg := NewRegistry()
	RegisterEvent[happened](reg)
	records := NewInMemoryStore()
	return NewEventStore(records, c, append([]EventStoreOption{WithRegistry(reg)}, opts...)...), records
}

// chain builds hashed events continuing the stream at from/prev.
func chain(t *testing.T, id string, from Version, prev string, payloads ...Event) []DomainEvent {
	t.Helper()
	h := DefaultHasher()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]DomainEvent, len(payloads))
	for i, p := range payloads {
		ev := DomainEvent{
			OriginatorID:      id,
			OriginatorVersion: from + Version(i),
			PreviousHash:      prev,
			Timestamp:         ts.Add(time.Duration(from)*time.Second + time.Duration(i)*time.Millisecond),
			Type:              p.EventType(),
			Payload:           p,
		}
		sum, err := h.EventHash(ev)
		require.NoError(t, err)
		ev.EventHash = sum
		out[i] = ev
		prev = sum
	}
	return out
}

func whats(ws ...string) []Event {
	out := make([]Event, len(ws))
	for i, w := range ws {
		out[i] = happened{What: w, At: i}
	}
	return out
}

func TestEventStore_Append(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	events := chain(t, "w1", 0, "", append([]Event{Created{AggregateType: "world"}}, whats("dinosaurs", "trucks")...)...)
	res, err := s.Append(ctx, 0, events...)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, res.NotificationIDs)
	require.Equal(t, uint64(3), res.LastNotificationID())
	require.Equal(t, Version(3), res.Version)
	require.Equal(t, events[2].EventHash, res.Head)

	loaded, err := s.LoadDomainEvents(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i := range events {
		assert.Equal(t, events[i].OriginatorVersion, loaded[i].OriginatorVersion)
		assert.Equal(t, events[i].PreviousHash, loaded[i].PreviousHash)
		assert.Equal(t, events[i].EventHash, loaded[i].EventHash)
		assert.Equal(t, events[i].Payload, loaded[i].Payload)
		assert.True(t, events[i].Timestamp.Equal(loaded[i].Timestamp))
		assert.NoError(t, loaded[i].CheckHash(s.Hasher()))
	}

	raw, err := s.RawRecords(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, raw, 3)
	for _, r := range raw {
		assert.False(t, bytes.Contains(r.State, []byte("dinosaurs")))
		assert.False(t, bytes.Contains(r.State, []byte("trucks")))
	}

	t.Run("hashes are filled in when absent", func(t *testing.T) {
		next := chain(t, "w1", 3, res.Head, whats("internet")...)
		want := next[0].EventHash
		next[0].EventHash = ""
		res2, err := s.Append(ctx, 3, next...)
		require.NoError(t, err)
		require.Equal(t, want, res2.Head)
		require.Equal(t, want, res2.Events[0].EventHash)
	})
}

func TestEventStore_Append_conflict(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	first := chain(t, "w1", 0, "", Created{}, happened{What: "a"})
	_, err := s.Append(ctx, 0, first...)
	require.NoError(t, err)

	_, err = s.Append(ctx, 0, chain(t, "w1", 0, "", Created{})...)
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	_, err = s.Append(ctx, 5, chain(t, "w1", 5, first[1].EventHash, whats("x")...)...)
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	_, err = s.Append(ctx, 1, chain(t, "w1", 1, first[0].EventHash, whats("x")...)...)
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	maxID, err := s.Notifications().MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), maxID, "failed appends must not consume notification ids")
}

func TestEventStore_Append_invalid(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	_, err := s.Append(ctx, 0)
	require.ErrorIs(t, err, ErrNoEvents)

	mixed := append(chain(t, "a", 0, "", Created{}), chain(t, "b", 1, "", whats("x")...)...)
	_, err = s.Append(ctx, 0, mixed...)
	require.Error(t, err)

	gap := chain(t, "a", 0, "", Created{}, happened{})
	gap[1].OriginatorVersion = 2
	_, err = s.Append(ctx, 0, gap...)
	require.Error(t, err)

	wrongHash := chain(t, "a", 0, "", Created{})
	wrongHash[0].EventHash = "deadbeef"
	_, err = s.Append(ctx, 0, wrongHash...)
	require.ErrorIs(t, err, ErrIntegrity)

	wrongLink := chain(t, "a", 0, "nope", Created{})
	_, err = s.Append(ctx, 0, wrongLink...)
	require.ErrorIs(t, err, ErrIntegrity)

	noTime := chain(t, "a", 0, "", Created{})
	noTime[0].Timestamp = time.Time{}
	_, err = s.Append(ctx, 0, noTime...)
	require.Error(t, err)

	typeMismatch := chain(t, "a", 0, "", Created{})
	typeMismatch[0].Type = "test.Happened"
	_, err = s.Append(ctx, 0, typeMismatch...)
	require.Error(t, err)

	afterTombstone := chain(t, "a", 0, "", Created{}, Discarded{}, happened{})
	_, err = s.Append(ctx, 0, afterTombstone...)
	require.ErrorIs(t, err, ErrAggregateDiscarded)

	maxID, err := s.Notifications().MaxID(ctx)
	require.NoError(t, err)
	require.Zero(t, maxID)
}

func TestEventStore_Append_afterDiscard(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	events := chain(t, "w1", 0, "", Created{}, Discarded{})
	_, err := s.Append(ctx, 0, events...)
	require.NoError(t, err)

	_, err = s.Append(ctx, 2, chain(t, "w1", 2, events[1].EventHash, whats("x")...)...)
	require.ErrorIs(t, err, ErrAggregateDiscarded)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestEventStore_DomainEvents_paging(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t, WithPageSize(2))

	_, err := s.Append(ctx, 0, chain(t, "w1", 0, "", append([]Event{Created{}}, whats("a", "b", "c", "d")...)...)...)
	require.NoError(t, err)

	all, err := s.LoadDomainEvents(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, ev := range all {
		require.Equal(t, Version(i), ev.OriginatorVersion)
	}

	window, err := s.LoadDomainEvents(ctx, "w1", WithFromVersion(2), WithToVersion(3))
	require.NoError(t, err)
	require.Len(t, window, 2)
	require.Equal(t, Version(2), window[0].OriginatorVersion)
	require.Equal(t, Version(3), window[1].OriginatorVersion)

	t.Run("restartable and stoppable", func(t *testing.T) {
		seq := s.DomainEvents(ctx, "w1")
		for range 2 {
			n := 0
			for _, err := range seq {
				require.NoError(t, err)
				n++
				if n == 3 {
					break
				}
			}
			require.Equal(t, 3, n)
		}
	})

	none, err := s.LoadDomainEvents(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestEventStore_tampering(t *testing.T) {
	ctx := t.Context()

	setup := func(t *testing.T) (*EventStore, *InMemoryStore) {
		s, records := newTestStore(t)
		_, err := s.Append(ctx, 0, chain(t, "w1", 0, "", Created{}, happened{What: "dinosaurs"}, happened{What: "trucks"})...)
		require.NoError(t, err)
		require.NoError(t, s.VerifyChain(ctx, "w1"))
		return s, records
	}

	t.Run("flipped ciphertext", func(t *testing.T) {
		s, records := setup(t)
		records.streams["w1"][1].State[20] ^= 0x01

		_, err := s.LoadDomainEvents(ctx, "w1")
		require.ErrorIs(t, err, ErrIntegrity)
		require.ErrorIs(t, s.VerifyChain(ctx, "w1"), ErrIntegrity)
		_, err = s.VerifyAll(ctx)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("relocated ciphertext", func(t *testing.T) {
		s, records := setup(t)
		stream := records.streams["w1"]
		stream[1].State, stream[2].State = stream[2].State, stream[1].State

		_, err := s.LoadDomainEvents(ctx, "w1")
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("rewritten hash", func(t *testing.T) {
		s, records := setup(t)
		records.streams["w1"][1].EventHash = "00"

		err := s.VerifyChain(ctx, "w1")
		require.ErrorIs(t, err, ErrIntegrity)
		var ie *IntegrityError
		require.ErrorAs(t, err, &ie)
		require.Equal(t, Version(1), ie.Version)
	})

	t.Run("broken link", func(t *testing.T) {
		s, records := setup(t)
		records.streams["w1"][2].PreviousHash = "00"
		require.ErrorIs(t, s.VerifyChain(ctx, "w1"), ErrIntegrity)
	})
}

func TestEventStore_Verify(t *testing.T) {
	ctx := t.Context()
	s, _ := newTestStore(t)

	a := chain(t, "a", 0, "", Created{}, happened{What: "x"})
	b := chain(t, "b", 0, "", Created{}, Discarded{})
	_, err := s.Append(ctx, 0, a[0])
	require.NoError(t, err)
	_, err = s.Append(ctx, 0, b...)
	require.NoError(t, err)
	_, err = s.Append(ctx, 1, a[1])
	require.NoError(t, err)

	require.NoError(t, s.VerifyChain(ctx, "a"))
	require.NoError(t, s.VerifyChain(ctx, "b"))
	require.ErrorIs(t, s.VerifyChain(ctx, "c"), ErrAggregateNotFound)

	n, err := s.VerifyAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	t.Run("without registered types", func(t *testing.T) {
		bare := NewEventStore(s.records, s.cipher)
		require.NoError(t, bare.VerifyChain(ctx, "a"))

		_, err := bare.LoadDomainEvents(ctx, "a")
		require.ErrorIs(t, err, ErrUnknownEventType)
	})
}
