// Package estests runs the behaviour of the event store against every
// RecordStore backend. Backends outside this package call RunSuite from their
// own tests.
package estests

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/core/es/estests/domain"
)

// NewRecordStore returns an empty backend for one test.
type NewRecordStore func(t *testing.T) es.RecordStore

type suiteEnv struct {
	*es.TestingEnv
	worlds   *es.Repository[domain.World]
	counters *es.Repository[domain.Counter]
}

func newSuiteEnv(t *testing.T, newStore NewRecordStore, opts ...es.EnvOption) *suiteEnv {
	t.Helper()
	te := es.StartTestEnv(t, append([]es.EnvOption{es.WithRecordStore(newStore(t))}, opts...)...)
	return &suiteEnv{
		TestingEnv: te,
		worlds:     es.NewRepo(te.Env, domain.WorldSchema()),
		counters:   es.NewRepo(te.Env, domain.CounterSchema()),
	}
}

// RunSuite runs every store behaviour against backends made by newStore.
func RunSuite(t *testing.T, newStore NewRecordStore) {
	t.Run("scenario", func(t *testing.T) { testScenario(t, newStore) })
	t.Run("hash chain", func(t *testing.T) { testHashChain(t, newStore) })
	t.Run("round trip", func(t *testing.T) { testRoundTrip(t, newStore) })
	t.Run("concurrent saves", func(t *testing.T) { testConcurrentSaves(t, newStore) })
	t.Run("notification order", func(t *testing.T) { testNotificationOrder(t, newStore) })
	t.Run("discard", func(t *testing.T) { testDiscard(t, newStore) })
	t.Run("encryption", func(t *testing.T) { testEncryption(t, newStore) })
	t.Run("at version", func(t *testing.T) { testAtVersion(t, newStore) })
	t.Run("verify hashes", func(t *testing.T) { testVerifyHashes(t, newStore) })
	t.Run("notification reader", func(t *testing.T) { testNotificationReader(t, newStore) })
	t.Run("consumer", func(t *testing.T) { testConsumer(t, newStore) })
}

func testScenario(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	a, err := e.worlds.Create()
	require.NoError(t, err)
	require.Equal(t, es.Version(1), a.Version())
	require.NoError(t, a.Save(ctx))
	e.Assert().NotificationIDs(1)

	require.NoError(t, domain.MakeItSo(a, "dinosaurs"))
	require.NoError(t, domain.MakeItSo(a, "trucks"))
	require.NoError(t, a.Save(ctx))
	e.Assert().NotificationIDs(3)

	require.NoError(t, domain.MakeItSo(a, "internet"))
	require.NoError(t, a.Save(ctx))
	e.Assert().NotificationIDs(4)

	got, err := e.worlds.Get(ctx, a.ID())
	require.NoError(t, err)
	require.Equal(t, es.Version(4), got.Version())
	require.Equal(t, a.Head(), got.Head())
	require.Equal(t, []string{"dinosaurs", "trucks", "internet"}, got.State().History)

	require.NoError(t, got.Discard())
	require.NoError(t, got.Save(ctx))
	exists, err := e.worlds.Exists(ctx, a.ID())
	require.NoError(t, err)
	require.False(t, exists)

	b, err := e.worlds.Create()
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx))

	notifs, err := e.Notifications().Read(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, notifs, 6)
	for i, n := range notifs {
		require.Equal(t, uint64(i+1), n.ID)
	}
	require.Equal(t, es.DiscardedEventType, notifs[4].EventType)
	require.Equal(t, b.ID(), notifs[5].OriginatorID)
	require.Equal(t, es.CreatedEventType, notifs[5].EventType)

	e.Assert().ChainValid()
}

func testHashChain(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	w, err := e.worlds.Create(domain.SomethingHappened{What: "a"})
	require.NoError(t, err)
	require.NoError(t, w.Save(ctx))
	for _, what := range []string{"b", "c", "d"} {
		require.NoError(t, domain.MakeItSo(w, what))
		pending := w.PendingEvents()
		require.Equal(t, pending[len(pending)-1].EventHash, w.Head())
	}
	require.NoError(t, w.Save(ctx))

	events, err := e.Store().LoadDomainEvents(ctx, w.ID())
	require.NoError(t, err)
	require.Len(t, events, 5)
	require.Empty(t, events[0].PreviousHash)
	for i := 1; i < len(events); i++ {
		require.Equal(t, events[i-1].EventHash, events[i].PreviousHash, "event %d", i)
		require.NoError(t, events[i].CheckHash(e.Store().Hasher()))
	}
	require.Equal(t, events[len(events)-1].EventHash, w.Head())
	require.NoError(t, e.Store().VerifyChain(ctx, w.ID()))
}

func testRoundTrip(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	c, err := e.counters.Create()
	require.NoError(t, err)
	require.NoError(t, domain.IncBy(c, 7))
	require.NoError(t, domain.IncBy(c, 3))
	require.NoError(t, domain.Reset(c))
	require.NoError(t, domain.IncBy(c, 5))
	require.NoError(t, c.Save(ctx))

	got, err := e.counters.Get(ctx, c.ID())
	require.NoError(t, err)
	require.Equal(t, c.Version(), got.Version())
	require.Equal(t, c.Head(), got.Head())
	require.Equal(t, c.State(), got.State())
	require.Equal(t, domain.Counter{Value: 5, NumIncrements: 3, NumResets: 1, NumTotalEvents: 4}, got.State())
	require.True(t, c.CreatedAt().Equal(got.CreatedAt()))
	require.True(t, c.ModifiedAt().Equal(got.ModifiedAt()))
	require.False(t, got.HasPendingEvents())

	t.Run("failed transition changes nothing", func(t *testing.T) {
		head, version := got.Head(), got.Version()
		require.Error(t, domain.IncBy(got, domain.CounterMax))
		require.Equal(t, head, got.Head())
		require.Equal(t, version, got.Version())
		require.Equal(t, uint16(5), got.State().Value)
		require.False(t, got.HasPendingEvents())
	})

	t.Run("unknown event type", func(t *testing.T) {
		err := got.Trigger(domain.SomethingHappened{What: "x"})
		require.ErrorIs(t, err, es.ErrUnknownEventType)
		require.False(t, got.HasPendingEvents())
	})

	t.Run("save without changes", func(t *testing.T) {
		require.NoError(t, got.Save(ctx))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := e.counters.Get(ctx, "missing")
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
		exists, err := e.counters.Exists(ctx, "missing")
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func testConcurrentSaves(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	w, err := e.worlds.Create()
	require.NoError(t, err)
	require.NoError(t, w.Save(ctx))

	const writers = 5
	roots := make([]*es.Root[domain.World], writers)
	for i := range roots {
		roots[i], err = e.worlds.Get(ctx, w.ID())
		require.NoError(t, err)
		require.NoError(t, domain.MakeItSo(roots[i], fmt.Sprintf("writer %d", i)))
		require.NoError(t, domain.MakeItSo(roots[i], fmt.Sprintf("writer %d again", i)))
	}

	results := make([]error, writers)
	var g errgroup.Group
	for i, r := range roots {
		g.Go(func() error {
			results[i] = r.Save(ctx)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	}
	require.Equal(t, 1, succeeded)

	for i, r := range roots {
		if results[i] != nil {
			require.True(t, r.HasPendingEvents(), "pending events are kept after a conflict")
		}
	}

	raw, err := e.Store().RawRecords(ctx, w.ID())
	require.NoError(t, err)
	require.Len(t, raw, 3)
	e.Assert().NotificationIDs(3)
	e.Assert().ChainValid()

	t.Run("reload and retry", func(t *testing.T) {
		fresh, err := e.worlds.Get(ctx, w.ID())
		require.NoError(t, err)
		require.NoError(t, domain.MakeItSo(fresh, "retry"))
		require.NoError(t, fresh.Save(ctx))
		require.Equal(t, es.Version(4), fresh.Version())
	})
}

func testNotificationOrder(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	const aggregates, rounds = 4, 3
	var g errgroup.Group
	for i := range aggregates {
		g.Go(func() error {
			w, err := e.worlds.Create()
			if err != nil {
				return err
			}
			for j := range rounds {
				if err := domain.MakeItSo(w, fmt.Sprintf("%d-%d", i, j)); err != nil {
					return err
				}
				if err := w.Save(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	e.Assert().NotificationIDs(aggregates * (rounds + 1))

	// per stream, notification order is version order
	next := map[string]es.Version{}
	for n, err := range e.Notifications().All(ctx, 1) {
		require.NoError(t, err)
		require.Equal(t, next[n.OriginatorID], n.OriginatorVersion)
		next[n.OriginatorID]++
	}
	require.Len(t, next, aggregates)
	e.Assert().ChainValid()
}

func testDiscard(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	w, err := e.worlds.Create()
	require.NoError(t, err)
	require.NoError(t, w.Save(ctx))

	stale, err := e.worlds.Get(ctx, w.ID())
	require.NoError(t, err)

	require.NoError(t, w.Discard())
	require.True(t, w.IsDiscarded())
	require.ErrorIs(t, domain.MakeItSo(w, "after"), es.ErrAggregateDiscarded)
	require.NoError(t, w.Save(ctx))

	exists, err := e.worlds.Exists(ctx, w.ID())
	require.NoError(t, err)
	require.False(t, exists)

	_, err = e.worlds.Get(ctx, w.ID())
	require.ErrorIs(t, err, es.ErrAggregateDiscarded)
	require.ErrorIs(t, err, es.ErrAggregateNotFound)

	err = w.Save(ctx)
	require.ErrorIs(t, err, es.ErrAggregateDiscarded)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	require.NoError(t, domain.MakeItSo(stale, "too late"))
	err = stale.Save(ctx)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	_, err = e.worlds.Get(ctx, w.ID(), es.AtVersion(0))
	require.NoError(t, err, "history before the tombstone stays readable")
}

func testEncryption(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	secrets := []string{"dinosaurs roamed", "trucks-and-trains", "the internet"}
	w, err := e.worlds.Create()
	require.NoError(t, err)
	for _, s := range secrets {
		require.NoError(t, domain.MakeItSo(w, s))
	}
	require.NoError(t, w.Save(ctx))

	raw, err := e.Store().RawRecords(ctx, w.ID())
	require.NoError(t, err)
	require.Len(t, raw, 4)
	for _, r := range raw {
		for _, s := range secrets {
			assert.False(t, bytes.Contains(r.State, []byte(s)), "version %d leaks %q", r.OriginatorVersion, s)
		}
		assert.False(t, bytes.Contains(r.State, []byte(domain.WorldType)))
	}

	t.Run("wrong key", func(t *testing.T) {
		other, err := es.NewEnv(es.WithRecordStore(e.RecordStore()), es.WithKey(es.CipherAESGCM, es.TestKey(t)))
		require.NoError(t, err)
		repo := es.NewRepo(other, domain.WorldSchema())
		_, err = repo.Get(ctx, w.ID())
		require.ErrorIs(t, err, es.ErrIntegrity)
	})
}

func testAtVersion(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	w, err := e.worlds.Create()
	require.NoError(t, err)
	for _, what := range []string{"a", "b", "c"} {
		require.NoError(t, domain.MakeItSo(w, what))
	}
	require.NoError(t, w.Save(ctx))
	events, err := e.Store().LoadDomainEvents(ctx, w.ID())
	require.NoError(t, err)

	for v, want := range [][]string{nil, {"a"}, {"a", "b"}, {"a", "b", "c"}} {
		got, err := e.worlds.Get(ctx, w.ID(), es.AtVersion(es.Version(v)))
		require.NoError(t, err)
		require.Equal(t, es.Version(v+1), got.Version())
		require.Equal(t, want, got.State().History)
		require.Equal(t, events[v].EventHash, got.Head())
	}

	_, err = e.worlds.Get(ctx, w.ID(), es.AtVersion(9))
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func testVerifyHashes(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore, es.WithPageSize(2))

	w, err := e.worlds.Create()
	require.NoError(t, err)
	for i := range 6 {
		require.NoError(t, domain.MakeItSo(w, fmt.Sprint(i)))
	}
	require.NoError(t, w.Save(ctx))

	got, err := e.worlds.Get(ctx, w.ID(), es.WithVerifyHashes())
	require.NoError(t, err)
	require.Len(t, got.State().History, 6)

	n, err := e.Store().VerifyAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func testNotificationReader(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)
	reader := e.Notifications().Reader()

	w, err := e.worlds.Create()
	require.NoError(t, err)
	for _, what := range []string{"a", "b", "c", "d"} {
		require.NoError(t, domain.MakeItSo(w, what))
	}
	require.NoError(t, w.Save(ctx))

	got, err := reader.Read(ctx)
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, uint64(1), got[0].ID)
	require.Equal(t, uint64(5), got[4].ID)

	require.NoError(t, domain.MakeItSo(w, "e"))
	require.NoError(t, domain.MakeItSo(w, "f"))
	require.NoError(t, w.Save(ctx))

	got, err = reader.Read(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(6), got[0].ID)
	require.Equal(t, uint64(7), got[1].ID)

	ev, err := e.Store().DecodeNotification(got[1])
	require.NoError(t, err)
	require.Equal(t, domain.SomethingHappened{What: "f"}, ev.Payload)
	require.Equal(t, w.ID(), ev.OriginatorID)
	require.Equal(t, es.Version(6), ev.OriginatorVersion)
}

func testConsumer(t *testing.T, newStore NewRecordStore) {
	ctx := t.Context()
	e := newSuiteEnv(t, newStore)

	w, err := e.worlds.Create()
	require.NoError(t, err)
	require.NoError(t, domain.MakeItSo(w, "before"))
	require.NoError(t, w.Save(ctx))

	seen := make(chan es.MsgCtx, 16)
	cp := es.NewInMemCpStore()
	c := e.NewConsumer(
		es.Handle(func(m es.MsgCtx) error {
			seen <- m
			return nil
		}),
		es.WithConsumerName("suite"),
		es.WithCheckpoint(cp),
		es.WithPollInterval(10*time.Millisecond),
		es.WithMiddlewares(es.NewLogMiddleware()),
	)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	select {
	case <-c.Live():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not catch up")
	}

	for _, want := range []uint64{1, 2} {
		m := <-seen
		require.Equal(t, want, m.NotificationID())
		require.False(t, m.Live())
	}

	require.NoError(t, domain.MakeItSo(w, "after"))
	require.NoError(t, w.Save(ctx))

	select {
	case m := <-seen:
		require.Equal(t, uint64(3), m.NotificationID())
		require.True(t, m.Live())
		require.Equal(t, domain.SomethingHappened{What: "after"}, m.Payload())
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}

	require.Eventually(t, func() bool {
		last, err := cp.Get(ctx)
		return err == nil && last == 3
	}, 5*time.Second, 10*time.Millisecond)
}
