package estests

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/core/es/estests/domain"
)

func createCounter(t *testing.T, te *es.TestingEnv, incs ...uint8) *es.Root[domain.Counter] {
	t.Helper()
	c, err := es.NewRepo(te.Env, domain.CounterSchema()).Create()
	require.NoError(t, err)
	for _, inc := range incs {
		require.NoError(t, domain.IncBy(c, inc))
	}
	require.NoError(t, c.Save(t.Context()))
	return c
}

func TestConsumer(t *testing.T) {
	rcv := make(chan es.MsgCtx, 1)

	te := es.StartTestEnv(t)
	c := te.NewConsumer(
		es.Handle(func(m es.MsgCtx) error {
			rcv <- m
			return nil
		}),
		es.WithConsumerName("banana"),
		es.WithLog(slog.Default()),
		es.WithPollInterval(10*time.Millisecond),
		es.WithMiddlewares(
			es.NewLogMiddleware(),
		),
	)
	require.NoError(t, c.Start(t.Context()))
	defer c.Stop()

	select {
	case <-c.Live():
	case <-time.After(time.Second):
		t.Fatal("consumer of an empty log is not live")
	}

	createCounter(t, te)

	select {
	case m := <-rcv:
		require.Equal(t, uint64(1), m.NotificationID())
		require.Equal(t, es.CreatedEventType, m.Type())
		require.Equal(t, es.Created{AggregateType: domain.CounterType}, m.Payload())
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestConsumer_WithCheckpoint(t *testing.T) {
	rcv := make(chan es.MsgCtx, 1)

	te := es.StartTestEnv(t)
	cp := es.NewInMemCpStore()
	require.NoError(t, cp.Set(t.Context(), 5))

	c := te.NewConsumer(
		es.Handle(func(m es.MsgCtx) error {
			rcv <- m
			return nil
		}),
		es.WithConsumerName("banana"),
		es.WithCheckpoint(cp),
		es.WithMiddlewares(
			es.NewLogMiddleware(),
		),
	)

	createCounter(t, te, 10)

	n, err := c.RunOnce(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, uint64(6), c.Position())

	select {
	case <-rcv:
		t.Fatal("received event that should have been skipped by checkpoint")
	default:
	}
}

func TestConsumer_StartID(t *testing.T) {
	te := es.StartTestEnv(t)
	createCounter(t, te, 1, 2, 3)

	var got []uint64
	c := te.NewConsumer(
		es.Handle(func(m es.MsgCtx) error {
			got = append(got, m.NotificationID())
			return nil
		}),
		es.WithStartID(3),
	)
	n, err := c.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []uint64{3, 4}, got)
}

func TestConsumer_Redelivery(t *testing.T) {
	var (
		te   = es.StartTestEnv(t)
		cp   = es.NewInMemCpStore()
		fail = true
		got  []uint64
	)
	createCounter(t, te, 1, 2)

	c := te.NewConsumer(
		es.Handle(func(m es.MsgCtx) error {
			if m.NotificationID() == 2 && fail {
				fail = false
				return errors.New("boom")
			}
			got = append(got, m.NotificationID())
			return nil
		}),
		es.WithCheckpoint(cp),
	)

	n, err := c.RunOnce(t.Context())
	require.Error(t, err)
	require.Equal(t, 1, n)
	last, err := cp.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(1), last)

	n, err = c.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []uint64{1, 2, 3}, got)

	t.Run("resume from checkpoint", func(t *testing.T) {
		createCounter(t, te)

		var resumed []uint64
		c := te.NewConsumer(
			es.Handle(func(m es.MsgCtx) error {
				resumed = append(resumed, m.NotificationID())
				return nil
			}),
			es.WithCheckpoint(cp),
		)
		_, err := c.RunOnce(t.Context())
		require.NoError(t, err)
		require.Equal(t, []uint64{4}, resumed)
	})
}

func TestConsumer_EventHashes(t *testing.T) {
	te := es.StartTestEnv(t)
	w, err := es.NewRepo(te.Env, domain.WorldSchema()).Create()
	require.NoError(t, err)
	require.NoError(t, domain.MakeItSo(w, "dinosaurs"))
	require.NoError(t, w.Save(t.Context()))

	stored, err := te.Store().RawRecords(t.Context(), w.ID())
	require.NoError(t, err)
	require.Len(t, stored, 2)

	var got []es.DomainEvent
	c := te.NewConsumer(es.Handle(func(m es.MsgCtx) error {
		require.Equal(t, m.Event().EventHash, m.Notification().EventHash)
		got = append(got, m.Event())
		return nil
	}))
	n, err := c.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for i, ev := range got {
		require.Equal(t, stored[i].PreviousHash, ev.PreviousHash)
		require.Equal(t, stored[i].EventHash, ev.EventHash)
		require.NoError(t, ev.CheckHash(te.Store().Hasher()))
	}
	require.Equal(t, w.Head(), got[1].EventHash)
}

func TestConsumer_Raw(t *testing.T) {
	var (
		key    = es.TestKey(t)
		writer = es.StartTestEnv(t, es.WithKey(es.CipherAESGCM, key))
		// shares the records but never registered the world events
		reader = es.StartTestEnv(t,
			es.WithRecordStore(writer.RecordStore()),
			es.WithKey(es.CipherAESGCM, key),
		)
	)
	w, err := es.NewRepo(writer.Env, domain.WorldSchema()).Create()
	require.NoError(t, err)
	require.NoError(t, domain.MakeItSo(w, "dinosaurs"))
	require.NoError(t, w.Save(t.Context()))

	t.Run("decoding stops at unknown types", func(t *testing.T) {
		c := reader.NewConsumer(es.Handle(func(es.MsgCtx) error { return nil }))
		for _, want := range []int{1, 0} {
			n, err := c.RunOnce(t.Context())
			require.ErrorIs(t, err, es.ErrUnknownEventType)
			require.Equal(t, want, n)
			require.Equal(t, uint64(2), c.Position())
		}
	})

	t.Run("raw", func(t *testing.T) {
		var got []es.MsgCtx
		c := reader.NewConsumer(es.Handle(func(m es.MsgCtx) error {
			got = append(got, m)
			return nil
		}), es.WithRaw())
		n, err := c.RunOnce(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.Equal(t, uint64(3), c.Position())

		last := got[1]
		require.Equal(t, domain.SomethingHappened{}.EventType(), last.Type())
		require.Nil(t, last.Payload())
		require.Equal(t, w.Head(), last.Event().EventHash)
		require.Equal(t, got[0].Event().EventHash, last.Event().PreviousHash)

		ev, err := writer.Store().DecodeNotification(last.Notification())
		require.NoError(t, err)
		require.Equal(t, domain.SomethingHappened{What: "dinosaurs"}, ev.Payload)
		require.NoError(t, ev.CheckHash(writer.Store().Hasher()))
	})
}

func TestConsumer_PositionBeforeRun(t *testing.T) {
	te := es.StartTestEnv(t)
	require.Equal(t, uint64(1), te.NewConsumer(es.Handle(func(es.MsgCtx) error { return nil })).Position())
	require.Equal(t, uint64(7), te.NewConsumer(
		es.Handle(func(es.MsgCtx) error { return nil }),
		es.WithStartID(7),
	).Position())
}
