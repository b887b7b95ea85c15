package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/core/es/estests/domain"
	"github.com/codewandler/chronicle-go/ports/kv"
)

func TestRelay(t *testing.T) {
	var (
		ctx     = t.Context()
		connect = ReuseConnection(NewTestContainer(t))
		te      = es.StartTestEnv(t)
		worlds  = es.NewRepo(te.Env, domain.WorldSchema())
	)

	relay, err := NewRelay(ctx, RelayConfig{
		Connect:       connect,
		SubjectPrefix: "chronicle.test",
		StreamName:    "chronicle_test",
		MaxAge:        time.Hour,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, relay.Close()) }()
	require.Equal(t, "CHRONICLE_TEST", relay.StreamName())

	w, err := worlds.Create()
	require.NoError(t, err)
	require.NoError(t, domain.MakeItSo(w, "dinosaurs"))
	require.NoError(t, domain.MakeItSo(w, "trucks"))
	require.NoError(t, w.Save(ctx))

	cp, err := kv.NewCheckpoint(kv.NewMemStore(), relay.StreamName())
	require.NoError(t, err)

	n, err := relay.Consumer(te.Env, cp).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	last, err := cp.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	info, err := relay.Stream().Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), info.State.Msgs)

	t.Run("subjects and payload", func(t *testing.T) {
		msg, err := relay.Stream().GetLastMsgForSubject(ctx, relay.Subject(domain.SomethingHappened{}.EventType(), w.ID()))
		require.NoError(t, err)
		require.Equal(t, "chronicle.test.world_SomethingHappened."+w.ID(), msg.Subject)
		require.Equal(t, "3", msg.Header.Get(HeaderNotificationID))
		require.Equal(t, "2", msg.Header.Get(HeaderOriginatorVersion))
		require.Equal(t, w.ID(), msg.Header.Get(HeaderOriginatorID))
		require.NotContains(t, string(msg.Data), "trucks")
	})

	t.Run("decode relayed messages", func(t *testing.T) {
		c, err := relay.Stream().OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{})
		require.NoError(t, err)
		batch, err := c.Fetch(3, jetstream.FetchMaxWait(5*time.Second))
		require.NoError(t, err)

		var got []es.DomainEvent
		for msg := range batch.Messages() {
			m, err := DecodeMsg(msg)
			require.NoError(t, err)
			ev, err := te.Store().Decode(m.Record())
			require.NoError(t, err)
			require.NoError(t, ev.CheckHash(te.Store().Hasher()))
			got = append(got, ev)
		}
		require.NoError(t, batch.Error())
		require.Len(t, got, 3)
		require.Equal(t, domain.SomethingHappened{What: "trucks"}, got[2].Payload)
		require.Equal(t, w.Head(), got[2].EventHash)
	})

	t.Run("redelivery is deduplicated", func(t *testing.T) {
		fresh, err := kv.NewCheckpoint(kv.NewMemStore(), relay.StreamName())
		require.NoError(t, err)
		n, err := relay.Consumer(te.Env, fresh).RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, n)

		info, err := relay.Stream().Info(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(3), info.State.Msgs)
	})

	t.Run("relays without event types or key", func(t *testing.T) {
		bare := es.StartTestEnv(t, es.WithRecordStore(te.RecordStore()))
		other, err := NewRelay(ctx, RelayConfig{
			Connect:       connect,
			SubjectPrefix: "chronicle.bare",
			StreamName:    "chronicle_bare",
			MaxMsgs:       100,
		})
		require.NoError(t, err)
		defer func() { require.NoError(t, other.Close()) }()

		cp, err := kv.NewCheckpoint(kv.NewMemStore(), other.StreamName())
		require.NoError(t, err)
		n, err := other.Consumer(bare.Env, cp).RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, n)

		msg, err := other.Stream().GetLastMsgForSubject(ctx, other.Subject(domain.SomethingHappened{}.EventType(), w.ID()))
		require.NoError(t, err)
		var m Message
		require.NoError(t, json.Unmarshal(msg.Data, &m))
		require.Equal(t, w.Head(), m.EventHash)
		require.NotEmpty(t, m.PreviousHash)
	})

	t.Run("requires a retention limit", func(t *testing.T) {
		_, err := NewRelay(ctx, RelayConfig{Connect: connect})
		require.Error(t, err)
	})
}
