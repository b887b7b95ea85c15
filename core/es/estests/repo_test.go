package estests

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/core/es/estests/domain"
)

func TestRepository_notFound(t *testing.T) {
	te := es.StartTestEnv(t)
	r := es.NewRepo(te.Env, domain.CounterSchema())
	_, err := r.Get(t.Context(), "foobar")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestRepository_CreateWithID(t *testing.T) {
	var (
		te    = es.StartTestEnv(t)
		repo  = es.NewRepo(te.Env, domain.CounterSchema())
		aggID = "my-agg-1"
	)

	require.Equal(t, domain.CounterType, repo.Schema().AggregateType())

	a, err := repo.CreateWithID(aggID, domain.Incremented{Inc: 7})
	require.NoError(t, err)
	require.Equal(t, aggID, a.ID())
	require.Equal(t, domain.CounterType, a.AggregateType())
	require.EqualValues(t, 2, a.Version())
	require.EqualValues(t, 7, a.State().Value)

	exists, err := repo.Exists(t.Context(), aggID)
	require.NoError(t, err)
	require.False(t, exists, "nothing is stored before save")

	require.NoError(t, a.Save(t.Context()))

	t.Run("load", func(t *testing.T) {
		loaded, err := repo.Get(t.Context(), aggID)
		require.NoError(t, err)
		require.Equal(t, aggID, loaded.ID())
		require.EqualValues(t, 7, loaded.State().Value)
		require.EqualValues(t, 2, loaded.Version())
	})

	t.Run("same id twice", func(t *testing.T) {
		b, err := repo.CreateWithID(aggID)
		require.NoError(t, err)
		require.ErrorIs(t, b.Save(t.Context()), es.ErrConcurrencyConflict)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := repo.CreateWithID("")
		require.Error(t, err)
	})
}

func TestRepository_Clock(t *testing.T) {
	var (
		now  = time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.FixedZone("CET", 3600))
		tick = 0
	)
	clock := func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}
	te := es.StartTestEnv(t, es.WithClock(clock))
	repo := es.NewRepo(te.Env, domain.WorldSchema())

	w, err := repo.Create()
	require.NoError(t, err)
	require.NoError(t, domain.MakeItSo(w, "tick"))
	require.NoError(t, w.Save(t.Context()))

	got, err := repo.Get(t.Context(), w.ID())
	require.NoError(t, err)
	require.True(t, now.Add(time.Second).Equal(got.CreatedAt()))
	require.True(t, now.Add(2*time.Second).Equal(got.ModifiedAt()))
	require.Equal(t, time.UTC, got.CreatedAt().Location())
}

func TestRepository_IDGenerator(t *testing.T) {
	n := 0
	te := es.StartTestEnv(t, es.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("world-%d", n)
	}))
	repo := es.NewRepo(te.Env, domain.WorldSchema())

	for i := 1; i <= 3; i++ {
		w, err := repo.Create()
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("world-%d", i), w.ID())
	}

	t.Run("uuid", func(t *testing.T) {
		gen, err := es.NewIDGenerator("uuid")
		require.NoError(t, err)
		w, err := es.NewRepo(te.Env, domain.WorldSchema(), es.WithIDGenerator(gen)).Create()
		require.NoError(t, err)
		require.Len(t, w.ID(), 36)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := es.NewIDGenerator("snowflake")
		require.Error(t, err)
	})
}

func TestRepository_Validation(t *testing.T) {
	te := es.StartTestEnv(t)
	repo := es.NewRepo(te.Env, domain.WorldSchema())

	w, err := repo.Create()
	require.NoError(t, err)
	require.Error(t, domain.MakeItSo(w, "  "))
	require.Error(t, w.Trigger(nil))
	require.Len(t, w.PendingEvents(), 1)
}

func TestRepository_SaveAll(t *testing.T) {
	te := es.StartTestEnv(t)
	repo := es.NewRepo(te.Env, domain.CounterSchema())

	c, err := repo.Create()
	require.NoError(t, err)
	for range 5 {
		require.NoError(t, domain.IncBy(c, 1))
		require.NoError(t, c.Save(t.Context()))
	}

	got, err := repo.Get(t.Context(), c.ID())
	require.NoError(t, err)
	require.EqualValues(t, 5, got.State().Value)
	require.EqualValues(t, 6, got.Version())
	te.Assert().NotificationIDs(6)
	te.Assert().ChainValid()
}

func TestRepository_Update(t *testing.T) {
	var (
		te   = es.StartTestEnv(t)
		repo = es.NewRepo(te.Env, domain.CounterSchema())
	)
	c, err := repo.Create()
	require.NoError(t, err)
	require.NoError(t, c.Save(t.Context()))

	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			return repo.Update(t.Context(), c.ID(), func(c *es.Root[domain.Counter]) error {
				return domain.IncBy(c, 1)
			})
		})
	}
	require.NoError(t, g.Wait())

	got, err := repo.Get(t.Context(), c.ID())
	require.NoError(t, err)
	require.EqualValues(t, 20, got.State().Value)
	require.EqualValues(t, 21, got.Version())
	te.Assert().NotificationIDs(21)

	t.Run("fn error saves nothing", func(t *testing.T) {
		err := repo.Update(t.Context(), c.ID(), func(c *es.Root[domain.Counter]) error {
			return domain.IncBy(c, domain.CounterMax)
		})
		require.Error(t, err)
		te.Assert().NotificationIDs(21)
	})

	t.Run("not found", func(t *testing.T) {
		err := repo.Update(t.Context(), "nope", func(*es.Root[domain.Counter]) error { return nil })
		require.ErrorIs(t, err, es.ErrAggregateNotFound)
	})
}

func TestRepository_OtherAggregateType(t *testing.T) {
	var (
		te       = es.StartTestEnv(t)
		worlds   = es.NewRepo(te.Env, domain.WorldSchema())
		counters = es.NewRepo(te.Env, domain.CounterSchema())
	)
	w, err := worlds.Create()
	require.NoError(t, err)
	require.NoError(t, w.Save(t.Context()))

	_, err = counters.Get(t.Context(), w.ID())
	require.ErrorIs(t, err, es.ErrAggregateNotFound)

	_, err = worlds.Get(t.Context(), w.ID())
	require.NoError(t, err)
}
