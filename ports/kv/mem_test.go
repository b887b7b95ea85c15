package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/chronicle-go/core/es"
)

func Test_Memory(t *testing.T) {
	type Foo struct {
		Name string
		Age  int
	}
	s := NewMemStore()

	_, err := Get[Foo](t.Context(), s, "foobar")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Put(t.Context(), s, "p1", Foo{Name: "P1", Age: 10}))
	require.NoError(t, Put(t.Context(), s, "p2", Foo{Name: "P2", Age: 20}))

	loaded, err := Get[Foo](t.Context(), s, "p1")
	require.NoError(t, err)
	require.Equal(t, Foo{Name: "P1", Age: 10}, loaded)

	e, err := s.Get(t.Context(), "p2")
	require.NoError(t, err)
	require.Equal(t, uint64(2), e.Revision)

	require.NoError(t, s.Delete(t.Context(), "p1"))
	_, err = Get[Foo](t.Context(), s, "p1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpoint(t *testing.T) {
	_, err := NewCheckpoint(NewMemStore(), "")
	require.Error(t, err)

	cp, err := NewCheckpoint(NewMemStore(), "relay")
	require.NoError(t, err)

	_, err = cp.Get(t.Context())
	require.ErrorIs(t, err, es.ErrCheckpointNotFound)

	require.NoError(t, cp.Set(t.Context(), 42))
	last, err := cp.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(42), last)
}
