package es

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventRegistry(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Has(CreatedEventType))
	require.True(t, r.Has(DiscardedEventType))
	require.False(t, r.Has("test.Happened"))

	_, err := r.Decode("test.Happened", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownEventType)

	RegisterEvent[happened](r)
	ev, err := r.Decode("test.Happened", json.RawMessage(`{"what":"dinosaurs","at":2}`))
	require.NoError(t, err)
	require.Equal(t, happened{What: "dinosaurs", At: 2}, ev)

	ev, err = r.Decode(DiscardedEventType, json.RawMessage(`null`))
	require.NoError(t, err)
	require.Equal(t, Discarded{}, ev)

	_, err = r.Decode("test.Happened", json.RawMessage(`[]`))
	require.Error(t, err)
}

func TestRecordState(t *testing.T) {
	ev := testEvent()
	payload, err := marshalPayload(ev.Payload)
	require.NoError(t, err)

	data, err := encodeState(ev.Timestamp, payload)
	require.NoError(t, err)

	st, ts, err := decodeState(data)
	require.NoError(t, err)
	require.True(t, ev.Timestamp.Equal(ts))
	require.JSONEq(t, `{"what":"dinosaurs","at":1}`, string(st.Payload))

	_, _, err = decodeState([]byte(`{"timestamp":"yesterday"}`))
	require.Error(t, err)
}
