package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

func TestPublishDeliversToLocalSubscribers(t *testing.T) {
	ctx := context.Background()
	b := New(nil, nil, "test", nil)

	var got []Envelope
	b.Subscribe(TopicProductsUpdated, func(env Envelope) { got = append(got, env) })

	require.NoError(t, b.Publish(ctx, TopicProductsUpdated, map[string]string{"productId": "P1"}))
	require.Len(t, got, 1)
	require.Equal(t, "PRODUCTS_UPDATED", got[0].Type)
	require.NotEmpty(t, got[0].EventID)
	require.False(t, got[0].Timestamp.IsZero())
	require.JSONEq(t, `{"productId":"P1"}`, string(got[0].Payload))
}

func TestPublishUnknownTopic(t *testing.T) {
	b := New(nil, nil, "test", nil)
	require.Error(t, b.Publish(context.Background(), Topic("bogus"), nil))
}

func TestSubscribeIdempotentPerHandler(t *testing.T) {
	ctx := context.Background()
	b := New(nil, nil, "test", nil)

	calls := 0
	h := func(Envelope) { calls++ }
	b.Subscribe(TopicOrdersUpdated, h)
	unsub := b.Subscribe(TopicOrdersUpdated, h) // same handler, single registration

	require.NoError(t, b.Publish(ctx, TopicOrdersUpdated, nil))
	require.Equal(t, 1, calls)

	unsub()
	unsub() // safe twice
	require.NoError(t, b.Publish(ctx, TopicOrdersUpdated, nil))
	require.Equal(t, 1, calls)
}

func TestPublishTouchesStoreKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	b := New(store, nil, "test", nil)

	fired := 0
	store.Subscribe("bus:force-reload", func(string) { fired++ })

	require.NoError(t, b.Publish(ctx, TopicForceReload, nil))
	require.Equal(t, 1, fired)

	v, err := store.Get(ctx, "bus:force-reload")
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(v, &env))
	require.Equal(t, "FORCE_RELOAD", env.Type)
}

func TestLoopbackCrossInstanceDelivery(t *testing.T) {
	ctx := context.Background()
	hub := NewLoopback()

	a := New(nil, hub.Endpoint(), "a", nil)
	b := New(nil, hub.Endpoint(), "b", nil)
	a.Start(ctx)
	b.Start(ctx)

	var aGot, bGot int
	a.Subscribe(TopicOrdersUpdated, func(Envelope) { aGot++ })
	b.Subscribe(TopicOrdersUpdated, func(Envelope) { bGot++ })

	require.NoError(t, a.Publish(ctx, TopicOrdersUpdated, nil))
	require.Equal(t, 1, aGot, "publisher sees its own local delivery once")
	require.Equal(t, 1, bGot, "peer receives the cross-instance copy")
}

func TestDispatchDropsOwnEcho(t *testing.T) {
	ctx := context.Background()
	hub := NewLoopback()

	a := New(nil, hub.Endpoint(), "same", nil)
	b := New(nil, hub.Endpoint(), "same", nil) // same producer name
	a.Start(ctx)
	b.Start(ctx)

	bGot := 0
	b.Subscribe(TopicOrdersUpdated, func(Envelope) { bGot++ })

	require.NoError(t, a.Publish(ctx, TopicOrdersUpdated, nil))
	require.Zero(t, bGot, "an instance drops envelopes carrying its own producer name")
}
