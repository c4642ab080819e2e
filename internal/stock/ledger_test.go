package stock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/bus"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

func newLedger(t *testing.T) (*Ledger, *bus.Bus) {
	t.Helper()
	store := storage.NewMemStore()
	b := bus.New(store, nil, "test", nil)
	return NewLedger(store, b, nil), b
}

func TestReserveThenShortfall(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Put(ctx, "P1", 5)
	require.NoError(t, err)

	rec, err := l.Reserve(ctx, "P1", 3)
	require.NoError(t, err)
	require.Equal(t, 2, rec.AvailableQuantity)
	require.True(t, rec.IsAvailable)

	_, err = l.Reserve(ctx, "P1", 3)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 3, insufficient.Requested)
	require.Equal(t, 2, insufficient.Available)

	// failed reserve performed no mutation
	rec, err = l.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, 2, rec.AvailableQuantity)
}

func TestQuantityNeverNegative(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	_, err := l.Put(ctx, "P1", 7)
	require.NoError(t, err)

	ops := []struct {
		reserve bool
		qty     int
	}{
		{true, 3}, {true, 5}, {false, 2}, {true, 6}, {true, 1}, {false, 10}, {true, 15}, {true, 9},
	}
	for _, op := range ops {
		if op.reserve {
			_, _ = l.Reserve(ctx, "P1", op.qty)
		} else {
			_, _ = l.Release(ctx, "P1", op.qty)
		}
		rec, err := l.Get(ctx, "P1")
		require.NoError(t, err)
		require.GreaterOrEqual(t, rec.AvailableQuantity, 0)
		require.Equal(t, rec.AvailableQuantity > 0, rec.IsAvailable)
	}
}

func TestReserveUnknownProduct(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	_, err := l.Reserve(ctx, "nope", 1)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestReleaseOnlyAdds(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	_, err := l.Put(ctx, "P1", 0)
	require.NoError(t, err)

	rec, err := l.Release(ctx, "P1", 4)
	require.NoError(t, err)
	require.Equal(t, 4, rec.AvailableQuantity)
	require.True(t, rec.IsAvailable)

	_, err = l.Release(ctx, "P1", -1)
	require.Error(t, err)
}

func TestBoundarySignals(t *testing.T) {
	ctx := context.Background()
	l, b := newLedger(t)

	var got []Signal
	b.Subscribe(bus.TopicProductsUpdated, func(env bus.Envelope) {
		var s Signal
		require.NoError(t, json.Unmarshal(env.Payload, &s))
		got = append(got, s)
	})

	_, err := l.Put(ctx, "P1", 12)
	require.NoError(t, err)

	// 12 -> 9 crosses the low-stock threshold
	_, err = l.Reserve(ctx, "P1", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "low-stock", got[0].Event)
	require.Equal(t, 9, got[0].Available)

	// 9 -> 5 stays below the threshold, no second advisory
	_, err = l.Reserve(ctx, "P1", 4)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// 5 -> 0 crosses the zero boundary
	_, err = l.Reserve(ctx, "P1", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "stock-depleted", got[1].Event)
}

func TestRevalidate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	l := NewLedger(store, nil, nil)

	_, err := l.Put(ctx, "P1", 5)
	require.NoError(t, err)
	require.NoError(t, l.Revalidate(ctx, []string{"P1"}))

	// a concurrent writer drove the shared record negative
	b, _ := json.Marshal(Record{ProductID: "P1", AvailableQuantity: -2})
	require.NoError(t, store.Set(ctx, "stock:P1", b))

	err = l.Revalidate(ctx, []string{"P1"})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	require.ErrorIs(t, l.Revalidate(ctx, []string{"gone"}), ErrProductNotFound)
}
