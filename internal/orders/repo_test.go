package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/bus"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

func newRepo(t *testing.T) (*Repository, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	return NewRepository(store, nil, nil, "ORD", 1001), store
}

func draftC1() Draft {
	return Draft{
		CustomerID:   "C1",
		CustomerName: "Ayşe Yılmaz",
		Items: []LineItem{
			{ProductID: "P1", Name: "Tomato", UnitPrice: 21.00, Unit: "kg", Quantity: 2},
		},
	}
}

func seedLedger(t *testing.T, store storage.Store, key string, entries ...any) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		raw = append(raw, b)
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), key, b))
}

func ledgerIDs(t *testing.T, store storage.Store, key string) []string {
	t.Helper()
	b, err := store.Get(context.Background(), key)
	if err != nil {
		require.ErrorIs(t, err, storage.ErrNoKey)
		return nil
	}
	var list []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(b, &list))
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	return out
}

func TestCreateWritesBothLedgers(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo(t)

	d := draftC1()
	d.Items = []LineItem{{ProductID: "P1", Name: "Tomato", UnitPrice: 21.00, Quantity: 2}}
	o, err := r.Create(ctx, d)
	require.NoError(t, err)
	require.NotEmpty(t, o.ID)
	require.Equal(t, "ORD-001001", o.OrderNumber)
	require.Equal(t, StatusPending, o.Status)
	require.InDelta(t, 42.00, o.Total, 1e-9)

	require.Equal(t, []string{o.ID}, ledgerIDs(t, store, KeyCustomerLedger))
	require.Equal(t, []string{o.ID}, ledgerIDs(t, store, KeyFulfillmentLedger))

	got, err := r.GetByCustomerID(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.InDelta(t, 42.00, got[0].Total, 1e-9)
}

func TestCreateSequentialOrderNumbers(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	o1, err := r.Create(ctx, draftC1())
	require.NoError(t, err)
	o2, err := r.Create(ctx, draftC1())
	require.NoError(t, err)
	require.Equal(t, "ORD-001001", o1.OrderNumber)
	require.Equal(t, "ORD-001002", o2.OrderNumber)
	require.NotEqual(t, o1.ID, o2.ID)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	d := draftC1()
	d.CustomerID = ""
	_, err := r.Create(ctx, d)
	require.Error(t, err)

	d = draftC1()
	d.Items = nil
	_, err = r.Create(ctx, d)
	require.Error(t, err)

	d = draftC1()
	d.Items[0].Quantity = 0
	_, err = r.Create(ctx, d)
	require.Error(t, err)
}

func TestGetAllNormalizesLegacyRecords(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo(t)

	seedLedger(t, store, KeyCustomerLedger, map[string]any{
		"id":          "ORD-1-000001",
		"order_no":    "ORD-000001",
		"customer_id": "C9",
		"status":      "Teslim Edildi",
		"created_at":  "2025-06-01T10:00:00Z",
		"updated_at":  "2025-06-02T10:00:00Z",
		"items": []map[string]any{
			{"product_id": "P1", "qty": 3, "price": 5.00},
		},
	})

	all, err := r.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	o := all[0]
	require.Equal(t, "ORD-000001", o.OrderNumber)
	require.Equal(t, "C9", o.CustomerID)
	require.Equal(t, StatusDelivered, o.Status)
	require.Equal(t, 3, o.Items[0].Quantity)
	require.InDelta(t, 15.00, o.Items[0].LineTotal, 1e-9)
	require.InDelta(t, 15.00, o.Total, 1e-9)
}

func TestGetAllMergeConvergence(t *testing.T) {
	ctx := context.Background()

	older := map[string]any{
		"id": "X", "customerId": "C1", "status": "Pending",
		"createdAt": "2025-06-01T10:00:00Z", "updatedAt": "2025-06-01T10:00:00Z",
	}
	newer := map[string]any{
		"id": "X", "customerId": "C1", "status": "Delivered",
		"createdAt": "2025-06-01T10:00:00Z", "updatedAt": "2025-06-03T10:00:00Z",
	}
	only := map[string]any{
		"id": "Y", "customerId": "C2", "status": "Confirmed",
		"createdAt": "2025-06-02T10:00:00Z", "updatedAt": "2025-06-02T10:00:00Z",
	}

	r1, s1 := newRepo(t)
	seedLedger(t, s1, KeyCustomerLedger, older)
	seedLedger(t, s1, KeyFulfillmentLedger, newer, only)
	a, err := r1.GetAll(ctx, nil)
	require.NoError(t, err)

	// same two raw states presented the other way around
	r2, s2 := newRepo(t)
	seedLedger(t, s2, KeyCustomerLedger, newer, only)
	seedLedger(t, s2, KeyFulfillmentLedger, older)
	b, err := r2.GetAll(ctx, nil)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Len(t, a, 2)
	require.Equal(t, "Y", a[0].ID) // newest first
	require.Equal(t, "X", a[1].ID)
	require.Equal(t, StatusDelivered, a[1].Status) // later updatedAt wins wholesale
}

func TestGetByCustomerIDIsolation(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo(t)

	mine := map[string]any{
		"id": "A", "customerId": "C1", "status": "Pending",
		"createdAt": "2025-06-01T10:00:00Z", "updatedAt": "2025-06-01T10:00:00Z",
	}
	theirs := map[string]any{
		"id": "B", "customerId": "C2", "status": "Pending",
		"createdAt": "2025-06-01T11:00:00Z", "updatedAt": "2025-06-01T11:00:00Z",
	}
	orphan := map[string]any{
		"id": "O", "status": "Pending",
		"createdAt": "2025-06-01T12:00:00Z", "updatedAt": "2025-06-01T12:00:00Z",
	}
	// orphan and theirs live in one ledger only; isolation still holds
	seedLedger(t, store, KeyCustomerLedger, mine)
	seedLedger(t, store, KeyFulfillmentLedger, mine, theirs, orphan)

	got, err := r.GetByCustomerID(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "A", got[0].ID)

	// a record without a customer id is returned to nobody
	for _, cid := range []string{"C1", "C2", "O"} {
		got, err := r.GetByCustomerID(ctx, cid)
		require.NoError(t, err)
		for _, o := range got {
			require.Equal(t, cid, o.CustomerID)
		}
	}

	_, err = r.GetByCustomerID(ctx, "")
	require.ErrorIs(t, err, ErrIsolationViolation)
}

func TestUpdateStatusHealsSingleLedgerRecord(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo(t)

	// simulate a partial create: the record made it into the customer
	// ledger only
	seedLedger(t, store, KeyCustomerLedger, map[string]any{
		"id": "X", "customerId": "C1", "status": "Pending",
		"createdAt": "2025-06-01T10:00:00Z", "updatedAt": "2025-06-01T10:00:00Z",
	})

	o, err := r.UpdateStatus(ctx, "X", StatusDelivered, "left at door", "courier-7")
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, o.Status)
	require.Equal(t, "courier-7", o.UpdatedBy)

	require.Equal(t, []string{"X"}, ledgerIDs(t, store, KeyCustomerLedger))
	require.Equal(t, []string{"X"}, ledgerIDs(t, store, KeyFulfillmentLedger))

	got, err := r.GetByID(ctx, "X")
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, got.Status)
}

func TestUpdateStatusIdempotent(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo(t)

	created, err := r.Create(ctx, draftC1())
	require.NoError(t, err)

	o1, err := r.UpdateStatus(ctx, created.ID, StatusConfirmed, "ok", "admin")
	require.NoError(t, err)
	o2, err := r.UpdateStatus(ctx, created.ID, StatusConfirmed, "ok", "admin")
	require.NoError(t, err)

	o1.UpdatedAt = time.Time{}
	o2.UpdatedAt = time.Time{}
	require.Equal(t, o1, o2)

	// no duplicate entries were appended
	require.Len(t, ledgerIDs(t, store, KeyCustomerLedger), 1)
	require.Len(t, ledgerIDs(t, store, KeyFulfillmentLedger), 1)
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)
	_, err := r.UpdateStatus(ctx, "nope", StatusReady, "", "")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo(t)

	o, err := r.Create(ctx, draftC1())
	require.NoError(t, err)

	removed, err := r.Delete(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, removed)
	require.Empty(t, ledgerIDs(t, store, KeyCustomerLedger))
	require.Empty(t, ledgerIDs(t, store, KeyFulfillmentLedger))

	removed, err = r.Delete(ctx, o.ID)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	r, _ := newRepo(t)

	_, err := r.Create(ctx, draftC1())
	require.NoError(t, err)
	require.NoError(t, r.Purge(ctx))

	all, err := r.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestGetAllFilters(t *testing.T) {
	ctx := context.Background()
	r, store := newRepo(t)

	seedLedger(t, store, KeyCustomerLedger,
		map[string]any{
			"id": "A", "customerId": "C1", "status": "Pending",
			"orderDate": "2025-06-01T10:00:00Z", "createdAt": "2025-06-01T10:00:00Z", "updatedAt": "2025-06-01T10:00:00Z",
		},
		map[string]any{
			"id": "B", "customerId": "C1", "status": "Delivered",
			"orderDate": "2025-06-05T10:00:00Z", "createdAt": "2025-06-05T10:00:00Z", "updatedAt": "2025-06-05T10:00:00Z",
		},
		map[string]any{
			"id": "C", "customerId": "C2", "status": "Pending",
			"orderDate": "2025-06-10T10:00:00Z", "createdAt": "2025-06-10T10:00:00Z", "updatedAt": "2025-06-10T10:00:00Z",
		},
	)

	all, err := r.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"C", "B", "A"}, ids(all))

	byStatus, err := r.GetAll(ctx, &Filter{Status: StatusPending})
	require.NoError(t, err)
	require.Equal(t, []string{"C", "A"}, ids(byStatus))

	byCustomer, err := r.GetAll(ctx, &Filter{CustomerID: "C1"})
	require.NoError(t, err)
	require.Equal(t, []string{"B", "A"}, ids(byCustomer))

	byDate, err := r.GetAll(ctx, &Filter{
		From: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, ids(byDate))
}

func ids(list []Order) []string {
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}

func TestTwoInstancesConvergeOverSharedStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	hub := bus.NewLoopback()

	busA := bus.New(store, hub.Endpoint(), "instance-a", nil)
	busB := bus.New(store, hub.Endpoint(), "instance-b", nil)
	busA.Start(ctx)
	busB.Start(ctx)

	repoA := NewRepository(store, busA, nil, "ORD", 1001)
	repoB := NewRepository(store, busB, nil, "ORD", 1001)

	notified := 0
	busB.Subscribe(bus.TopicOrdersUpdated, func(bus.Envelope) { notified++ })

	o, err := repoA.Create(ctx, draftC1())
	require.NoError(t, err)

	// instance B saw the broadcast and its re-read converges on the order
	require.GreaterOrEqual(t, notified, 1)
	got, err := repoB.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.OrderNumber, got.OrderNumber)
}
