package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/bus"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

// The same logical order set is kept in two physically separate ledgers: the
// customer-scoped one and the fulfillment-scoped one. Either may lag the
// other; an order is durable once present in at least one and converges into
// both via UpdateStatus healing and the reconciliation sweep.
const (
	KeyCustomerLedger    = "orders:customer"
	KeyFulfillmentLedger = "orders:fulfillment"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrIsolationViolation is returned instead of leaking another
	// customer's orders. It is never swallowed.
	ErrIsolationViolation = errors.New("customer isolation violation")
)

// MergeStrategy resolves two ledger records carrying the same id.
type MergeStrategy interface {
	Merge(a, b Order) Order
}

// LastUpdatedWins takes the record with the later UpdatedAt wholesale; no
// field-by-field merge is attempted. On an exact timestamp tie the first
// argument wins, which the repository always feeds from the customer ledger.
type LastUpdatedWins struct{}

func (LastUpdatedWins) Merge(a, b Order) Order {
	if b.UpdatedAt.After(a.UpdatedAt) {
		return b
	}
	return a
}

// Filter narrows GetAll results. Zero fields match everything.
type Filter struct {
	CustomerID string
	Status     Status
	From, To   time.Time
}

// Repository is the only writer of the two order ledgers. All reads
// normalize raw records and union them by id before anything else happens.
type Repository struct {
	mu       sync.Mutex
	store    storage.Store
	bus      *bus.Bus
	log      *zap.Logger
	merge    MergeStrategy
	prefix   string
	seqStart int
}

func NewRepository(store storage.Store, b *bus.Bus, log *zap.Logger, prefix string, seqStart int) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repository{
		store:    store,
		bus:      b,
		log:      log,
		merge:    LastUpdatedWins{},
		prefix:   prefix,
		seqStart: seqStart,
	}
}

// Create mints identifiers, normalizes the draft and appends the order to
// both ledgers in one logical operation. When the second ledger write fails
// the order is durable in the first; the error is propagated and the
// single-ledger state is healed later.
func (r *Repository) Create(ctx context.Context, d Draft) (Order, error) {
	if d.CustomerID == "" {
		return Order{}, fmt.Errorf("create order: missing customer id")
	}
	if len(d.Items) == 0 {
		return Order{}, fmt.Errorf("create order: no items")
	}
	items := make([]LineItem, 0, len(d.Items))
	for _, it := range d.Items {
		if it.Quantity < 1 {
			return Order{}, fmt.Errorf("create order: invalid quantity %d for %s", it.Quantity, it.ProductID)
		}
		it.LineTotal = it.UnitPrice * float64(it.Quantity)
		items = append(items, it)
	}

	o, err := r.createLocked(ctx, d, items)
	if o.ID != "" {
		r.notify(ctx)
	}
	return o, err
}

func (r *Repository) createLocked(ctx context.Context, d Draft, items []LineItem) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rawC, err := r.readLedger(ctx, KeyCustomerLedger)
	if err != nil {
		return Order{}, err
	}
	rawF, err := r.readLedger(ctx, KeyFulfillmentLedger)
	if err != nil {
		return Order{}, err
	}

	existing := make(map[string]struct{})
	for _, o := range append(r.decode(rawC), r.decode(rawF)...) {
		existing[o.ID] = struct{}{}
	}

	id, err := NewUniqueID(r.prefix, existing)
	if err != nil {
		return Order{}, err
	}
	now := time.Now().UTC()
	o := Order{
		ID:              id,
		OrderNumber:     NextOrderNumber(r.prefix, r.seqStart, len(existing)),
		CustomerID:      d.CustomerID,
		CustomerName:    d.CustomerName,
		CustomerEmail:   d.CustomerEmail,
		CustomerPhone:   d.CustomerPhone,
		Items:           items,
		Total:           ItemsTotal(items),
		Status:          StatusPending,
		OrderDate:       now,
		DeliveryAddress: d.DeliveryAddress,
		Notes:           d.Notes,
		PaymentMethod:   d.PaymentMethod,
		Source:          d.Source,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	b, err := json.Marshal(o)
	if err != nil {
		return Order{}, fmt.Errorf("encode order: %w", err)
	}

	if err := r.writeLedger(ctx, KeyCustomerLedger, append(rawC, b)); err != nil {
		return Order{}, err
	}
	if err := r.writeLedger(ctx, KeyFulfillmentLedger, append(rawF, b)); err != nil {
		// detectable transient state: the order exists in the customer
		// ledger only until a status update or sweep copies it across
		r.log.Warn("fulfillment ledger write failed after customer write",
			zap.String("order", o.ID), zap.Error(err))
		return o, err
	}
	return o, nil
}

// GetAll reads both ledgers, normalizes every raw record, unions them by id
// and applies the filter. Default sort is newest first.
func (r *Repository) GetAll(ctx context.Context, f *Filter) ([]Order, error) {
	r.mu.Lock()
	merged, err := r.mergedLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(merged))
	for _, o := range merged {
		if matches(o, f) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GetByID returns the merged view of one order.
func (r *Repository) GetByID(ctx context.Context, id string) (Order, error) {
	all, err := r.GetAll(ctx, nil)
	if err != nil {
		return Order{}, err
	}
	for _, o := range all {
		if o.ID == id {
			return o, nil
		}
	}
	return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}

// GetByCustomerID hard-filters post-normalization on exact customer id. A
// record with a missing customer id is never returned for any customer, and
// an empty query id is rejected outright: isolation fails closed.
func (r *Repository) GetByCustomerID(ctx context.Context, customerID string) ([]Order, error) {
	if customerID == "" {
		return nil, ErrIsolationViolation
	}
	all, err := r.GetAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0)
	for _, o := range all {
		if o.CustomerID != "" && o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

// UpdateStatus writes the new status, notes, actor and updatedAt into every
// ledger holding the record. A ledger missing the record receives a copy,
// actively healing a partial create. The merged view is returned.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, notes, actor string) (Order, error) {
	o, err := r.updateStatusLocked(ctx, id, ParseStatus(string(status)), notes, actor)
	if err == nil {
		r.notify(ctx)
	}
	return o, err
}

func (r *Repository) updateStatusLocked(ctx context.Context, id string, status Status, notes, actor string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rawC, err := r.readLedger(ctx, KeyCustomerLedger)
	if err != nil {
		return Order{}, err
	}
	rawF, err := r.readLedger(ctx, KeyFulfillmentLedger)
	if err != nil {
		return Order{}, err
	}

	cOrder, cIdx := r.find(rawC, id)
	fOrder, fIdx := r.find(rawF, id)
	var merged Order
	switch {
	case cIdx >= 0 && fIdx >= 0:
		merged = r.merge.Merge(cOrder, fOrder)
	case cIdx >= 0:
		merged = cOrder
	case fIdx >= 0:
		merged = fOrder
	default:
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	merged.Status = status
	merged.Notes = notes
	merged.UpdatedBy = actor
	merged.UpdatedAt = time.Now().UTC()

	b, err := json.Marshal(merged)
	if err != nil {
		return Order{}, fmt.Errorf("encode order: %w", err)
	}
	rawC = put(rawC, cIdx, b)
	rawF = put(rawF, fIdx, b)

	var werr error
	if err := r.writeLedger(ctx, KeyCustomerLedger, rawC); err != nil {
		werr = err
	}
	if err := r.writeLedger(ctx, KeyFulfillmentLedger, rawF); err != nil && werr == nil {
		werr = err
	}
	return merged, werr
}

// Delete removes the order from both ledgers. It reports true only if at
// least one ledger actually contained it.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := r.deleteLocked(ctx, id)
	if removed {
		r.notify(ctx)
	}
	return removed, err
}

func (r *Repository) deleteLocked(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for _, key := range []string{KeyCustomerLedger, KeyFulfillmentLedger} {
		raw, err := r.readLedger(ctx, key)
		if err != nil {
			return removed, err
		}
		_, idx := r.find(raw, id)
		if idx < 0 {
			continue
		}
		raw = append(raw[:idx], raw[idx+1:]...)
		if err := r.writeLedger(ctx, key, raw); err != nil {
			return removed, err
		}
		removed = true
	}
	return removed, nil
}

// Purge drops both ledgers. Administrative use only.
func (r *Repository) Purge(ctx context.Context) error {
	r.mu.Lock()
	for _, key := range []string{KeyCustomerLedger, KeyFulfillmentLedger} {
		if err := r.store.Remove(ctx, key); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.mu.Unlock()
	r.notify(ctx)
	return nil
}

// Reconcile rewrites both ledgers as the canonical merged union, copying
// records present in only one ledger across and settling conflicts through
// the merge strategy. It returns how many records had to be repaired.
func (r *Repository) Reconcile(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged, err := r.mergedLocked(ctx)
	if err != nil {
		return 0, err
	}
	rawC, err := r.readLedger(ctx, KeyCustomerLedger)
	if err != nil {
		return 0, err
	}
	rawF, err := r.readLedger(ctx, KeyFulfillmentLedger)
	if err != nil {
		return 0, err
	}

	healed := 0
	for id, want := range merged {
		c, cIdx := r.find(rawC, id)
		f, fIdx := r.find(rawF, id)
		if cIdx < 0 || fIdx < 0 ||
			!c.UpdatedAt.Equal(want.UpdatedAt) || !f.UpdatedAt.Equal(want.UpdatedAt) {
			healed++
		}
	}
	if healed == 0 {
		return 0, nil
	}

	union := make([]Order, 0, len(merged))
	for _, o := range merged {
		union = append(union, o)
	}
	sort.Slice(union, func(i, j int) bool {
		if !union[i].CreatedAt.Equal(union[j].CreatedAt) {
			return union[i].CreatedAt.Before(union[j].CreatedAt)
		}
		return union[i].ID < union[j].ID
	})
	raw := make([]json.RawMessage, 0, len(union))
	for _, o := range union {
		b, err := json.Marshal(o)
		if err != nil {
			return 0, fmt.Errorf("encode order: %w", err)
		}
		raw = append(raw, b)
	}
	if err := r.writeLedger(ctx, KeyCustomerLedger, raw); err != nil {
		return 0, err
	}
	if err := r.writeLedger(ctx, KeyFulfillmentLedger, raw); err != nil {
		return 0, err
	}
	return healed, nil
}

// mergedLocked reads both ledgers and produces the normalized union by id.
// Caller holds r.mu.
func (r *Repository) mergedLocked(ctx context.Context) (map[string]Order, error) {
	rawC, err := r.readLedger(ctx, KeyCustomerLedger)
	if err != nil {
		return nil, err
	}
	rawF, err := r.readLedger(ctx, KeyFulfillmentLedger)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]Order)
	for _, o := range r.decode(rawC) {
		merged[o.ID] = o
	}
	for _, o := range r.decode(rawF) {
		if prev, ok := merged[o.ID]; ok {
			merged[o.ID] = r.merge.Merge(prev, o)
		} else {
			merged[o.ID] = o
		}
	}
	return merged, nil
}

func (r *Repository) readLedger(ctx context.Context, key string) ([]json.RawMessage, error) {
	b, err := r.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNoKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []json.RawMessage
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, &storage.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	return list, nil
}

func (r *Repository) writeLedger(ctx context.Context, key string, list []json.RawMessage) error {
	if list == nil {
		list = []json.RawMessage{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", key, err)
	}
	return r.store.Set(ctx, key, b)
}

// decode normalizes raw ledger entries, dropping undecodable ones with a
// warning rather than failing the whole read.
func (r *Repository) decode(raw []json.RawMessage) []Order {
	out := make([]Order, 0, len(raw))
	for _, b := range raw {
		o, err := decodeOrder(b)
		if err != nil {
			r.log.Warn("skipping unreadable ledger entry", zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	return out
}

// find locates id in a raw ledger; idx is -1 when absent.
func (r *Repository) find(raw []json.RawMessage, id string) (Order, int) {
	for i, b := range raw {
		o, err := decodeOrder(b)
		if err != nil {
			continue
		}
		if o.ID == id {
			return o, i
		}
	}
	return Order{}, -1
}

// put replaces the entry at idx, or appends when idx is -1 (the healing
// copy into a ledger that lacked the record).
func put(raw []json.RawMessage, idx int, b json.RawMessage) []json.RawMessage {
	if idx < 0 {
		return append(raw, b)
	}
	raw[idx] = b
	return raw
}

func matches(o Order, f *Filter) bool {
	if f == nil {
		return true
	}
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && o.OrderDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && o.OrderDate.After(f.To) {
		return false
	}
	return true
}

func (r *Repository) notify(ctx context.Context) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, bus.TopicOrdersUpdated, nil); err != nil {
		r.log.Warn("orders-updated publish failed", zap.Error(err))
	}
}
