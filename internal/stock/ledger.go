package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/bus"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/storage"
)

// LowStockThreshold is the quantity at or below which a low-stock advisory
// is published.
const LowStockThreshold = 10

var ErrProductNotFound = errors.New("product not found")

// InsufficientStockError reports what could not be reserved right now. It is
// always recoverable; no mutation was performed.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Record is the per-product stock counter. IsAvailable is always
// AvailableQuantity > 0.
type Record struct {
	ProductID         string `json:"productId"`
	AvailableQuantity int    `json:"availableQuantity"`
	IsAvailable       bool   `json:"isAvailable"`
}

// Signal is the advisory payload published on stock boundary crossings.
type Signal struct {
	ProductID string `json:"productId"`
	Event     string `json:"event"` // low-stock | stock-depleted
	Available int    `json:"available"`
}

// Ledger owns the per-product counters in the shared store. Operations are
// serialized within one instance; other instances may write the same keys
// concurrently, so two instances can both reserve against a count they each
// read as sufficient. That oversell window is accepted; Revalidate is the
// only mitigation, run before checkout completes.
type Ledger struct {
	mu        sync.Mutex
	store     storage.Store
	bus       *bus.Bus
	log       *zap.Logger
	threshold int
}

func NewLedger(store storage.Store, b *bus.Bus, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, bus: b, log: log, threshold: LowStockThreshold}
}

func recordKey(productID string) string { return "stock:" + productID }

// Put introduces or resets a product's counter.
func (l *Ledger) Put(ctx context.Context, productID string, quantity int) (Record, error) {
	if quantity < 0 {
		quantity = 0
	}
	rec := Record{ProductID: productID, AvailableQuantity: quantity, IsAvailable: quantity > 0}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (l *Ledger) Get(ctx context.Context, productID string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx, productID)
}

// Reserve decrements the counter by qty if and only if enough is available.
// On shortfall it returns InsufficientStockError and performs no mutation.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) (Record, error) {
	if qty <= 0 {
		return Record{}, fmt.Errorf("reserve %s: invalid quantity %d", productID, qty)
	}
	l.mu.Lock()
	rec, err := l.read(ctx, productID)
	if err != nil {
		l.mu.Unlock()
		return Record{}, err
	}
	if rec.AvailableQuantity < qty {
		l.mu.Unlock()
		return Record{}, &InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: rec.AvailableQuantity,
		}
	}
	before := rec.AvailableQuantity
	rec.AvailableQuantity -= qty
	rec.IsAvailable = rec.AvailableQuantity > 0
	if err := l.write(ctx, rec); err != nil {
		l.mu.Unlock()
		return Record{}, err
	}
	l.mu.Unlock()

	// signals go out after the lock so a subscriber may read the ledger
	l.signal(ctx, before, rec)
	return rec, nil
}

// Release returns qty units to the counter. Release only adds; it cannot
// take the counter below zero.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) (Record, error) {
	if qty <= 0 {
		return Record{}, fmt.Errorf("release %s: invalid quantity %d", productID, qty)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.read(ctx, productID)
	if err != nil {
		return Record{}, err
	}
	rec.AvailableQuantity += qty
	rec.IsAvailable = rec.AvailableQuantity > 0
	if err := l.write(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Revalidate re-reads the given products after reservation, before checkout
// completion. It fails when a record went missing or was driven negative by
// a concurrent writer.
func (l *Ledger) Revalidate(ctx context.Context, productIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range productIDs {
		rec, err := l.read(ctx, id)
		if err != nil {
			return err
		}
		if rec.AvailableQuantity < 0 {
			return &InsufficientStockError{
				ProductID: id,
				Requested: 0,
				Available: rec.AvailableQuantity,
			}
		}
	}
	return nil
}

func (l *Ledger) read(ctx context.Context, productID string) (Record, error) {
	b, err := l.store.Get(ctx, recordKey(productID))
	if errors.Is(err, storage.ErrNoKey) {
		return Record{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, &storage.PersistenceError{Op: "decode", Key: recordKey(productID), Err: err}
	}
	if rec.ProductID == "" {
		rec.ProductID = productID
	}
	return rec, nil
}

func (l *Ledger) write(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, recordKey(rec.ProductID), b)
}

// signal publishes the advisory boundary crossings. These are consumed by
// the presentation layer and carry no invariant.
func (l *Ledger) signal(ctx context.Context, before int, rec Record) {
	if l.bus == nil {
		return
	}
	if before > 0 && rec.AvailableQuantity == 0 {
		l.publish(ctx, Signal{ProductID: rec.ProductID, Event: "stock-depleted", Available: 0})
		return
	}
	if before > l.threshold && rec.AvailableQuantity <= l.threshold {
		l.publish(ctx, Signal{ProductID: rec.ProductID, Event: "low-stock", Available: rec.AvailableQuantity})
	}
}

func (l *Ledger) publish(ctx context.Context, sig Signal) {
	if err := l.bus.Publish(ctx, bus.TopicProductsUpdated, sig); err != nil {
		l.log.Warn("stock signal publish failed", zap.String("product", sig.ProductID), zap.Error(err))
	}
}
