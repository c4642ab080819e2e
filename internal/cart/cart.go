package cart

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xCapxCode/kirilmazlar-sub001/internal/orders"
	"github.com/xCapxCode/kirilmazlar-sub001/internal/stock"
)

// Cart is the client-local working set of line items. It holds no stock
// itself: every quantity change drives a ledger reservation or release, and
// a failed reservation leaves the cart untouched.
type Cart struct {
	mu     sync.Mutex
	ledger *stock.Ledger
	log    *zap.Logger
	lines  []orders.LineItem
}

func New(ledger *stock.Ledger, log *zap.Logger) *Cart {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cart{ledger: ledger, log: log}
}

// AddItem reserves qty for the product and merges it into an existing line
// or appends a new one.
func (c *Cart) AddItem(ctx context.Context, p orders.Product, qty int) error {
	if qty < 1 {
		return fmt.Errorf("add item %s: invalid quantity %d", p.ID, qty)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.ledger.Reserve(ctx, p.ID, qty); err != nil {
		return err
	}
	if i := c.index(p.ID); i >= 0 {
		c.lines[i].Quantity += qty
		c.lines[i].LineTotal = c.lines[i].UnitPrice * float64(c.lines[i].Quantity)
		return nil
	}
	c.lines = append(c.lines, orders.LineItem{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Unit:      p.Unit,
		Quantity:  qty,
		LineTotal: p.Price * float64(qty),
	})
	return nil
}

// UpdateQuantity moves a line to newQty, reserving the positive delta or
// releasing the negative one. newQty of zero or less removes the line.
func (c *Cart) UpdateQuantity(ctx context.Context, productID string, newQty int) error {
	if newQty <= 0 {
		return c.RemoveItem(ctx, productID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(productID)
	if i < 0 {
		return fmt.Errorf("%w: %s", stock.ErrProductNotFound, productID)
	}
	delta := newQty - c.lines[i].Quantity
	switch {
	case delta > 0:
		if _, err := c.ledger.Reserve(ctx, productID, delta); err != nil {
			return err
		}
	case delta < 0:
		if _, err := c.ledger.Release(ctx, productID, -delta); err != nil {
			return err
		}
	default:
		return nil
	}
	c.lines[i].Quantity = newQty
	c.lines[i].LineTotal = c.lines[i].UnitPrice * float64(newQty)
	return nil
}

// RemoveItem releases the full reserved quantity back to the ledger, then
// drops the line.
func (c *Cart) RemoveItem(ctx context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(productID)
	if i < 0 {
		return fmt.Errorf("%w: %s", stock.ErrProductNotFound, productID)
	}
	if _, err := c.ledger.Release(ctx, productID, c.lines[i].Quantity); err != nil {
		return err
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

// Clear empties the cart. With restoreStock the reserved quantities are
// released first; after a checkout the reservation stays consumed and
// restoreStock is false. The cart is emptied regardless.
func (c *Cart) Clear(ctx context.Context, restoreStock bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if restoreStock {
		for _, ln := range c.lines {
			if _, err := c.ledger.Release(ctx, ln.ProductID, ln.Quantity); err != nil {
				c.log.Warn("release on clear failed",
					zap.String("product", ln.ProductID), zap.Error(err))
			}
		}
	}
	c.lines = nil
}

// Total is a pure projection over the lines.
func (c *Cart) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return orders.ItemsTotal(c.lines)
}

// Items returns a copy of the current lines.
func (c *Cart) Items() []orders.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]orders.LineItem, len(c.lines))
	copy(out, c.lines)
	return out
}

// ProductIDs lists the products currently in the cart, for checkout
// revalidation.
func (c *Cart) ProductIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.lines))
	for _, ln := range c.lines {
		out = append(out, ln.ProductID)
	}
	return out
}

// caller holds c.mu
func (c *Cart) index(productID string) int {
	for i, ln := range c.lines {
		if ln.ProductID == productID {
			return i
		}
	}
	return -1
}
