package orders

import "time"

// Product is the catalog view the cart works from. Stock lives in the stock
// ledger, never here.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Unit  string  `json:"unit"`
}

// LineItem is one cart or order line. LineTotal is always
// UnitPrice * Quantity and Quantity is at least 1; a zero quantity means the
// line is removed, not kept at zero.
type LineItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unitPrice"`
	Unit      string  `json:"unit"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"lineTotal"`
}

// Order is the canonical order record. Raw ledger entries may carry legacy
// field names; they are normalized into this shape at the storage boundary.
type Order struct {
	ID              string     `json:"id"`
	OrderNumber     string     `json:"orderNumber"`
	CustomerID      string     `json:"customerId"`
	CustomerName    string     `json:"customerName"`
	CustomerEmail   string     `json:"customerEmail"`
	CustomerPhone   string     `json:"customerPhone"`
	Items           []LineItem `json:"items"`
	Total           float64    `json:"total"`
	Status          Status     `json:"status"`
	OrderDate       time.Time  `json:"orderDate"`
	DeliveryAddress string     `json:"deliveryAddress"`
	Notes           string     `json:"notes"`
	PaymentMethod   string     `json:"paymentMethod"`
	Source          string     `json:"source"`
	UpdatedBy       string     `json:"updatedBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Draft is the input to Repository.Create; identifier, status and
// timestamps are filled in by the repository.
type Draft struct {
	CustomerID      string     `json:"customerId"`
	CustomerName    string     `json:"customerName"`
	CustomerEmail   string     `json:"customerEmail"`
	CustomerPhone   string     `json:"customerPhone"`
	Items           []LineItem `json:"items"`
	DeliveryAddress string     `json:"deliveryAddress"`
	Notes           string     `json:"notes"`
	PaymentMethod   string     `json:"paymentMethod"`
	Source          string     `json:"source"`
}

// ItemsTotal sums line totals. Order.Total is always this projection, never
// stored independently of the items.
func ItemsTotal(items []LineItem) float64 {
	var sum float64
	for _, it := range items {
		sum += it.LineTotal
	}
	return sum
}
