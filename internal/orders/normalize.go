package orders

import (
	"encoding/json"
	"fmt"
	"time"
)

// Raw ledger entries are heterogeneous: older builds wrote snake_case field
// names and localized status strings. decodeOrder tolerates the known
// variants and produces a canonical Order; writing always emits the
// canonical shape.

type rawLineItem struct {
	ProductID  string  `json:"productId"`
	ProductID2 string  `json:"product_id"`
	Name       string  `json:"name"`
	UnitPrice  float64 `json:"unitPrice"`
	UnitPrice2 float64 `json:"unit_price"`
	Price      float64 `json:"price"`
	Unit       string  `json:"unit"`
	Quantity   int     `json:"quantity"`
	Qty        int     `json:"qty"`
	LineTotal  float64 `json:"lineTotal"`
	LineTotal2 float64 `json:"line_total"`
	Total      float64 `json:"total"`
}

type rawOrder struct {
	ID           string `json:"id"`
	OrderNumber  string `json:"orderNumber"`
	OrderNumber2 string `json:"order_no"`
	OrderNumber3 string `json:"order_number"`

	CustomerID     string `json:"customerId"`
	CustomerID2    string `json:"customer_id"`
	CustomerName   string `json:"customerName"`
	CustomerName2  string `json:"customer_name"`
	CustomerEmail  string `json:"customerEmail"`
	CustomerEmail2 string `json:"customer_email"`
	CustomerPhone  string `json:"customerPhone"`
	CustomerPhone2 string `json:"customer_phone"`

	Items []rawLineItem `json:"items"`

	Total       float64 `json:"total"`
	TotalAmount float64 `json:"totalAmount"`
	Total2      float64 `json:"total_amount"`

	Status string `json:"status"`

	OrderDate  string `json:"orderDate"`
	OrderDate2 string `json:"order_date"`
	Date       string `json:"date"`

	DeliveryAddress  string `json:"deliveryAddress"`
	DeliveryAddress2 string `json:"delivery_address"`
	Notes            string `json:"notes"`
	PaymentMethod    string `json:"paymentMethod"`
	PaymentMethod2   string `json:"payment_method"`
	Source           string `json:"source"`
	UpdatedBy        string `json:"updatedBy"`
	UpdatedBy2       string `json:"updated_by"`

	CreatedAt  string `json:"createdAt"`
	CreatedAt2 string `json:"created_at"`
	UpdatedAt  string `json:"updatedAt"`
	UpdatedAt2 string `json:"updated_at"`
}

func decodeOrder(b []byte) (Order, error) {
	var r rawOrder
	if err := json.Unmarshal(b, &r); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	if r.ID == "" {
		return Order{}, fmt.Errorf("decode order: missing id")
	}

	items := make([]LineItem, 0, len(r.Items))
	for _, ri := range r.Items {
		it := LineItem{
			ProductID: first(ri.ProductID, ri.ProductID2),
			Name:      ri.Name,
			UnitPrice: firstF(ri.UnitPrice, ri.UnitPrice2, ri.Price),
			Unit:      ri.Unit,
			Quantity:  firstI(ri.Quantity, ri.Qty),
			LineTotal: firstF(ri.LineTotal, ri.LineTotal2, ri.Total),
		}
		if it.LineTotal == 0 && it.Quantity > 0 {
			it.LineTotal = it.UnitPrice * float64(it.Quantity)
		}
		items = append(items, it)
	}

	createdAt := parseTime(first(r.CreatedAt, r.CreatedAt2))
	orderDate := parseTime(first(r.OrderDate, r.OrderDate2, r.Date))
	if orderDate.IsZero() {
		orderDate = createdAt
	}
	updatedAt := parseTime(first(r.UpdatedAt, r.UpdatedAt2))
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	total := firstF(r.Total, r.TotalAmount, r.Total2)
	if total == 0 {
		total = ItemsTotal(items)
	}

	return Order{
		ID:              r.ID,
		OrderNumber:     first(r.OrderNumber, r.OrderNumber2, r.OrderNumber3),
		CustomerID:      first(r.CustomerID, r.CustomerID2),
		CustomerName:    first(r.CustomerName, r.CustomerName2),
		CustomerEmail:   first(r.CustomerEmail, r.CustomerEmail2),
		CustomerPhone:   first(r.CustomerPhone, r.CustomerPhone2),
		Items:           items,
		Total:           total,
		Status:          ParseStatus(r.Status),
		OrderDate:       orderDate,
		DeliveryAddress: first(r.DeliveryAddress, r.DeliveryAddress2),
		Notes:           r.Notes,
		PaymentMethod:   first(r.PaymentMethod, r.PaymentMethod2),
		Source:          r.Source,
		UpdatedBy:       first(r.UpdatedBy, r.UpdatedBy2),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstF(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstI(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
