package orders

import "strings"

// Status is the canonical order status vocabulary.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusPreparing Status = "Preparing"
	StatusReady     Status = "Ready"
	StatusShipped   Status = "Shipped"
	StatusDelivered Status = "Delivered"
	StatusCancelled Status = "Cancelled"
)

var displayNames = map[Status]string{
	StatusPending:   "Awaiting",
	StatusConfirmed: "Confirmed",
	StatusPreparing: "Preparing",
	StatusReady:     "Ready",
	StatusShipped:   "Shipped",
	StatusDelivered: "Delivered",
	StatusCancelled: "Cancelled",
}

// Display returns the customer-facing string for s.
func (s Status) Display() string {
	if d, ok := displayNames[s]; ok {
		return d
	}
	return displayNames[StatusPending]
}

// statusAliases maps lowercased raw status strings to canonical values.
// Ledger entries written by older builds carry Turkish display strings, so
// those are accepted alongside the canonical and display vocabularies.
var statusAliases = map[string]Status{
	"pending":   StatusPending,
	"awaiting":  StatusPending,
	"confirmed": StatusConfirmed,
	"preparing": StatusPreparing,
	"ready":     StatusReady,
	"shipped":   StatusShipped,
	"delivered": StatusDelivered,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,

	// legacy vocabulary
	"beklemede":       StatusPending,
	"onaylandı":       StatusConfirmed,
	"onaylandi":       StatusConfirmed,
	"hazırlanıyor":    StatusPreparing,
	"hazirlaniyor":    StatusPreparing,
	"hazır":           StatusReady,
	"hazir":           StatusReady,
	"kargoda":         StatusShipped,
	"kargoya verildi": StatusShipped,
	"teslim edildi":   StatusDelivered,
	"iptal edildi":    StatusCancelled,
	"iptal":           StatusCancelled,
}

// ParseStatus normalizes a raw status string. The mapping is total: unknown
// or missing input defaults to Pending.
func ParseStatus(raw string) Status {
	if s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusPending
}
