package order

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates the order payment lifecycle. Pending is the only valid
// initial state; paid and failed are terminal except for an explicit admin
// cancellation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Metadata keys recorded from provider callbacks. Callback data is audit
// trail only; it never feeds back into the order total.
const (
	MetaProvider      = "provider"
	MetaIntentID      = "intent_id"
	MetaTxnID         = "txn_id"
	MetaResultCode    = "result_code"
	MetaGatewayAmount = "gateway_amount"
	MetaFailureReason = "failure_reason"
)

// Item is a single ordered line: a product with an optional package duration.
type Item struct {
	ProductID     uuid.UUID `json:"productId"`
	ProductName   string    `json:"productName"`
	PackageMonths int       `json:"packageMonths"`
	Qty           int       `json:"qty"`
	UnitPrice     int64     `json:"unitPrice"`
}

// Order is the financial record correlated against gateway callbacks.
type Order struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"userId"`
	Items     []Item            `json:"items"`
	Total     int64             `json:"total"`
	Status    Status            `json:"status"`
	PaidAt    *time.Time        `json:"paidAt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ItemTotal returns the sum of line item subtotals.
func ItemTotal(items []Item) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitPrice * int64(it.Qty)
	}
	return total
}

// TransitionResult reports the outcome of a conditional status update.
// Applied is false when the order was no longer pending, which is the
// normal no-op path for duplicate or stale callbacks.
type TransitionResult struct {
	Applied bool
	Order   Order
}
