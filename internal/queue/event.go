// Package queue defines message payloads exchanged over the message broker
// together with the publisher used after checkout and the worker that
// consumes them.
package queue

// CheckoutCompletedEvent is published after a checkout transaction commits.
// It carries enough for downstream consumers to log, notify or feed
// analytics without querying the primary database.
type CheckoutCompletedEvent struct {
	Reference     string      `json:"reference"`
	UserID        uint64      `json:"user_id"`
	Email         string      `json:"email,omitempty"`
	OrderID       uint64      `json:"order_id,omitempty"`
	Items         []EventItem `json:"items"`
	SubtotalCents int64       `json:"subtotal_cents"`
	TaxCents      int64       `json:"tax_cents"`
	TotalCents    int64       `json:"total_cents"`
	PaymentMethod string      `json:"payment_method"`
	CompletedAt   string      `json:"completed_at"`
}

// EventItem is one purchased cart line.
type EventItem struct {
	Type           string `json:"type"`
	ID             uint64 `json:"id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}
