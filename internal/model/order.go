package model

import "time"

// Order statuses. Checkout only ever creates pending orders; the remaining
// transitions belong to fulfillment.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

// Order mirrors the `orders` table. One order is created per checkout that
// contains at least one product line.
type Order struct {
	ID              uint64
	UserID          uint64
	OrderNumber     string
	SubtotalCents   int64
	TaxCents        int64
	TotalCents      int64
	ShippingAddress string
	Notes           string
	Status          string
	CreatedAt       time.Time
	Lines           []OrderLine
}

// OrderLine mirrors `order_lines`.
type OrderLine struct {
	OrderID        uint64
	ProductID      uint64
	Name           string
	Quantity       int
	UnitPriceCents int64
	SubtotalCents  int64
}

// Enrollment payment states.
const (
	EnrollmentPending = "pending"
	EnrollmentPaid    = "paid"
)

// Enrollment mirrors `enrollments`, unique per (user, course).
type Enrollment struct {
	ID            uint64
	UserID        uint64
	CourseID      uint64
	PaymentStatus string
	CreatedAt     time.Time
}

// PaymentType is the settlement group a payment belongs to.
type PaymentType string

const (
	PaymentOrder   PaymentType = "order"
	PaymentCourse  PaymentType = "course"
	PaymentService PaymentType = "service"
)

// Accepted payment methods.
const (
	MethodCard     = "card"
	MethodPayPal   = "paypal"
	MethodTransfer = "transfer"
	MethodCash     = "cash"
)

// ValidPaymentMethod reports whether m is an accepted payment method.
func ValidPaymentMethod(m string) bool {
	switch m {
	case MethodCard, MethodPayPal, MethodTransfer, MethodCash:
		return true
	}
	return false
}

// Payment mirrors `payments`: one row per settled group at checkout.
type Payment struct {
	ID          uint64
	UserID      uint64
	Type        PaymentType
	ReferenceID uint64 // order id, course id or service id depending on Type
	AmountCents int64
	Method      string
	Status      string
	CreatedAt   time.Time
}

// CheckoutRequest is the idempotency ledger row written inside the checkout
// transaction. Key is "<cart id>:<cart revision>", so a resubmitted form for
// the same cart contents finds the earlier outcome instead of charging twice.
type CheckoutRequest struct {
	Key        string
	UserID     uint64
	Reference  string
	OrderID    *uint64
	TotalCents int64
	CreatedAt  time.Time
}
