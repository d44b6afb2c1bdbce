package model

import "time"

// ItemType identifies which catalog table a cart line points at.
type ItemType string

const (
	ItemProduct ItemType = "product"
	ItemCourse  ItemType = "course"
	ItemService ItemType = "service"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemProduct, ItemCourse, ItemService:
		return true
	}
	return false
}

// SingleUnit reports whether lines of this type are capped at quantity 1.
func (t ItemType) SingleUnit() bool { return t == ItemCourse || t == ItemService }

// CartLine is one entry of a cart. UnitPriceCents is the price snapshot
// taken when the line was added.
type CartLine struct {
	ItemID         uint64   `json:"id"`
	Type           ItemType `json:"type"`
	Name           string   `json:"name"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	Quantity       int      `json:"quantity"`
}

// SubtotalCents is the line price times quantity.
func (l CartLine) SubtotalCents() int64 { return l.UnitPriceCents * int64(l.Quantity) }

// Cart is the per-browser cart. Revision changes on every mutation and is
// used to make checkout idempotent and to clear the cart only when it was
// not modified after checkout started.
type Cart struct {
	ID        string     `json:"id"`
	Lines     []CartLine `json:"lines"`
	Revision  string     `json:"revision"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Find returns the index of the line for (typ, id) or -1.
func (c *Cart) Find(typ ItemType, id uint64) int {
	for i, l := range c.Lines {
		if l.Type == typ && l.ItemID == id {
			return i
		}
	}
	return -1
}

// Count is the number of units in the cart, as shown on the cart badge.
func (c Cart) Count() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// SubtotalCents sums all line subtotals.
func (c Cart) SubtotalCents() int64 {
	var s int64
	for _, l := range c.Lines {
		s += l.SubtotalCents()
	}
	return s
}

// Totals applies the fixed tax rate to the cart subtotal.
func (c Cart) Totals() Totals { return ComputeTotals(c.SubtotalCents()) }
