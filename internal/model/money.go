package model

import "fmt"

// TaxRatePercent is the fixed sales tax applied to every subtotal.
const TaxRatePercent = 16

// Totals is the one representation of subtotal/tax/total used by the cart,
// the checkout page and the persisted order.
type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// ComputeTotals derives tax (rounded half-up to the cent) and total from a
// subtotal expressed in cents.
func ComputeTotals(subtotalCents int64) Totals {
	if subtotalCents < 0 {
		subtotalCents = 0
	}
	tax := (subtotalCents*TaxRatePercent + 50) / 100
	return Totals{
		SubtotalCents: subtotalCents,
		TaxCents:      tax,
		TotalCents:    subtotalCents + tax,
	}
}

// FormatCents renders cents as a decimal amount with two places ("46.40").
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
