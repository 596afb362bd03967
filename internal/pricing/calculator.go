// Package pricing holds the quote arithmetic and the inventory markup rules.
//
// All functions are pure. Amounts travel as float64 at the edges and are
// combined with decimal arithmetic so sums of cents do not drift.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrTotalMismatch is returned when a submitted total disagrees with the recomputed one.
var ErrTotalMismatch = errors.New("pricing: total does not match line items")

// totalTolerance is half a cent.
var totalTolerance = decimal.NewFromFloat(0.005)

// Line is the priced part of a quote or job item.
type Line struct {
	Quantity  float64
	UnitPrice float64
}

// QuoteTotals groups the derived values of a quote.
type QuoteTotals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total_amount"`
}

// sanitize maps negative and non-finite input to zero, mirroring how the
// entry forms coerce blank or garbage fields.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Stored scales: money has cents, quantities have three decimals.
const (
	moneyPlaces    = 2
	quantityPlaces = 3
)

// Money rounds v to cents, half away from zero. Non-finite input is 0.
func Money(v float64) float64 {
	return decimal.NewFromFloat(finite(v)).Round(moneyPlaces).InexactFloat64()
}

// Quantity rounds v to the three decimals a quantity is stored with.
func Quantity(v float64) float64 {
	return decimal.NewFromFloat(finite(v)).Round(quantityPlaces).InexactFloat64()
}

func amount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(sanitize(v)).Round(moneyPlaces)
}

func lineAmount(quantity, unitPrice float64) decimal.Decimal {
	return decimal.NewFromFloat(sanitize(quantity)).Round(quantityPlaces).Mul(amount(unitPrice))
}

// LineTotal returns quantity × unitPrice after rounding each to its stored
// scale, so the result matches what the stored item yields on reload.
func LineTotal(quantity, unitPrice float64) float64 {
	return lineAmount(quantity, unitPrice).InexactFloat64()
}

// QuoteSubtotal sums the line totals of items.
func QuoteSubtotal(items []Line) float64 {
	return subtotal(items).InexactFloat64()
}

func subtotal(items []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(lineAmount(item.Quantity, item.UnitPrice))
	}
	return sum
}

// QuoteTotal returns subtotal - discount + tax. The result is not clamped:
// a discount larger than subtotal+tax yields a negative total.
func QuoteTotal(subtotal, discount, tax float64) float64 {
	return quoteTotal(decimal.NewFromFloat(finite(subtotal)), discount, tax).InexactFloat64()
}

func quoteTotal(subtotal decimal.Decimal, discount, tax float64) decimal.Decimal {
	return subtotal.Sub(amount(discount)).Add(amount(tax))
}

// Totals recomputes every derived value of a quote from its items.
func Totals(items []Line, discount, tax float64) QuoteTotals {
	sub := subtotal(items)
	return QuoteTotals{
		Subtotal: sub.InexactFloat64(),
		Discount: amount(discount).InexactFloat64(),
		Tax:      amount(tax).InexactFloat64(),
		Total:    quoteTotal(sub, discount, tax).InexactFloat64(),
	}
}

// VerifyTotal rejects a client-computed total that differs from the server
// recomputation by more than half a cent.
func VerifyTotal(expected float64, items []Line, discount, tax float64) error {
	actual := quoteTotal(subtotal(items), discount, tax)
	if decimal.NewFromFloat(finite(expected)).Sub(actual).Abs().GreaterThan(totalTolerance) {
		return fmt.Errorf("%w: submitted %.2f, computed %s", ErrTotalMismatch, expected, actual.StringFixed(2))
	}
	return nil
}
