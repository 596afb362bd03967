package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMarkupMismatch is returned when a sell price disagrees with cost and markup.
var ErrMarkupMismatch = errors.New("pricing: sell price does not match cost and markup")

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.NewFromFloat(0.5)
)

// Field names one of the three mutually derived inventory price fields.
type Field string

const (
	FieldCost   Field = "cost_price"
	FieldMarkup Field = "markup"
	FieldSell   Field = "sell_price"
)

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	switch f {
	case FieldCost, FieldMarkup, FieldSell:
		return true
	}
	return false
}

// MarkupState is the cost/markup/sell triple shown on the item form.
type MarkupState struct {
	CostPrice float64 `json:"cost_price"`
	Markup    float64 `json:"markup"`
	SellPrice float64 `json:"sell_price"`
}

// MarkupSellPrice returns cost × (1 + markup/100) rounded to 2 decimal places.
func MarkupSellPrice(cost, markupPercent float64) float64 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(finite(markupPercent)).Div(hundred))
	return decimal.NewFromFloat(sanitize(cost)).Mul(factor).Round(2).InexactFloat64()
}

// MarkupFromPrices returns the whole-number markup percentage between cost
// and sell. ok is false when cost is zero; callers keep their prior markup.
// Halves round up, so -2.5 becomes -2.
func MarkupFromPrices(cost, sell float64) (markup float64, ok bool) {
	c := decimal.NewFromFloat(sanitize(cost))
	if c.IsZero() {
		return 0, false
	}
	pct := decimal.NewFromFloat(finite(sell)).Sub(c).Div(c).Mul(hundred)
	return pct.Add(half).Floor().InexactFloat64(), true
}

// ApplyEdit runs the single derivation triggered by editing field to value.
// The edited field is authoritative and exactly one other field is recomputed.
func ApplyEdit(state MarkupState, field Field, value float64) MarkupState {
	switch field {
	case FieldCost:
		state.CostPrice = sanitize(value)
		state.SellPrice = MarkupSellPrice(state.CostPrice, state.Markup)
	case FieldMarkup:
		state.Markup = finite(value)
		state.SellPrice = MarkupSellPrice(state.CostPrice, state.Markup)
	case FieldSell:
		state.SellPrice = sanitize(value)
		if markup, ok := MarkupFromPrices(state.CostPrice, state.SellPrice); ok {
			state.Markup = markup
		}
	}
	return state
}

// DeriveMarkup returns the display markup for a stored cost/sell pair.
func DeriveMarkup(cost, sell float64) float64 {
	markup, _ := MarkupFromPrices(cost, sell)
	return markup
}

// VerifyMarkup checks that sell agrees with cost and markup. Markup is shown
// as a whole number, so a pair also agrees when the whole-number markup
// between cost and sell equals the submitted one.
func VerifyMarkup(state MarkupState) error {
	want := MarkupSellPrice(state.CostPrice, state.Markup)
	if !decimal.NewFromFloat(want).Sub(decimal.NewFromFloat(finite(state.SellPrice))).Abs().GreaterThan(totalTolerance) {
		return nil
	}
	if derived, ok := MarkupFromPrices(state.CostPrice, state.SellPrice); ok && derived == finite(state.Markup) {
		return nil
	}
	return fmt.Errorf("%w: sell %.2f, expected %.2f", ErrMarkupMismatch, state.SellPrice, want)
}
