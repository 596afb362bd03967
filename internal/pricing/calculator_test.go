package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineTotal(t *testing.T) {
	tests := []struct {
		name      string
		quantity  float64
		unitPrice float64
		want      float64
	}{
		{"simple", 2, 50, 100},
		{"fractional", 1.5, 19.99, 29.985},
		{"negative quantity", -3, 10, 0},
		{"negative price", 3, -10, 0},
		{"nan", math.NaN(), 10, 0},
		{"inf", 2, math.Inf(1), 0},
		{"zero", 0, 99, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, LineTotal(tt.quantity, tt.unitPrice), 1e-9)
		})
	}
}

func TestQuoteSubtotalMatchesSumOfLines(t *testing.T) {
	sets := [][]Line{
		nil,
		{{Quantity: 2, UnitPrice: 50}, {Quantity: 1, UnitPrice: 30}},
		{{Quantity: 0.1, UnitPrice: 0.2}, {Quantity: 3, UnitPrice: 0.1}, {Quantity: 7, UnitPrice: 12.34}},
		{{Quantity: 12, UnitPrice: 41.5}, {Quantity: 1, UnitPrice: 0}},
	}
	for _, items := range sets {
		var want float64
		for _, item := range items {
			want += item.Quantity * item.UnitPrice
		}
		assert.InDelta(t, want, QuoteSubtotal(items), 1e-9)
	}
	assert.Equal(t, 130.0, QuoteSubtotal(sets[1]))
}

func TestQuoteTotal(t *testing.T) {
	assert.Equal(t, 85.0, QuoteTotal(100, 20, 5))
	// No clamping: a discount larger than the subtotal gives a negative total.
	assert.Equal(t, -50.0, QuoteTotal(50, 100, 0))
	assert.Equal(t, 100.0, QuoteTotal(100, math.NaN(), 0))
}

func TestTotals(t *testing.T) {
	items := []Line{{Quantity: 2, UnitPrice: 50}, {Quantity: 1, UnitPrice: 30}}
	totals := Totals(items, 10, 0)
	assert.Equal(t, 130.0, totals.Subtotal)
	assert.Equal(t, 120.0, totals.Total)
	assert.Equal(t, 10.0, totals.Discount)
}

func TestVerifyTotal(t *testing.T) {
	items := []Line{{Quantity: 2, UnitPrice: 50}, {Quantity: 1, UnitPrice: 30}}
	require.NoError(t, VerifyTotal(120, items, 10, 0))
	require.NoError(t, VerifyTotal(120.004, items, 10, 0))

	err := VerifyTotal(125, items, 10, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTotalMismatch)
}

func TestSubCentInputsUseStoredScale(t *testing.T) {
	items := []Line{{Quantity: 1, UnitPrice: 0.005}, {Quantity: 1, UnitPrice: 0.005}}
	// Each price is stored as 0.01, so the subtotal must agree with the reloaded items.
	assert.Equal(t, 0.02, QuoteSubtotal(items))
	assert.Equal(t, 0.01, LineTotal(1, 0.005))
	assert.Equal(t, 2.47, LineTotal(1.2345, 2))

	totals := Totals(items, 0.004, 0.006)
	assert.Equal(t, 0.0, totals.Discount)
	assert.Equal(t, 0.01, totals.Tax)
	assert.Equal(t, 0.03, totals.Total)
}

func TestMoneyAndQuantity(t *testing.T) {
	assert.Equal(t, 0.0, Money(0.004))
	assert.Equal(t, 0.01, Money(0.005))
	assert.Equal(t, 19.99, Money(19.994))
	assert.Equal(t, 0.0, Money(math.NaN()))
	assert.Equal(t, 1.235, Quantity(1.2345))
}
