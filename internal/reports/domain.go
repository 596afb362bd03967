// Package reports builds the office dashboard and the quote exports.
package reports

import (
	"fmt"
	"time"

	"github.com/flooringops/opsdesk/internal/shared"
)

// Summary is the dashboard read model.
type Summary struct {
	QuotesByStatus    map[string]int `json:"quotes_by_status"`
	JobsByStatus      map[string]int `json:"jobs_by_status"`
	EnquiriesByStatus map[string]int `json:"enquiries_by_status"`
	PipelineValue     float64        `json:"pipeline_value"`
	RevenueCollected  float64        `json:"revenue_collected"`
	Outstanding       float64        `json:"outstanding_balance"`
	LowStockCount     int            `json:"low_stock_count"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// MoneyTotals groups the currency figures on the dashboard.
type MoneyTotals struct {
	PipelineValue    float64
	RevenueCollected float64
	Outstanding      float64
}

// QuoteFilter narrows the quote export.
type QuoteFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
}

// QuoteRow is one line of the quote export.
type QuoteRow struct {
	ID           int64
	Name         string
	CustomerName string
	Status       string
	Subtotal     float64
	Discount     float64
	Tax          float64
	Total        float64
	CreatedAt    time.Time
}

// DocumentLine is a customer-visible quote line.
type DocumentLine struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	Total       float64
}

// QuoteDocument carries everything printed on a quote PDF.
type QuoteDocument struct {
	ID              int64
	Name            string
	Description     string
	CustomerName    string
	CustomerAddress string
	CustomerPhone   string
	Status          string
	ExpiryDate      *time.Time
	Notes           string
	Lines           []DocumentLine
	Subtotal        float64
	Discount        float64
	Tax             float64
	Total           float64
	CreatedAt       time.Time
}

// ErrNotFound is returned when the requested quote does not exist.
var ErrNotFound = fmt.Errorf("reports: %w", shared.ErrNotFound)
