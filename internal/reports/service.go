package reports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jung-kurt/gofpdf/v2"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Service assembles dashboards and documents.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService wires a repository with the cache helper. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Dashboard returns the cached summary, computing it once per cache version
// even under concurrent misses.
func (s *Service) Dashboard(ctx context.Context) (Summary, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "dashboard")
	if err != nil {
		s.logger.Warn("dashboard cache key", slog.Any("error", err))
		return s.buildSummary(ctx)
	}
	res := s.group.DoChan(key, func() (interface{}, error) {
		var out Summary
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.buildSummary(ctx)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return Summary{}, r.Err
		}
		return r.Val.(Summary), nil
	}
}

func (s *Service) buildSummary(ctx context.Context) (Summary, error) {
	sum := Summary{GeneratedAt: s.now().UTC()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := s.repo.CountByStatus(ctx, "quotes")
		sum.QuotesByStatus = counts
		return err
	})
	g.Go(func() error {
		counts, err := s.repo.CountByStatus(ctx, "jobs")
		sum.JobsByStatus = counts
		return err
	})
	g.Go(func() error {
		counts, err := s.repo.CountByStatus(ctx, "enquiries")
		sum.EnquiriesByStatus = counts
		return err
	})
	g.Go(func() error {
		m, err := s.repo.MoneyTotals(ctx)
		sum.PipelineValue, sum.RevenueCollected, sum.Outstanding = m.PipelineValue, m.RevenueCollected, m.Outstanding
		return err
	})
	g.Go(func() error {
		n, err := s.repo.LowStockCount(ctx)
		sum.LowStockCount = n
		return err
	})

	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("reports: dashboard: %w", err)
	}
	return sum, nil
}

var quoteHeaders = []string{"ID", "Quote", "Customer", "Status", "Subtotal", "Discount", "Tax", "Total", "Created"}

// QuotesXLSX renders the filtered quote list as a spreadsheet.
func (s *Service) QuotesXLSX(ctx context.Context, filter QuoteFilter) ([]byte, error) {
	rows, err := s.repo.ListQuotes(ctx, filter)
	if err != nil {
		return nil, err
	}

	const sheet = "Quotes"
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(sheet, "A1", &quoteHeaders); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(quoteHeaders), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return nil, err
	}
	for i, q := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{q.ID, q.Name, q.CustomerName, q.Status, q.Subtotal, q.Discount, q.Tax, q.Total, q.CreatedAt.Format("2006-01-02")}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}
	if len(rows) > 0 {
		lastRow := len(rows) + 1
		end, _ := excelize.CoordinatesToCellName(8, lastRow)
		if err := f.SetCellStyle(sheet, "E2", end, moneyStyle); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(sheet, "B", "C", 28); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "D", "I", 14); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	s.logger.Info("quotes exported", slog.Int("rows", len(rows)))
	return buf.Bytes(), nil
}

// QuotePDF renders the customer-facing quote document. Hidden lines are left out.
func (s *Service) QuotePDF(ctx context.Context, id int64) ([]byte, error) {
	doc, err := s.repo.QuoteDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(fmt.Sprintf("Quote #%d", doc.ID), true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	title := doc.Name
	if title == "" {
		title = fmt.Sprintf("Quote #%d", doc.ID)
	}
	pdf.CellFormat(190, 10, tr(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(190, 6, fmt.Sprintf("Quote #%d  |  %s", doc.ID, doc.CreatedAt.Format("02 Jan 2006")), "", 1, "C", false, 0, "")
	if doc.ExpiryDate != nil {
		pdf.CellFormat(190, 6, "Valid until "+doc.ExpiryDate.Format("02 Jan 2006"), "", 1, "C", false, 0, "")
	}
	pdf.Ln(5)

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(190, 8, "Customer", "1", 1, "L", true, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(95, 7, tr(doc.CustomerName), "LB", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, tr(doc.CustomerPhone), "RB", 1, "L", false, 0, "")
	if doc.CustomerAddress != "" {
		pdf.MultiCell(190, 6, tr(doc.CustomerAddress), "LRB", "L", false)
	}
	if doc.Description != "" {
		pdf.Ln(3)
		pdf.MultiCell(190, 6, tr(doc.Description), "", "L", false)
	}
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(200, 200, 200)
	pdf.CellFormat(100, 7, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(25, 7, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(30, 7, "Unit price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 7, "Total", "1", 1, "R", true, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, l := range doc.Lines {
		desc := l.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		pdf.CellFormat(100, 6, tr(desc), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", l.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", l.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", l.Total), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(3)

	totals := []struct {
		label string
		value float64
	}{
		{"Subtotal", doc.Subtotal},
		{"Less discount", doc.Discount},
		{"Tax", doc.Tax},
	}
	for _, t := range totals {
		pdf.CellFormat(155, 6, t.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", t.value), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(155, 8, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, fmt.Sprintf("%.2f", doc.Total), "T", 1, "R", false, 0, "")

	if doc.Notes != "" {
		pdf.Ln(5)
		pdf.SetFont("Arial", "I", 9)
		pdf.MultiCell(190, 5, tr(doc.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("reports: render quote %d: %w", id, err)
	}
	return buf.Bytes(), nil
}
