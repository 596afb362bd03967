package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort lists the read queries the service needs.
type RepositoryPort interface {
	CountByStatus(ctx context.Context, table string) (map[string]int, error)
	MoneyTotals(ctx context.Context) (MoneyTotals, error)
	LowStockCount(ctx context.Context) (int, error)
	ListQuotes(ctx context.Context, filter QuoteFilter) ([]QuoteRow, error)
	QuoteDocument(ctx context.Context, id int64) (*QuoteDocument, error)
}

// Repository runs report queries against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var statusTables = map[string]string{
	"quotes":    "status",
	"jobs":      "status",
	"enquiries": "status",
}

// CountByStatus groups a table's rows by status.
func (r *Repository) CountByStatus(ctx context.Context, table string) (map[string]int, error) {
	col, ok := statusTables[table]
	if !ok {
		return nil, fmt.Errorf("reports: no status counts for %q", table)
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM %s GROUP BY %s`, col, table, col))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// MoneyTotals sums the pipeline and receivables.
func (r *Repository) MoneyTotals(ctx context.Context) (MoneyTotals, error) {
	var m MoneyTotals
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(total_amount), 0)::float8 FROM quotes WHERE status IN ('sent', 'accepted')),
			(SELECT COALESCE(SUM(amount_paid), 0)::float8 FROM invoices),
			(SELECT COALESCE(SUM(total_amount - amount_paid), 0)::float8 FROM invoices WHERE payment_status <> 'paid')`,
	).Scan(&m.PipelineValue, &m.RevenueCollected, &m.Outstanding)
	return m, err
}

// LowStockCount counts items at or below their reorder level.
func (r *Repository) LowStockCount(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items WHERE stock_level <= min_stock_level`).Scan(&n)
	return n, err
}

// ListQuotes returns quotes for export, newest first.
func (r *Repository) ListQuotes(ctx context.Context, filter QuoteFilter) ([]QuoteRow, error) {
	var conditions []string
	var args []interface{}
	argPos := 1
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("q.status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("q.created_at >= $%d", argPos))
		args = append(args, *filter.From)
		argPos++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("q.created_at < $%d", argPos))
		args = append(args, *filter.To)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT q.id, COALESCE(q.name, ''), COALESCE(c.name, ''), q.status, q.subtotal::float8,
			q.discount::float8, q.tax::float8, q.total_amount::float8, q.created_at
		FROM quotes q LEFT JOIN customers c ON c.id = q.customer_id `+where+`
		ORDER BY q.created_at DESC, q.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuoteRow, error) {
		var q QuoteRow
		err := row.Scan(&q.ID, &q.Name, &q.CustomerName, &q.Status, &q.Subtotal, &q.Discount, &q.Tax, &q.Total, &q.CreatedAt)
		return q, err
	})
}

// QuoteDocument loads a quote with its visible lines.
func (r *Repository) QuoteDocument(ctx context.Context, id int64) (*QuoteDocument, error) {
	var d QuoteDocument
	err := r.pool.QueryRow(ctx, `
		SELECT q.id, COALESCE(q.name, ''), COALESCE(q.description, ''), COALESCE(c.name, ''),
			COALESCE(c.address, ''), COALESCE(c.phone, ''), q.status, q.expiry_date, COALESCE(q.notes, ''),
			q.subtotal::float8, q.discount::float8, q.tax::float8, q.total_amount::float8, q.created_at
		FROM quotes q LEFT JOIN customers c ON c.id = q.customer_id
		WHERE q.id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Description, &d.CustomerName, &d.CustomerAddress, &d.CustomerPhone,
		&d.Status, &d.ExpiryDate, &d.Notes, &d.Subtotal, &d.Discount, &d.Tax, &d.Total, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT description, quantity::float8, unit_price::float8, total::float8
		FROM quote_items WHERE quote_id = $1 AND is_visible
		ORDER BY position, id`, id)
	if err != nil {
		return nil, err
	}
	d.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (DocumentLine, error) {
		var l DocumentLine
		err := row.Scan(&l.Description, &l.Quantity, &l.UnitPrice, &l.Total)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
