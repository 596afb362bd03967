package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/flooringops/opsdesk/internal/platform/db"
)

const invoiceColumns = `i.id, i.customer_id, i.quote_id, i.invoice_number, i.total_amount, i.amount_paid,
	i.payment_status, i.invoice_date, i.due_date, i.owner_id, i.created_at, i.updated_at,
	COALESCE(c.name, '') AS customer_name`

const invoiceFrom = `FROM invoices i LEFT JOIN customers c ON c.id = i.customer_id`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv         Invoice
		total, paid pgtype.Numeric
	)
	err := row.Scan(
		&inv.ID, &inv.CustomerID, &inv.QuoteID, &inv.InvoiceNumber, &total, &paid,
		&inv.PaymentStatus, &inv.InvoiceDate, &inv.DueDate, &inv.OwnerID, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.CustomerName,
	)
	if err != nil {
		return nil, notFound(err)
	}
	inv.TotalAmount = numericFloat(total)
	inv.AmountPaid = numericFloat(paid)
	return &inv, nil
}

func (r *PGRepository) loadInvoice(ctx context.Context, query string, id int64) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	payments, err := r.payments(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Payments = payments
	return inv, nil
}

// GetInvoice loads an invoice with its payments.
func (r *PGRepository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return r.loadInvoice(ctx, `SELECT `+invoiceColumns+` `+invoiceFrom+` WHERE i.id = $1`, id)
}

// LockInvoice loads an invoice with its payments and locks the invoice row.
func (r *PGRepository) LockInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return r.loadInvoice(ctx, `SELECT `+invoiceColumns+` `+invoiceFrom+` WHERE i.id = $1 FOR UPDATE OF i`, id)
}

func (r *PGRepository) payments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, invoice_id, amount, paid_at, method, reference, idempotency_key
		FROM payments WHERE invoice_id = $1
		ORDER BY paid_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var (
			p      Payment
			amount pgtype.Numeric
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &amount, &p.PaidAt, &p.Method, &p.Reference, &p.IdempotencyKey); err != nil {
			return nil, err
		}
		p.Amount = numericFloat(amount)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListInvoices returns invoices newest first plus the unpaged total.
func (r *PGRepository) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("i.payment_status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("i.customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	where := whereClause(conditions)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM invoices i "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY i.invoice_date DESC, i.id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, invoiceFrom, where, argPos, argPos+1)
	args = append(args, limitOrDefault(req.Limit), req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, total, rows.Err()
}

// CreateInvoice inserts an invoice and returns its id.
func (r *PGRepository) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO invoices (customer_id, quote_id, invoice_number, total_amount, amount_paid,
			payment_status, invoice_date, due_date, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		inv.CustomerID, inv.QuoteID, inv.InvoiceNumber, inv.TotalAmount, inv.AmountPaid,
		string(inv.PaymentStatus), inv.InvoiceDate, inv.DueDate, inv.OwnerID,
	).Scan(&id)
	return id, err
}

// UpdateInvoice applies the column updates.
func (r *PGRepository) UpdateInvoice(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.updateRow(ctx, "invoices", id, updates)
}

// InsertPayment records a payment. A reused idempotency key fails with ErrDuplicatePayment.
func (r *PGRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO payments (invoice_id, amount, paid_at, method, reference, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.InvoiceID, p.Amount, p.PaidAt, p.Method, p.Reference, p.IdempotencyKey,
	).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, ErrDuplicatePayment
	}
	return id, err
}

// NextInvoiceNumber returns INV-YYYYMM-NNNN, numbering from 1 within each
// month. The per-month counter is bumped in its own statement, so concurrent
// invoicing never hands out the same number. A rolled back invoicing leaves a gap.
func (r *PGRepository) NextInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	conn := r.counters
	if conn == nil {
		conn = r.db
	}
	period := at.Format("200601")
	var n int64
	err := conn.QueryRow(ctx, `
		INSERT INTO invoice_counters (period, last_value) VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET last_value = invoice_counters.last_value + 1
		RETURNING last_value`, period).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("sales: allocate invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%s-%04d", period, n), nil
}

// MarkInvoicesOverdue flags unpaid invoices whose due date has passed.
func (r *PGRepository) MarkInvoicesOverdue(ctx context.Context, asOf time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE invoices SET payment_status = 'overdue', updated_at = NOW()
		WHERE due_date < $1 AND amount_paid < total_amount AND payment_status <> 'overdue'
		RETURNING id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
