package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flooringops/opsdesk/internal/platform/db"
	"github.com/flooringops/opsdesk/internal/shared"
)

// Repository is the persistence port used by Service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	ListCustomers(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error)
	CreateCustomer(ctx context.Context, c Customer) (int64, error)
	UpdateCustomer(ctx context.Context, id int64, updates map[string]interface{}) error
	DeleteCustomer(ctx context.Context, id int64) error
	CountCustomerDependents(ctx context.Context, id int64) (int, error)

	GetEnquiry(ctx context.Context, id int64) (*Enquiry, error)
	LockEnquiry(ctx context.Context, id int64) (*Enquiry, error)
	ListEnquiries(ctx context.Context, req ListEnquiriesRequest) ([]Enquiry, int, error)
	CreateEnquiry(ctx context.Context, e Enquiry) (int64, error)
	UpdateEnquiry(ctx context.Context, id int64, updates map[string]interface{}) error
	DeleteEnquiry(ctx context.Context, id int64) error

	GetQuote(ctx context.Context, id int64) (*Quote, error)
	LockQuote(ctx context.Context, id int64) (*Quote, error)
	ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error)
	CreateQuote(ctx context.Context, q Quote) (int64, error)
	UpdateQuote(ctx context.Context, id int64, updates map[string]interface{}) error
	DeleteQuote(ctx context.Context, id int64) error
	InsertQuoteItem(ctx context.Context, item QuoteItem) (int64, error)
	UpdateQuoteItem(ctx context.Context, item QuoteItem) error
	DeleteQuoteItem(ctx context.Context, quoteID, itemID int64) error
	DeleteQuoteItems(ctx context.Context, quoteID int64) error

	GetJob(ctx context.Context, id int64) (*Job, error)
	LockJob(ctx context.Context, id int64) (*Job, error)
	ListJobs(ctx context.Context, req ListJobsRequest) ([]Job, int, error)
	CreateJob(ctx context.Context, j Job) (int64, error)
	UpdateJob(ctx context.Context, id int64, updates map[string]interface{}) error
	InsertJobItem(ctx context.Context, item JobItem) (int64, error)

	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	LockInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error)
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoice(ctx context.Context, id int64, updates map[string]interface{}) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	NextInvoiceNumber(ctx context.Context, at time.Time) (string, error)
	MarkInvoicesOverdue(ctx context.Context, asOf time.Time) ([]int64, error)
}

// PGRepository provides PostgreSQL backed persistence for sales records.
type PGRepository struct {
	pool *pgxpool.Pool
	db   db.DBTX
	// counters runs outside any transaction so number allocation never
	// waits on, or rolls back with, the caller's transaction.
	counters db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, db: pool, counters: pool}
}

// WithTx wraps fn in a repeatable-read transaction. Calls made through the
// Repository passed to fn share the transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx, counters: r.counters})
	})
}

// updateColumns whitelists the columns each table accepts through the update maps.
var updateColumns = map[string]map[string]bool{
	"customers": {
		"name": true, "email": true, "phone": true, "address": true, "lifecycle_stage": true,
		"lead_source": true, "assigned_owner_id": true, "notes": true,
	},
	"enquiries": {
		"name": true, "email": true, "phone": true, "address": true, "enquiry_type": true,
		"source": true, "description": true, "status": true,
		"converted_to_customer_id": true, "converted_to_quote_id": true,
	},
	"quotes": {
		"name": true, "description": true, "subtotal": true, "discount": true, "tax": true,
		"total_amount": true, "status": true, "expiry_date": true, "notes": true, "job_id": true,
		"invoice_id": true, "sent_at": true, "accepted_at": true, "rejected_at": true, "invoiced_at": true,
	},
	"jobs": {
		"title": true, "scheduled_date": true, "scheduled_time": true, "status": true,
		"acceptance_status": true, "progress_percentage": true, "notes": true, "progress_notes": true,
		"completion_notes": true, "hours_worked": true, "completion_date": true, "photo_refs": true,
		"assigned_installer_id": true, "rejection_reason": true,
	},
	"invoices": {
		"amount_paid": true, "payment_status": true, "due_date": true,
	},
}

// updateRow issues "UPDATE table SET updated_at = NOW(), col = $n ... WHERE id = $m".
func (r *PGRepository) updateRow(ctx context.Context, table string, id int64, updates map[string]interface{}) error {
	allowed := updateColumns[table]
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if !allowed[col] {
			return fmt.Errorf("sales: column %s.%s is not updatable", table, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	query := "UPDATE " + table + " SET updated_at = NOW()"
	args := make([]interface{}, 0, len(cols)+1)
	argPos := 1
	for _, col := range cols {
		query += fmt.Sprintf(", %s = $%d", col, argPos)
		args = append(args, updates[col])
		argPos++
	}
	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("sales: %s %d references a missing record: %w", table, id, shared.ErrValidation)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) deleteRow(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if db.IsForeignKeyViolation(err) {
		return ErrHasDependents
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conditions, " AND ")
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func numericFloat(n pgtype.Numeric) float64 {
	if !n.Valid {
		return 0
	}
	f, _ := n.Float64Value()
	return f.Float64
}

func numericPtr(n pgtype.Numeric) *float64 {
	if !n.Valid {
		return nil
	}
	f := numericFloat(n)
	return &f
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
