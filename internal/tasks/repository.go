package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, t Task) (int64, error)
	Get(ctx context.Context, id int64) (*Task, error)
	ListManual(ctx context.Context, ownerID string, includeCompleted bool) ([]Task, error)
	Update(ctx context.Context, id int64, updates map[string]interface{}) error
	Delete(ctx context.Context, id int64) error
	Snapshot(ctx context.Context, now time.Time) (Snapshot, error)
}

// Repository reads and writes tasks in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const taskColumns = `id, owner_id, title, description, due_date, completed, ref_entity, ref_id, created_at, updated_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var refEntity *string
	var refID *int64
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.DueDate, &t.Completed,
		&refEntity, &refID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if refEntity != nil {
		t.RefEntity = *refEntity
	}
	if refID != nil {
		t.RefID = *refID
	}
	t.Key = fmt.Sprintf("manual:%d", t.ID)
	t.Source = SourceManual
	t.Kind = KindManual
	return t, nil
}

// Insert stores a manual task.
func (r *Repository) Insert(ctx context.Context, t Task) (int64, error) {
	var refEntity *string
	var refID *int64
	if t.RefEntity != "" {
		refEntity, refID = &t.RefEntity, &t.RefID
	}
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (owner_id, title, description, due_date, completed, ref_entity, ref_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, NOW(), NOW())
		RETURNING id`,
		t.OwnerID, t.Title, t.Description, t.DueDate, refEntity, refID,
	).Scan(&id)
	return id, err
}

// Get loads one manual task.
func (r *Repository) Get(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListManual returns the owner's tasks, open ones first.
func (r *Repository) ListManual(ctx context.Context, ownerID string, includeCompleted bool) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1`
	if !includeCompleted {
		query += ` AND completed = FALSE`
	}
	query += ` ORDER BY completed, due_date NULLS LAST, id`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) {
		return scanTask(row)
	})
}

var taskUpdatable = map[string]bool{"title": true, "description": true, "due_date": true, "completed": true}

// Update applies whitelisted column changes.
func (r *Repository) Update(ctx context.Context, id int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if !taskUpdatable[col] {
			return fmt.Errorf("tasks: column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	setClauses := []string{"updated_at = NOW()"}
	args := make([]interface{}, 0, len(cols)+1)
	for i, col := range cols {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, updates[col])
	}
	args = append(args, id)
	tag, err := r.pool.Exec(ctx, fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d", strings.Join(setClauses, ", "), len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a manual task.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Snapshot reads every record that can raise a system task.
func (r *Repository) Snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	var s Snapshot
	var err error

	if s.NewEnquiries, err = collect(ctx, r.pool, `
		SELECT id, name, created_at FROM enquiries WHERE status = 'new' ORDER BY created_at`,
		nil, func(row pgx.CollectableRow) (EnquiryRef, error) {
			var e EnquiryRef
			return e, row.Scan(&e.ID, &e.Name, &e.CreatedAt)
		}); err != nil {
		return s, fmt.Errorf("tasks: enquiries: %w", err)
	}

	quotes, err := collect(ctx, r.pool, `
		SELECT id, COALESCE(name, ''), status, sent_at, expiry_date, total_amount::float8
		FROM quotes WHERE status IN ('sent', 'ready_for_invoicing') ORDER BY id`,
		nil, func(row pgx.CollectableRow) (QuoteRef, error) {
			var q QuoteRef
			return q, row.Scan(&q.ID, &q.Name, &q.Status, &q.SentAt, &q.ExpiryDate, &q.Total)
		})
	if err != nil {
		return s, fmt.Errorf("tasks: quotes: %w", err)
	}
	for _, q := range quotes {
		if q.Status == "sent" {
			s.SentQuotes = append(s.SentQuotes, q)
		} else {
			s.ReadyQuotes = append(s.ReadyQuotes, q)
		}
	}

	jobs, err := collect(ctx, r.pool, `
		SELECT id, title, scheduled_date, assigned_installer_id, acceptance_status, rejection_reason
		FROM jobs WHERE status = 'scheduled' AND acceptance_status IN ('pending', 'rejected')
		ORDER BY scheduled_date NULLS LAST, id`,
		nil, func(row pgx.CollectableRow) (JobRef, error) {
			var j JobRef
			return j, row.Scan(&j.ID, &j.Title, &j.ScheduledDate, &j.AssignedInstallerID, &j.AcceptanceStatus, &j.RejectionReason)
		})
	if err != nil {
		return s, fmt.Errorf("tasks: jobs: %w", err)
	}
	for _, j := range jobs {
		if j.AcceptanceStatus == "rejected" {
			s.RejectedJobs = append(s.RejectedJobs, j)
		} else {
			s.PendingJobs = append(s.PendingJobs, j)
		}
	}

	if s.OverdueInvoices, err = collect(ctx, r.pool, `
		SELECT id, invoice_number, due_date, (total_amount - amount_paid)::float8
		FROM invoices WHERE payment_status <> 'paid' AND due_date < $1 ORDER BY due_date`,
		[]any{now}, func(row pgx.CollectableRow) (InvoiceRef, error) {
			var inv InvoiceRef
			return inv, row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.DueDate, &inv.Balance)
		}); err != nil {
		return s, fmt.Errorf("tasks: invoices: %w", err)
	}

	if s.LowStock, err = collect(ctx, r.pool, `
		SELECT id, name, stock_level::float8, min_stock_level::float8
		FROM inventory_items WHERE stock_level <= min_stock_level ORDER BY name`,
		nil, func(row pgx.CollectableRow) (StockRef, error) {
			var it StockRef
			return it, row.Scan(&it.ID, &it.Name, &it.StockLevel, &it.MinLevel)
		}); err != nil {
		return s, fmt.Errorf("tasks: inventory: %w", err)
	}
	return s, nil
}

func collect[T any](ctx context.Context, pool *pgxpool.Pool, query string, args []any, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}
