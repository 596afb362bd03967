package sales

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const customerColumns = `id, name, email, phone, address, lifecycle_stage, lead_source,
	assigned_owner_id, notes, owner_id, created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.LifecycleStage, &c.LeadSource,
		&c.AssignedOwnerID, &c.Notes, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetCustomer loads a customer by id.
func (r *PGRepository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

// ListCustomers returns customers ordered by newest first plus the unpaged total.
func (r *PGRepository) ListCustomers(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Stage != nil {
		conditions = append(conditions, fmt.Sprintf("lifecycle_stage = $%d", argPos))
		args = append(args, string(*req.Stage))
		argPos++
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d OR phone ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+req.Search+"%")
		argPos++
	}
	where := whereClause(conditions)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM customers "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM customers %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		customerColumns, where, argPos, argPos+1)
	args = append(args, limitOrDefault(req.Limit), req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		customers = append(customers, *c)
	}
	return customers, total, rows.Err()
}

// CreateCustomer inserts a customer and returns its id.
func (r *PGRepository) CreateCustomer(ctx context.Context, c Customer) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (name, email, phone, address, lifecycle_stage, lead_source,
			assigned_owner_id, notes, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		c.Name, c.Email, c.Phone, c.Address, string(c.LifecycleStage), c.LeadSource,
		c.AssignedOwnerID, c.Notes, c.OwnerID,
	).Scan(&id)
	return id, err
}

// UpdateCustomer applies the column updates.
func (r *PGRepository) UpdateCustomer(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.updateRow(ctx, "customers", id, updates)
}

// DeleteCustomer removes the customer row.
func (r *PGRepository) DeleteCustomer(ctx context.Context, id int64) error {
	return r.deleteRow(ctx, `DELETE FROM customers WHERE id = $1`, id)
}

// CountCustomerDependents counts quotes, jobs and invoices that reference the customer.
func (r *PGRepository) CountCustomerDependents(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM quotes WHERE customer_id = $1)
		     + (SELECT COUNT(*) FROM jobs WHERE customer_id = $1)
		     + (SELECT COUNT(*) FROM invoices WHERE customer_id = $1)`, id).Scan(&n)
	return n, err
}
