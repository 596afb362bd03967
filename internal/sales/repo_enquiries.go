package sales

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const enquiryColumns = `id, name, email, phone, address, enquiry_type, source, description, status,
	converted_to_customer_id, converted_to_quote_id, owner_id, created_at, updated_at`

func scanEnquiry(row pgx.Row) (*Enquiry, error) {
	var e Enquiry
	err := row.Scan(
		&e.ID, &e.Name, &e.Email, &e.Phone, &e.Address, &e.EnquiryType, &e.Source, &e.Description,
		&e.Status, &e.ConvertedToCustomerID, &e.ConvertedToQuoteID, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// GetEnquiry loads an enquiry by id.
func (r *PGRepository) GetEnquiry(ctx context.Context, id int64) (*Enquiry, error) {
	return scanEnquiry(r.db.QueryRow(ctx, `SELECT `+enquiryColumns+` FROM enquiries WHERE id = $1`, id))
}

// LockEnquiry loads an enquiry and holds a row lock until the transaction ends.
func (r *PGRepository) LockEnquiry(ctx context.Context, id int64) (*Enquiry, error) {
	return scanEnquiry(r.db.QueryRow(ctx, `SELECT `+enquiryColumns+` FROM enquiries WHERE id = $1 FOR UPDATE`, id))
}

// ListEnquiries returns enquiries ordered by newest first plus the unpaged total.
func (r *PGRepository) ListEnquiries(ctx context.Context, req ListEnquiriesRequest) ([]Enquiry, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	where := whereClause(conditions)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM enquiries "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM enquiries %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		enquiryColumns, where, argPos, argPos+1)
	args = append(args, limitOrDefault(req.Limit), req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var enquiries []Enquiry
	for rows.Next() {
		e, err := scanEnquiry(rows)
		if err != nil {
			return nil, 0, err
		}
		enquiries = append(enquiries, *e)
	}
	return enquiries, total, rows.Err()
}

// CreateEnquiry inserts an enquiry and returns its id.
func (r *PGRepository) CreateEnquiry(ctx context.Context, e Enquiry) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO enquiries (name, email, phone, address, enquiry_type, source, description,
			status, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		e.Name, e.Email, e.Phone, e.Address, e.EnquiryType, e.Source, e.Description,
		string(e.Status), e.OwnerID,
	).Scan(&id)
	return id, err
}

// UpdateEnquiry applies the column updates.
func (r *PGRepository) UpdateEnquiry(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.updateRow(ctx, "enquiries", id, updates)
}

// DeleteEnquiry removes the enquiry row.
func (r *PGRepository) DeleteEnquiry(ctx context.Context, id int64) error {
	return r.deleteRow(ctx, `DELETE FROM enquiries WHERE id = $1`, id)
}
