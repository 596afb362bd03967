package sales

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const quoteColumns = `q.id, q.customer_id, q.enquiry_id, q.name, q.description, q.subtotal, q.discount,
	q.tax, q.total_amount, q.status, q.expiry_date, q.notes, q.job_id, q.invoice_id, q.sent_at,
	q.accepted_at, q.rejected_at, q.invoiced_at, q.owner_id, q.created_at, q.updated_at,
	COALESCE(c.name, '') AS customer_name`

const quoteFrom = `FROM quotes q LEFT JOIN customers c ON c.id = q.customer_id`

func scanQuote(row pgx.Row) (*Quote, error) {
	var (
		q                              Quote
		subtotal, discount, tax, total pgtype.Numeric
	)
	err := row.Scan(
		&q.ID, &q.CustomerID, &q.EnquiryID, &q.Name, &q.Description, &subtotal, &discount,
		&tax, &total, &q.Status, &q.ExpiryDate, &q.Notes, &q.JobID, &q.InvoiceID, &q.SentAt,
		&q.AcceptedAt, &q.RejectedAt, &q.InvoicedAt, &q.OwnerID, &q.CreatedAt, &q.UpdatedAt,
		&q.CustomerName,
	)
	if err != nil {
		return nil, notFound(err)
	}
	q.Subtotal = numericFloat(subtotal)
	q.Discount = numericFloat(discount)
	q.Tax = numericFloat(tax)
	q.TotalAmount = numericFloat(total)
	return &q, nil
}

func (r *PGRepository) loadQuote(ctx context.Context, query string, id int64) (*Quote, error) {
	q, err := scanQuote(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	items, err := r.quoteItems(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Items = items
	return q, nil
}

// GetQuote loads a quote with its items in position order.
func (r *PGRepository) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	return r.loadQuote(ctx, `SELECT `+quoteColumns+` `+quoteFrom+` WHERE q.id = $1`, id)
}

// LockQuote loads a quote with its items and locks the quote row.
func (r *PGRepository) LockQuote(ctx context.Context, id int64) (*Quote, error) {
	return r.loadQuote(ctx, `SELECT `+quoteColumns+` `+quoteFrom+` WHERE q.id = $1 FOR UPDATE OF q`, id)
}

func (r *PGRepository) quoteItems(ctx context.Context, quoteID int64) ([]QuoteItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quote_id, inventory_item_id, description, quantity, unit_price, total,
		       is_visible, is_custom, position
		FROM quote_items WHERE quote_id = $1
		ORDER BY position, id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []QuoteItem{}
	for rows.Next() {
		var (
			it                     QuoteItem
			quantity, price, total pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.InventoryItemID, &it.Description, &quantity,
			&price, &total, &it.IsVisible, &it.IsCustom, &it.Position); err != nil {
			return nil, err
		}
		it.Quantity = numericFloat(quantity)
		it.UnitPrice = numericFloat(price)
		it.Total = numericFloat(total)
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListQuotes returns quote headers (without items) plus the unpaged total.
func (r *PGRepository) ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("q.customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("q.status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	where := whereClause(conditions)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM quotes q "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY q.created_at DESC, q.id DESC LIMIT $%d OFFSET $%d`,
		quoteColumns, quoteFrom, where, argPos, argPos+1)
	args = append(args, limitOrDefault(req.Limit), req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, total, rows.Err()
}

// CreateQuote inserts the quote header and returns its id. Items are inserted separately.
func (r *PGRepository) CreateQuote(ctx context.Context, q Quote) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotes (customer_id, enquiry_id, name, description, subtotal, discount, tax,
			total_amount, status, expiry_date, notes, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id`,
		q.CustomerID, q.EnquiryID, q.Name, q.Description, q.Subtotal, q.Discount, q.Tax,
		q.TotalAmount, string(q.Status), q.ExpiryDate, q.Notes, q.OwnerID,
	).Scan(&id)
	return id, err
}

// UpdateQuote applies the column updates.
func (r *PGRepository) UpdateQuote(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.updateRow(ctx, "quotes", id, updates)
}

// DeleteQuote removes a quote and its items.
func (r *PGRepository) DeleteQuote(ctx context.Context, id int64) error {
	if err := r.DeleteQuoteItems(ctx, id); err != nil {
		return err
	}
	return r.deleteRow(ctx, `DELETE FROM quotes WHERE id = $1`, id)
}

// InsertQuoteItem inserts one line and returns its id.
func (r *PGRepository) InsertQuoteItem(ctx context.Context, item QuoteItem) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quote_items (quote_id, inventory_item_id, description, quantity, unit_price,
			total, is_visible, is_custom, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		item.QuoteID, item.InventoryItemID, item.Description, item.Quantity, item.UnitPrice,
		item.Total, item.IsVisible, item.IsCustom, item.Position,
	).Scan(&id)
	return id, err
}

// UpdateQuoteItem overwrites the editable fields of one line.
func (r *PGRepository) UpdateQuoteItem(ctx context.Context, item QuoteItem) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quote_items
		SET description = $1, quantity = $2, unit_price = $3, total = $4, is_visible = $5
		WHERE id = $6 AND quote_id = $7`,
		item.Description, item.Quantity, item.UnitPrice, item.Total, item.IsVisible, item.ID, item.QuoteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteQuoteItem removes one line from a quote.
func (r *PGRepository) DeleteQuoteItem(ctx context.Context, quoteID, itemID int64) error {
	return r.deleteRow(ctx, `DELETE FROM quote_items WHERE id = $1 AND quote_id = $2`, itemID, quoteID)
}

// DeleteQuoteItems removes every line from a quote.
func (r *PGRepository) DeleteQuoteItems(ctx context.Context, quoteID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quote_items WHERE quote_id = $1`, quoteID)
	return err
}
