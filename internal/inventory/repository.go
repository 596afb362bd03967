package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flooringops/opsdesk/internal/platform/db"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItems(ctx context.Context, req ListItemsRequest) ([]Item, int, error)
	DeleteItem(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, name string) (int64, error)
	ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, id int64) (*Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, id int64, updates map[string]interface{}) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	CategoryExists(ctx context.Context, id int64) (bool, error)
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `i.id, i.name, i.sku, i.description, i.category_id, COALESCE(c.name, ''),
	i.cost_price, i.sell_price, i.stock_level, i.min_stock_level, i.owner_id, i.created_at, i.updated_at`

const itemFrom = `FROM inventory_items i LEFT JOIN inventory_categories c ON c.id = i.category_id`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	var cost, sell, stock, minStock pgtype.Numeric
	err := row.Scan(&it.ID, &it.Name, &it.SKU, &it.Description, &it.CategoryID, &it.CategoryName,
		&cost, &sell, &stock, &minStock, &it.OwnerID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	it.CostPrice = numericToFloat(cost)
	it.SellPrice = numericToFloat(sell)
	it.StockLevel = numericToFloat(stock)
	it.MinStockLevel = numericToFloat(minStock)
	it.Markup = it.markupState().Markup
	return &it, nil
}

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, id int64) (*Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` `+itemFrom+` WHERE i.id = $1`, id))
}

// ListItems returns a page of items ordered by name plus the unpaged total.
func (r *Repository) ListItems(ctx context.Context, req ListItemsRequest) ([]Item, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.CategoryID != nil {
		conditions = append(conditions, fmt.Sprintf("i.category_id = $%d", argPos))
		args = append(args, *req.CategoryID)
		argPos++
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(i.name ILIKE $%d OR i.sku ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+req.Search+"%")
		argPos++
	}
	if req.LowStock {
		conditions = append(conditions, "i.stock_level <= i.min_stock_level")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+itemFrom+" "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY i.name, i.id LIMIT $%d OFFSET $%d`, itemColumns, itemFrom, where, argPos, argPos+1)
	args = append(args, limit, req.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *it)
	}
	return items, total, rows.Err()
}

// DeleteItem removes an item. Quote and job lines keep their text and lose the link.
func (r *Repository) DeleteItem(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCategories returns every category by name.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM inventory_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCategory inserts a category.
func (r *Repository) CreateCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO inventory_categories (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, ErrDuplicateCategory
	}
	return id, err
}

// ListMovements returns the newest stock card entries for an item.
func (r *Repository) ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_id, movement_type, qty, balance_qty, note, actor_id, posted_at
		FROM inventory_movements WHERE item_id = $1
		ORDER BY posted_at DESC, id DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var qty, balance pgtype.Numeric
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Type, &qty, &balance, &m.Note, &m.ActorID, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Qty = numericToFloat(qty)
		m.BalanceQty = numericToFloat(balance)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, id int64) (*Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` `+itemFrom+` WHERE i.id = $1 FOR UPDATE OF i`, id))
}

func (r *txRepository) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO inventory_items (name, sku, description, category_id, cost_price, sell_price,
			stock_level, min_stock_level, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`,
		it.Name, it.SKU, it.Description, it.CategoryID, it.CostPrice, it.SellPrice,
		it.StockLevel, it.MinStockLevel, it.OwnerID,
	).Scan(&id)
	return id, err
}

var itemUpdatable = map[string]bool{
	"name": true, "sku": true, "description": true, "category_id": true, "cost_price": true,
	"sell_price": true, "stock_level": true, "min_stock_level": true,
}

func (r *txRepository) UpdateItem(ctx context.Context, id int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for col := range updates {
		if !itemUpdatable[col] {
			return fmt.Errorf("inventory: column %q is not updatable", col)
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
	query := fmt.Sprintf("UPDATE inventory_items SET %s WHERE id = $%d", strings.Join(setClauses, ", "), len(args))
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO inventory_movements (item_id, movement_type, qty, balance_qty, note, actor_id, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		m.ItemID, string(m.Type), m.Qty, m.BalanceQty, m.Note, m.ActorID, m.PostedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepository) CategoryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_categories WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func numericToFloat(n pgtype.Numeric) float64 {
	f, _ := n.Float64Value()
	return f.Float64
}
