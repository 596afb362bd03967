package inventory

import (
	"fmt"
	"time"

	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents stock received.
	MovementIn MovementType = "IN"
	// MovementOut represents stock used or sold.
	MovementOut MovementType = "OUT"
	// MovementAdjust indicates a signed manual correction.
	MovementAdjust MovementType = "ADJUST"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjust:
		return true
	}
	return false
}

// Item is a catalog entry with its stock level. Markup is derived from cost
// and sell on read and never stored.
type Item struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	SKU           *string   `json:"sku,omitempty"`
	Description   *string   `json:"description,omitempty"`
	CategoryID    *int64    `json:"category_id,omitempty"`
	CategoryName  string    `json:"category_name,omitempty"`
	CostPrice     float64   `json:"cost_price"`
	SellPrice     float64   `json:"sell_price"`
	Markup        float64   `json:"markup"`
	StockLevel    float64   `json:"stock_level"`
	MinStockLevel float64   `json:"min_stock_level"`
	OwnerID       string    `json:"owner_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LowStock reports whether the item is at or below its reorder level.
func (i Item) LowStock() bool {
	return i.StockLevel <= i.MinStockLevel
}

func (i Item) markupState() pricing.MarkupState {
	return pricing.MarkupState{CostPrice: i.CostPrice, Markup: pricing.DeriveMarkup(i.CostPrice, i.SellPrice), SellPrice: i.SellPrice}
}

// Category groups catalog items.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Movement is one stock card entry.
type Movement struct {
	ID         int64        `json:"id"`
	ItemID     int64        `json:"item_id"`
	Type       MovementType `json:"type"`
	Qty        float64      `json:"qty"`
	BalanceQty float64      `json:"balance_qty"`
	Note       string       `json:"note,omitempty"`
	ActorID    string       `json:"actor_id"`
	PostedAt   time.Time    `json:"posted_at"`
}

// PriceInput carries the three price fields as the item form holds them. Edited
// names the field the user changed; it drives the single derivation.
type PriceInput struct {
	CostPrice *float64      `json:"cost_price,omitempty" validate:"omitempty,gte=0"`
	Markup    *float64      `json:"markup,omitempty"`
	SellPrice *float64      `json:"sell_price,omitempty" validate:"omitempty,gte=0"`
	Edited    pricing.Field `json:"edited,omitempty" validate:"omitempty,oneof=cost_price markup sell_price"`
}

// CreateItemRequest is the payload for adding a catalog item.
type CreateItemRequest struct {
	Name          string  `json:"name" validate:"required,max=200"`
	SKU           *string `json:"sku,omitempty" validate:"omitempty,max=64"`
	Description   *string `json:"description,omitempty"`
	CategoryID    *int64  `json:"category_id,omitempty" validate:"omitempty,gt=0"`
	StockLevel    float64 `json:"stock_level" validate:"gte=0"`
	MinStockLevel float64 `json:"min_stock_level" validate:"gte=0"`
	PriceInput
}

// UpdateItemRequest changes the non-nil fields of an item.
type UpdateItemRequest struct {
	Name          *string  `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	SKU           *string  `json:"sku,omitempty" validate:"omitempty,max=64"`
	Description   *string  `json:"description,omitempty"`
	CategoryID    *int64   `json:"category_id,omitempty" validate:"omitempty,gt=0"`
	MinStockLevel *float64 `json:"min_stock_level,omitempty" validate:"omitempty,gte=0"`
	PriceInput
}

// AdjustStockRequest moves stock for one item. IN and OUT take a positive
// quantity; ADJUST takes a signed one.
type AdjustStockRequest struct {
	Type MovementType `json:"type" validate:"required,oneof=IN OUT ADJUST"`
	Qty  float64      `json:"qty"`
	Note string       `json:"note,omitempty" validate:"max=500"`
}

func (r AdjustStockRequest) delta() (float64, error) {
	switch r.Type {
	case MovementIn, MovementOut:
		if r.Qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		if r.Type == MovementOut {
			return -r.Qty, nil
		}
		return r.Qty, nil
	case MovementAdjust:
		if r.Qty == 0 {
			return 0, ErrInvalidQuantity
		}
		return r.Qty, nil
	}
	return 0, fmt.Errorf("%w: movement type %q", shared.ErrValidation, r.Type)
}

// ListItemsRequest filters the catalog listing.
type ListItemsRequest struct {
	CategoryID *int64
	Search     string
	LowStock   bool
	Limit      int
	Offset     int
}

// CreateCategoryRequest is the payload for adding a category.
type CreateCategoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

var (
	// ErrNotFound is returned when an item or category does not exist.
	ErrNotFound = fmt.Errorf("inventory: %w", shared.ErrNotFound)
	// ErrNegativeStock is returned when a movement would take stock below zero.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", shared.ErrInvalidState)
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be non zero and positive for IN/OUT: %w", shared.ErrValidation)
	// ErrDuplicateCategory is returned when a category name is taken.
	ErrDuplicateCategory = fmt.Errorf("inventory: category already exists: %w", shared.ErrConflict)
	// ErrDuplicateMovement is returned when an idempotency key was already used.
	ErrDuplicateMovement = fmt.Errorf("inventory: movement already posted: %w", shared.ErrConflict)
)
