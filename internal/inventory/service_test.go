package inventory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

var office = shared.Actor{ID: "staff-1", Role: shared.RoleStaff}

type memoryRepo struct {
	items      map[int64]Item
	categories map[int64]Category
	movements  []Movement
	nextID     int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item), categories: make(map[int64]Category)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(_ context.Context, id int64) (*Item, error) {
	it, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	it.Markup = it.markupState().Markup
	if it.CategoryID != nil {
		it.CategoryName = r.categories[*it.CategoryID].Name
	}
	return &it, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, req ListItemsRequest) ([]Item, int, error) {
	var out []Item
	for id := range r.items {
		it, _ := r.GetItem(ctx, id)
		if req.LowStock && !it.LowStock() {
			continue
		}
		if req.CategoryID != nil && (it.CategoryID == nil || *it.CategoryID != *req.CategoryID) {
			continue
		}
		if req.Search != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(req.Search)) {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (r *memoryRepo) DeleteItem(_ context.Context, id int64) error {
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryRepo) ListCategories(context.Context) ([]Category, error) {
	var out []Category
	for _, c := range r.categories {
		out = append(out, c)
	}
	return out, nil
}

func (r *memoryRepo) CreateCategory(_ context.Context, name string) (int64, error) {
	for _, c := range r.categories {
		if strings.EqualFold(c.Name, name) {
			return 0, ErrDuplicateCategory
		}
	}
	r.nextID++
	r.categories[r.nextID] = Category{ID: r.nextID, Name: name}
	return r.nextID, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, itemID int64, _ int) ([]Movement, error) {
	var out []Movement
	for i := len(r.movements) - 1; i >= 0; i-- {
		if r.movements[i].ItemID == itemID {
			out = append(out, r.movements[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (*Item, error) {
	return tx.repo.GetItem(ctx, id)
}

func (tx *memoryTx) InsertItem(_ context.Context, it Item) (int64, error) {
	tx.repo.nextID++
	it.ID = tx.repo.nextID
	tx.repo.items[it.ID] = it
	return it.ID, nil
}

func (tx *memoryTx) UpdateItem(_ context.Context, id int64, updates map[string]interface{}) error {
	it, ok := tx.repo.items[id]
	if !ok {
		return ErrNotFound
	}
	for col, v := range updates {
		switch col {
		case "name":
			it.Name = v.(string)
		case "sku":
			s := v.(string)
			it.SKU = &s
		case "description":
			s := v.(string)
			it.Description = &s
		case "category_id":
			c := v.(int64)
			it.CategoryID = &c
		case "cost_price":
			it.CostPrice = v.(float64)
		case "sell_price":
			it.SellPrice = v.(float64)
		case "stock_level":
			it.StockLevel = v.(float64)
		case "min_stock_level":
			it.MinStockLevel = v.(float64)
		default:
			return errors.New("unexpected column " + col)
		}
	}
	tx.repo.items[id] = it
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) (int64, error) {
	m.ID = int64(len(tx.repo.movements) + 1)
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) CategoryExists(_ context.Context, id int64) (bool, error) {
	_, ok := tx.repo.categories[id]
	return ok, nil
}

type keyStore struct {
	seen map[string]bool
}

func (k *keyStore) CheckAndInsert(_ context.Context, key, module string) error {
	if k.seen == nil {
		k.seen = make(map[string]bool)
	}
	if k.seen[module+key] {
		return shared.ErrIdempotencyConflict
	}
	k.seen[module+key] = true
	return nil
}

func (k *keyStore) Delete(_ context.Context, key, module string) error {
	delete(k.seen, module+key)
	return nil
}

func ptr[T any](v T) *T { return &v }

func newTestService() (*Service, *memoryRepo, *keyStore) {
	repo := newMemoryRepo()
	keys := &keyStore{}
	svc := NewService(repo, ServiceConfig{
		Idempotency: keys,
		Now:         func() time.Time { return time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC) },
	})
	return svc, repo, keys
}

func TestCreateItemDerivesSellFromMarkup(t *testing.T) {
	svc, _, _ := newTestService()
	item, err := svc.CreateItem(context.Background(), CreateItemRequest{
		Name:       "Oak plank",
		PriceInput: PriceInput{CostPrice: ptr(100.0), Markup: ptr(30.0)},
	}, office)
	require.NoError(t, err)
	assert.InDelta(t, 130.0, item.SellPrice, 0.001)
	assert.InDelta(t, 30.0, item.Markup, 0.001)
	assert.Equal(t, "staff-1", item.OwnerID)
}

func TestUpdateItemSellEditRecomputesMarkup(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	item, err := svc.CreateItem(ctx, CreateItemRequest{
		Name:       "Underlay",
		PriceInput: PriceInput{CostPrice: ptr(100.0), Markup: ptr(30.0)},
	}, office)
	require.NoError(t, err)

	item, err = svc.UpdateItem(ctx, item.ID, UpdateItemRequest{
		PriceInput: PriceInput{SellPrice: ptr(150.0), Edited: pricing.FieldSell},
	}, office)
	require.NoError(t, err)
	assert.InDelta(t, 150.0, item.SellPrice, 0.001)
	assert.InDelta(t, 50.0, item.Markup, 0.001)
	assert.InDelta(t, 100.0, item.CostPrice, 0.001)

	item, err = svc.UpdateItem(ctx, item.ID, UpdateItemRequest{
		PriceInput: PriceInput{CostPrice: ptr(200.0), Edited: pricing.FieldCost},
	}, office)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, item.SellPrice, 0.001)
}

func TestResolvePricesKeepsMarkupWhenCostIsZero(t *testing.T) {
	got, err := resolvePrices(pricing.MarkupState{}, PriceInput{
		Markup:    ptr(20.0),
		SellPrice: ptr(80.0),
		Edited:    pricing.FieldSell,
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Markup)
	assert.Equal(t, 80.0, got.SellPrice)
	assert.Equal(t, 0.0, got.CostPrice)
}

func TestResolvePricesEditedFieldRequired(t *testing.T) {
	_, err := resolvePrices(pricing.MarkupState{}, PriceInput{CostPrice: ptr(10.0), Edited: pricing.FieldMarkup})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "markup")
}

func TestCreateItemRejectsMismatchedPrices(t *testing.T) {
	svc, repo, _ := newTestService()
	_, err := svc.CreateItem(context.Background(), CreateItemRequest{
		Name:       "Vinyl",
		PriceInput: PriceInput{CostPrice: ptr(100.0), Markup: ptr(30.0), SellPrice: ptr(140.0)},
	}, office)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, pricing.ErrMarkupMismatch)
	assert.Empty(t, repo.items)
}

func TestUpdateItemAcceptsItsOwnPrices(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	item, err := svc.CreateItem(ctx, CreateItemRequest{
		Name:       "Skirting",
		PriceInput: PriceInput{CostPrice: ptr(3.0), SellPrice: ptr(4.0), Edited: pricing.FieldSell},
	}, office)
	require.NoError(t, err)
	require.InDelta(t, 33.0, item.Markup, 0.001)

	again, err := svc.UpdateItem(ctx, item.ID, UpdateItemRequest{
		PriceInput: PriceInput{CostPrice: ptr(item.CostPrice), Markup: ptr(item.Markup), SellPrice: ptr(item.SellPrice)},
	}, office)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, again.SellPrice, 0.001)
	assert.InDelta(t, 33.0, again.Markup, 0.001)
}

func TestCreateItemUnknownCategory(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.CreateItem(context.Background(), CreateItemRequest{Name: "Tile", CategoryID: ptr(int64(42))}, office)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustStockMovements(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	item, err := svc.CreateItem(ctx, CreateItemRequest{Name: "Grout", StockLevel: 5}, office)
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementOut, Qty: 6}, "", office)
	require.ErrorIs(t, err, ErrNegativeStock)
	assert.Empty(t, repo.movements)

	m, err := svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementIn, Qty: 10, Note: "delivery"}, "", office)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, m.BalanceQty, 0.0001)

	m, err = svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementAdjust, Qty: -15}, "", office)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m.BalanceQty, 0.0001)
	assert.InDelta(t, -15.0, m.Qty, 0.0001)

	_, err = svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementIn, Qty: -1}, "", office)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementAdjust, Qty: 0}, "", office)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	card, err := svc.Movements(ctx, item.ID, 10)
	require.NoError(t, err)
	require.Len(t, card, 2)
	assert.Equal(t, MovementAdjust, card[0].Type)
	assert.Equal(t, "delivery", card[1].Note)
}

func TestAdjustStockIdempotencyKey(t *testing.T) {
	svc, _, keys := newTestService()
	ctx := context.Background()
	item, err := svc.CreateItem(ctx, CreateItemRequest{Name: "Adhesive", StockLevel: 1}, office)
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementOut, Qty: 5}, "mv-1", office)
	require.ErrorIs(t, err, ErrNegativeStock)
	assert.Empty(t, keys.seen, "failed movement releases its key")

	_, err = svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementIn, Qty: 5}, "mv-1", office)
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, item.ID, AdjustStockRequest{Type: MovementIn, Qty: 5}, "mv-1", office)
	require.ErrorIs(t, err, ErrDuplicateMovement)

	got, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, got.StockLevel, 0.0001)
}

func TestLowStockListing(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.CreateItem(ctx, CreateItemRequest{Name: "Carpet roll", StockLevel: 2, MinStockLevel: 5}, office)
	require.NoError(t, err)
	_, err = svc.CreateItem(ctx, CreateItemRequest{Name: "Nails", StockLevel: 100, MinStockLevel: 10}, office)
	require.NoError(t, err)

	low, err := svc.LowStock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Carpet roll", low[0].Name)
}

func TestCreateCategoryDuplicate(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	cat, err := svc.CreateCategory(ctx, CreateCategoryRequest{Name: " Timber "})
	require.NoError(t, err)
	assert.Equal(t, "Timber", cat.Name)

	_, err = svc.CreateCategory(ctx, CreateCategoryRequest{Name: "timber"})
	require.ErrorIs(t, err, shared.ErrConflict)

	item, err := svc.CreateItem(ctx, CreateItemRequest{Name: "Oak", CategoryID: &cat.ID}, office)
	require.NoError(t, err)
	assert.Equal(t, "Timber", item.CategoryName)
}
