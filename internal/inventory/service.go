package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/flooringops/opsdesk/internal/platform/httpx"
	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards stock movements against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// CacheInvalidator drops cached read models after a write.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       CacheInvalidator
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       CacheInvalidator
	Logger      *slog.Logger
	Now         func() time.Time
}

const movementsModule = "inventory.movements"

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:        repo,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		cache:       cfg.Cache,
		logger:      cfg.Logger,
		validate:    httpx.NewValidator(),
		now:         cfg.Now,
	}
}

// resolvePrices loads the submitted form values over state and runs the
// derivation for the edited field. Without an edited field a full
// sell+markup pair must agree with the cost.
func resolvePrices(state pricing.MarkupState, in PriceInput) (pricing.MarkupState, error) {
	if in.CostPrice != nil {
		state.CostPrice = *in.CostPrice
	}
	if in.Markup != nil {
		state.Markup = *in.Markup
	}
	if in.SellPrice != nil {
		state.SellPrice = *in.SellPrice
	}

	if in.Edited != "" {
		var value *float64
		switch in.Edited {
		case pricing.FieldCost:
			value = in.CostPrice
		case pricing.FieldMarkup:
			value = in.Markup
		case pricing.FieldSell:
			value = in.SellPrice
		}
		if value == nil {
			return state, shared.NewValidationError(string(in.Edited), "required when it is the edited field")
		}
		return pricing.ApplyEdit(state, in.Edited, *value), nil
	}

	switch {
	case in.Markup != nil && in.SellPrice != nil:
		if err := pricing.VerifyMarkup(state); err != nil {
			return state, fmt.Errorf("%w: %w", shared.ErrValidation, err)
		}
	case in.Markup != nil || in.CostPrice != nil && in.SellPrice == nil:
		state = pricing.ApplyEdit(state, pricing.FieldMarkup, state.Markup)
	case in.SellPrice != nil:
		state = pricing.ApplyEdit(state, pricing.FieldSell, state.SellPrice)
	}
	return state, nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, id int64, meta map[string]any) {
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   action,
			Entity:   "inventory_item",
			EntityID: shared.EntityRef(id),
			Meta:     meta,
			At:       s.now().UTC(),
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
}

func (s *Service) checkCategory(ctx context.Context, tx TxRepository, id *int64) error {
	if id == nil {
		return nil
	}
	ok, err := tx.CategoryExists(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("category %d: %w", *id, ErrNotFound)
	}
	return nil
}

// CreateItem validates prices through the markup reducer and stores the item.
func (s *Service) CreateItem(ctx context.Context, req CreateItemRequest, actor shared.Actor) (*Item, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	prices, err := resolvePrices(pricing.MarkupState{}, req.PriceInput)
	if err != nil {
		return nil, err
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkCategory(ctx, tx, req.CategoryID); err != nil {
			return err
		}
		var err error
		id, err = tx.InsertItem(ctx, Item{
			Name:          req.Name,
			SKU:           req.SKU,
			Description:   req.Description,
			CategoryID:    req.CategoryID,
			CostPrice:     prices.CostPrice,
			SellPrice:     prices.SellPrice,
			StockLevel:    req.StockLevel,
			MinStockLevel: req.MinStockLevel,
			OwnerID:       actor.ID,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: create item: %w", err)
	}
	s.record(ctx, actor, "inventory.item_created", id, map[string]any{"cost_price": prices.CostPrice, "sell_price": prices.SellPrice})
	return s.repo.GetItem(ctx, id)
}

// GetItem returns one item.
func (s *Service) GetItem(ctx context.Context, id int64) (*Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems returns a page of items.
func (s *Service) ListItems(ctx context.Context, req ListItemsRequest) ([]Item, int, error) {
	req.Search = strings.TrimSpace(req.Search)
	return s.repo.ListItems(ctx, req)
}

// LowStock lists items at or below their reorder level.
func (s *Service) LowStock(ctx context.Context, limit int) ([]Item, error) {
	items, _, err := s.repo.ListItems(ctx, ListItemsRequest{LowStock: true, Limit: limit})
	return items, err
}

// UpdateItem applies non-nil fields. Price fields go through the markup reducer
// starting from the stored cost and sell.
func (s *Service) UpdateItem(ctx context.Context, id int64, req UpdateItemRequest, actor shared.Actor) (*Item, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkCategory(ctx, tx, req.CategoryID); err != nil {
			return err
		}
		updates := make(map[string]interface{})
		if req.Name != nil {
			updates["name"] = strings.TrimSpace(*req.Name)
		}
		if req.SKU != nil {
			updates["sku"] = *req.SKU
		}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if req.CategoryID != nil {
			updates["category_id"] = *req.CategoryID
		}
		if req.MinStockLevel != nil {
			updates["min_stock_level"] = *req.MinStockLevel
		}
		if req.CostPrice != nil || req.Markup != nil || req.SellPrice != nil {
			prices, err := resolvePrices(current.markupState(), req.PriceInput)
			if err != nil {
				return err
			}
			updates["cost_price"] = prices.CostPrice
			updates["sell_price"] = prices.SellPrice
		}
		return tx.UpdateItem(ctx, id, updates)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "inventory.item_updated", id, nil)
	return s.repo.GetItem(ctx, id)
}

// DeleteItem removes an item from the catalog.
func (s *Service) DeleteItem(ctx context.Context, id int64, actor shared.Actor) error {
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "inventory.item_deleted", id, nil)
	return nil
}

// AdjustStock posts a movement and updates the stock level. Stock never goes
// below zero. A non-empty key makes the movement idempotent.
func (s *Service) AdjustStock(ctx context.Context, id int64, req AdjustStockRequest, key string, actor shared.Actor) (*Movement, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	delta, err := req.delta()
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	insertedKey := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, movementsModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, ErrDuplicateMovement
			}
			return nil, err
		}
		insertedKey = true
	}

	var card Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		newQty := item.StockLevel + delta
		if newQty < -0.0001 {
			return fmt.Errorf("%w: %s has %.2f in stock", ErrNegativeStock, item.Name, item.StockLevel)
		}
		if newQty < 0 {
			newQty = 0
		}
		if err := tx.UpdateItem(ctx, id, map[string]interface{}{"stock_level": newQty}); err != nil {
			return err
		}
		card = Movement{
			ItemID:     id,
			Type:       req.Type,
			Qty:        delta,
			BalanceQty: newQty,
			Note:       strings.TrimSpace(req.Note),
			ActorID:    actor.ID,
			PostedAt:   s.now().UTC(),
		}
		card.ID, err = tx.InsertMovement(ctx, card)
		return err
	})
	if err != nil {
		if insertedKey {
			if derr := s.idempotency.Delete(ctx, key, movementsModule); derr != nil {
				s.logger.Warn("release idempotency key failed", slog.Any("error", derr))
			}
		}
		return nil, err
	}
	s.record(ctx, actor, "inventory.stock_"+strings.ToLower(string(req.Type)), id, map[string]any{"qty": delta, "balance": card.BalanceQty})
	return &card, nil
}

// Movements returns the stock card for an item.
func (s *Service) Movements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, itemID, limit)
}

// ListCategories returns every category.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateCategory adds a category.
func (s *Service) CreateCategory(ctx context.Context, req CreateCategoryRequest) (*Category, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	id, err := s.repo.CreateCategory(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return &Category{ID: id, Name: req.Name}, nil
}
