package sales

import (
	"context"
	"fmt"
	"strings"

	"github.com/flooringops/opsdesk/internal/lifecycle"
	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

func itemFromInput(quoteID int64, in QuoteItemInput, position int) QuoteItem {
	visible := true
	if in.IsVisible != nil {
		visible = *in.IsVisible
	}
	return QuoteItem{
		QuoteID:         quoteID,
		InventoryItemID: in.InventoryItemID,
		Description:     strings.TrimSpace(in.Description),
		Quantity:        pricing.Quantity(in.Quantity),
		UnitPrice:       pricing.Money(in.UnitPrice),
		Total:           pricing.LineTotal(in.Quantity, in.UnitPrice),
		IsVisible:       visible,
		IsCustom:        in.IsCustom || in.InventoryItemID == nil,
		Position:        position,
	}
}

// applyTotals recomputes subtotal and total from items, verifies a client total
// when one was sent and writes the figures to the quote row.
func applyTotals(ctx context.Context, tx Repository, quoteID int64, items []QuoteItem, discount, tax float64, expected *float64, extra map[string]interface{}) (pricing.QuoteTotals, error) {
	lines := pricingLines(items)
	if expected != nil {
		if err := pricing.VerifyTotal(*expected, lines, discount, tax); err != nil {
			return pricing.QuoteTotals{}, lifecycleErr(err)
		}
	}
	totals := pricing.Totals(lines, discount, tax)
	updates := map[string]interface{}{
		"subtotal":     totals.Subtotal,
		"discount":     totals.Discount,
		"tax":          totals.Tax,
		"total_amount": totals.Total,
	}
	for k, v := range extra {
		updates[k] = v
	}
	return totals, tx.UpdateQuote(ctx, quoteID, updates)
}

func requireEditable(q *Quote) error {
	if !q.Status.Editable() {
		return fmt.Errorf("%w: quote %d is %s", ErrNotEditable, q.ID, q.Status)
	}
	return nil
}

// CreateQuote creates a draft quote with optional items for an existing customer.
func (s *Service) CreateQuote(ctx context.Context, req CreateQuoteRequest, actor shared.Actor) (*Quote, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("quote.create", err)
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
			return fmt.Errorf("customer %d: %w", req.CustomerID, err)
		}
		items := make([]QuoteItem, len(req.Items))
		for i, in := range req.Items {
			items[i] = itemFromInput(0, in, i)
		}
		lines := pricingLines(items)
		if req.ExpectedTotal != nil {
			if err := pricing.VerifyTotal(*req.ExpectedTotal, lines, req.Discount, req.Tax); err != nil {
				return lifecycleErr(err)
			}
		}
		totals := pricing.Totals(lines, req.Discount, req.Tax)
		var err error
		id, err = tx.CreateQuote(ctx, Quote{
			CustomerID:  req.CustomerID,
			EnquiryID:   req.EnquiryID,
			Name:        req.Name,
			Description: req.Description,
			Subtotal:    totals.Subtotal,
			Discount:    totals.Discount,
			Tax:         totals.Tax,
			TotalAmount: totals.Total,
			Status:      lifecycle.QuoteDraft,
			ExpiryDate:  req.ExpiryDate,
			Notes:       req.Notes,
			OwnerID:     actor.ID,
		})
		if err != nil {
			return fmt.Errorf("sales: create quote: %w", err)
		}
		for _, it := range items {
			it.QuoteID = id
			if _, err := tx.InsertQuoteItem(ctx, it); err != nil {
				return fmt.Errorf("sales: insert quote item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.failed("quote.create", err)
	}
	s.committed(ctx, actor, event{name: "quote.created", entity: "quote", id: id, message: "Quote created"})
	return s.repo.GetQuote(ctx, id)
}

// GetQuote returns a quote with its items.
func (s *Service) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	return s.repo.GetQuote(ctx, id)
}

// ListQuotes returns a page of quote headers.
func (s *Service) ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error) {
	return s.repo.ListQuotes(ctx, req)
}

// UpdateQuote changes header fields. Discount and tax recompute the total and
// are only accepted while the quote is editable.
func (s *Service) UpdateQuote(ctx context.Context, id int64, req UpdateQuoteRequest, actor shared.Actor) (*Quote, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("quote.update", err)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, id)
		if err != nil {
			return err
		}
		extra := make(map[string]interface{})
		if req.Name != nil {
			extra["name"] = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			extra["description"] = *req.Description
		}
		if req.ExpiryDate != nil {
			extra["expiry_date"] = *req.ExpiryDate
		}
		if req.Notes != nil {
			extra["notes"] = *req.Notes
		}
		if req.Discount == nil && req.Tax == nil && req.ExpectedTotal == nil {
			if len(extra) == 0 {
				return nil
			}
			return tx.UpdateQuote(ctx, id, extra)
		}
		if err := requireEditable(q); err != nil {
			return err
		}
		discount, tax := q.Discount, q.Tax
		if req.Discount != nil {
			discount = *req.Discount
		}
		if req.Tax != nil {
			tax = *req.Tax
		}
		_, err = applyTotals(ctx, tx, id, q.Items, discount, tax, req.ExpectedTotal, extra)
		return err
	})
	if err != nil {
		return nil, s.failed("quote.update", err)
	}
	s.committed(ctx, actor, event{name: "quote.updated", entity: "quote", id: id, message: "Quote updated"})
	return s.repo.GetQuote(ctx, id)
}

// AddQuoteItem appends a line and recomputes the totals.
func (s *Service) AddQuoteItem(ctx context.Context, quoteID int64, in QuoteItemInput, expected *float64, actor shared.Actor) (*Quote, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, s.failed("quote.item_add", err)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if err := requireEditable(q); err != nil {
			return err
		}
		position := 0
		for _, it := range q.Items {
			if it.Position >= position {
				position = it.Position + 1
			}
		}
		item := itemFromInput(quoteID, in, position)
		if item.ID, err = tx.InsertQuoteItem(ctx, item); err != nil {
			return fmt.Errorf("sales: insert quote item: %w", err)
		}
		_, err = applyTotals(ctx, tx, quoteID, append(q.Items, item), q.Discount, q.Tax, expected, nil)
		return err
	})
	if err != nil {
		return nil, s.failed("quote.item_add", err)
	}
	s.committed(ctx, actor, event{name: "quote.item_added", entity: "quote", id: quoteID, message: "Quote item added"})
	return s.repo.GetQuote(ctx, quoteID)
}

// UpdateQuoteItem edits one line and recomputes its total and the quote totals.
func (s *Service) UpdateQuoteItem(ctx context.Context, quoteID, itemID int64, req UpdateQuoteItemRequest, actor shared.Actor) (*Quote, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("quote.item_update", err)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if err := requireEditable(q); err != nil {
			return err
		}
		idx := -1
		for i, it := range q.Items {
			if it.ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("quote item %d: %w", itemID, ErrNotFound)
		}
		item := q.Items[idx]
		if req.Description != nil {
			item.Description = strings.TrimSpace(*req.Description)
		}
		if req.Quantity != nil {
			item.Quantity = pricing.Quantity(*req.Quantity)
		}
		if req.UnitPrice != nil {
			item.UnitPrice = pricing.Money(*req.UnitPrice)
		}
		if req.IsVisible != nil {
			item.IsVisible = *req.IsVisible
		}
		item.Total = pricing.LineTotal(item.Quantity, item.UnitPrice)
		if err := tx.UpdateQuoteItem(ctx, item); err != nil {
			return err
		}
		items := append([]QuoteItem(nil), q.Items...)
		items[idx] = item
		_, err = applyTotals(ctx, tx, quoteID, items, q.Discount, q.Tax, req.ExpectedTotal, nil)
		return err
	})
	if err != nil {
		return nil, s.failed("quote.item_update", err)
	}
	s.committed(ctx, actor, event{name: "quote.item_updated", entity: "quote", id: quoteID, message: "Quote item updated"})
	return s.repo.GetQuote(ctx, quoteID)
}

// RemoveQuoteItem deletes one line and recomputes the totals.
func (s *Service) RemoveQuoteItem(ctx context.Context, quoteID, itemID int64, actor shared.Actor) (*Quote, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if err := requireEditable(q); err != nil {
			return err
		}
		remaining := make([]QuoteItem, 0, len(q.Items))
		for _, it := range q.Items {
			if it.ID != itemID {
				remaining = append(remaining, it)
			}
		}
		if len(remaining) == len(q.Items) {
			return fmt.Errorf("quote item %d: %w", itemID, ErrNotFound)
		}
		if err := tx.DeleteQuoteItem(ctx, quoteID, itemID); err != nil {
			return err
		}
		_, err = applyTotals(ctx, tx, quoteID, remaining, q.Discount, q.Tax, nil, nil)
		return err
	})
	if err != nil {
		return nil, s.failed("quote.item_remove", err)
	}
	s.committed(ctx, actor, event{name: "quote.item_removed", entity: "quote", id: quoteID, message: "Quote item removed"})
	return s.repo.GetQuote(ctx, quoteID)
}

// ReplaceQuoteItems swaps every line on the quote in one transaction.
func (s *Service) ReplaceQuoteItems(ctx context.Context, quoteID int64, req ReplaceItemsRequest, actor shared.Actor) (*Quote, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("quote.items_replace", err)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if err := requireEditable(q); err != nil {
			return err
		}
		if err := tx.DeleteQuoteItems(ctx, quoteID); err != nil {
			return err
		}
		items := make([]QuoteItem, len(req.Items))
		for i, in := range req.Items {
			items[i] = itemFromInput(quoteID, in, i)
			if items[i].ID, err = tx.InsertQuoteItem(ctx, items[i]); err != nil {
				return fmt.Errorf("sales: insert quote item: %w", err)
			}
		}
		_, err = applyTotals(ctx, tx, quoteID, items, q.Discount, q.Tax, req.ExpectedTotal, nil)
		return err
	})
	if err != nil {
		return nil, s.failed("quote.items_replace", err)
	}
	s.committed(ctx, actor, event{name: "quote.items_replaced", entity: "quote", id: quoteID, message: "Quote items saved"})
	return s.repo.GetQuote(ctx, quoteID)
}

// TransitionQuote applies a forward lifecycle action. Invoicing creates the
// invoice as well and is delegated to InvoiceQuote.
func (s *Service) TransitionQuote(ctx context.Context, quoteID int64, action lifecycle.QuoteAction, actor shared.Actor) (*Quote, error) {
	if action == lifecycle.ActionInvoice {
		if _, err := s.InvoiceQuote(ctx, quoteID, actor); err != nil {
			return nil, err
		}
		return s.repo.GetQuote(ctx, quoteID)
	}
	var tr lifecycle.QuoteTransition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		tr, err = lifecycle.TransitionQuote(q.Status, action, s.now())
		if err != nil {
			return lifecycleErr(err)
		}
		return tx.UpdateQuote(ctx, quoteID, quoteTransitionUpdates(tr))
	})
	if err != nil {
		return nil, s.failed("quote."+string(action), err)
	}
	s.committed(ctx, actor, event{
		name:    "quote." + string(action),
		entity:  "quote",
		id:      quoteID,
		message: fmt.Sprintf("Quote marked %s", tr.To),
		meta:    map[string]any{"from": tr.From, "to": tr.To},
	})
	return s.repo.GetQuote(ctx, quoteID)
}

func quoteTransitionUpdates(tr lifecycle.QuoteTransition) map[string]interface{} {
	updates := map[string]interface{}{"status": string(tr.To)}
	if col := tr.StampColumn(); col != "" {
		updates[col] = tr.At
	}
	return updates
}

// DeleteQuote removes a draft quote that has not spawned a job or invoice.
func (s *Service) DeleteQuote(ctx context.Context, id int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, id)
		if err != nil {
			return err
		}
		if q.Status != lifecycle.QuoteDraft || q.JobID != nil || q.InvoiceID != nil {
			return fmt.Errorf("%w: only unconverted draft quotes can be deleted", ErrInvalidStatus)
		}
		return tx.DeleteQuote(ctx, id)
	})
	if err != nil {
		return s.failed("quote.delete", err)
	}
	s.committed(ctx, actor, event{name: "quote.deleted", entity: "quote", id: id, message: "Quote deleted"})
	return nil
}
