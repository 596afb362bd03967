package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

// GetInvoice returns an invoice with its payments.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns a page of invoices.
func (s *Service) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, req)
}

// RecordPayment adds a payment and re-derives the payment status. A non-empty
// idempotency key is claimed first; replays fail with ErrDuplicatePayment.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, req RecordPaymentRequest, idempotencyKey string, actor shared.Actor) (*Invoice, error) {
	const name = "invoice.payment_recorded"
	if err := requireStaff(actor); err != nil {
		return nil, s.failed(name, err)
	}
	req.Method = strings.TrimSpace(req.Method)
	req.Amount = pricing.Money(req.Amount)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed(name, err)
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, paymentsModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, s.failed(name, ErrDuplicatePayment)
			}
			return nil, s.failed(name, fmt.Errorf("sales: idempotency: %w", err))
		}
	}

	now := s.now()
	paidAt := now
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}
	var status PaymentStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if req.Amount > inv.Balance()+0.005 {
			return fmt.Errorf("%w: balance is %.2f", ErrOverpayment, inv.Balance())
		}
		p := Payment{
			InvoiceID: invoiceID,
			Amount:    req.Amount,
			PaidAt:    paidAt,
			Method:    req.Method,
			Reference: req.Reference,
		}
		if idempotencyKey != "" {
			p.IdempotencyKey = &idempotencyKey
		}
		if _, err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		paid := inv.AmountPaid + req.Amount
		status = DerivePaymentStatus(inv.TotalAmount, paid, inv.DueDate, now)
		return tx.UpdateInvoice(ctx, invoiceID, map[string]interface{}{
			"amount_paid":    paid,
			"payment_status": string(status),
		})
	})
	if err != nil {
		if idempotencyKey != "" && s.idem != nil && !errors.Is(err, ErrDuplicatePayment) {
			if derr := s.idem.Delete(ctx, idempotencyKey, paymentsModule); derr != nil {
				s.logger.Warn("release idempotency key failed", slog.Any("error", derr))
			}
		}
		return nil, s.failed(name, err)
	}
	s.committed(ctx, actor, event{
		name:    name,
		entity:  "invoice",
		id:      invoiceID,
		message: fmt.Sprintf("Payment of %.2f recorded", req.Amount),
		meta:    map[string]any{"amount": req.Amount, "payment_status": status},
	})
	return s.repo.GetInvoice(ctx, invoiceID)
}

// MarkOverdue flags unpaid invoices past their due date. It is run by the worker.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) ([]int64, error) {
	ids, err := s.repo.MarkInvoicesOverdue(ctx, now.UTC())
	if err != nil {
		return nil, s.failed("invoice.mark_overdue", fmt.Errorf("sales: mark overdue: %w", err))
	}
	if len(ids) > 0 {
		s.committed(ctx, shared.Actor{ID: "system"}, event{
			name:    "invoice.marked_overdue",
			entity:  "invoice",
			id:      ids[0],
			message: fmt.Sprintf("%d invoices are now overdue", len(ids)),
			meta:    map[string]any{"invoice_ids": ids},
		})
	}
	return ids, nil
}
