package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flooringops/opsdesk/internal/lifecycle"
	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

// Every conversion runs in one repeatable-read transaction and guards on the
// back-reference it writes, so repeating a conversion returns the existing
// record instead of creating a duplicate.

func customerFromEnquiry(e *Enquiry, owner string) Customer {
	phone := ""
	if e.Phone != nil {
		phone = strings.TrimSpace(*e.Phone)
	}
	return Customer{
		Name:           e.Name,
		Email:          e.Email,
		Phone:          phone,
		Address:        e.Address,
		LifecycleStage: StageLead,
		LeadSource:     e.Source,
		Notes:          e.Description,
		OwnerID:        owner,
	}
}

// ensureCustomer returns the enquiry's customer, creating it when missing.
func ensureCustomer(ctx context.Context, tx Repository, e *Enquiry, owner string) (int64, bool, error) {
	if e.ConvertedToCustomerID != nil {
		return *e.ConvertedToCustomerID, false, nil
	}
	id, err := tx.CreateCustomer(ctx, customerFromEnquiry(e, owner))
	if err != nil {
		return 0, false, fmt.Errorf("sales: create customer from enquiry: %w", err)
	}
	return id, true, nil
}

// ConvertEnquiryToCustomer creates a lead customer from the enquiry.
func (s *Service) ConvertEnquiryToCustomer(ctx context.Context, enquiryID int64, actor shared.Actor) (*EnquiryConversion, error) {
	const name = "enquiry.converted_to_customer"
	result := &EnquiryConversion{EnquiryID: enquiryID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		e, err := tx.LockEnquiry(ctx, enquiryID)
		if err != nil {
			return err
		}
		result.QuoteID = e.ConvertedToQuoteID
		if e.ConvertedToCustomerID != nil {
			result.CustomerID = *e.ConvertedToCustomerID
			result.AlreadyConverted = true
			return nil
		}
		id, _, err := ensureCustomer(ctx, tx, e, actor.ID)
		if err != nil {
			return err
		}
		result.CustomerID = id
		result.CustomerCreated = true
		return tx.UpdateEnquiry(ctx, enquiryID, map[string]interface{}{
			"converted_to_customer_id": id,
			"status":                   string(lifecycle.AfterCustomerConversion(e.Status)),
		})
	})
	if err != nil {
		return nil, s.failed(name, err)
	}
	if !result.AlreadyConverted {
		s.committed(ctx, actor, event{
			name:    name,
			entity:  "enquiry",
			id:      enquiryID,
			message: "Enquiry converted to customer",
			meta:    map[string]any{"customer_id": result.CustomerID},
		})
	}
	return result, nil
}

// ConvertEnquiryToQuote creates a draft quote for the enquiry, creating the
// customer first when the enquiry has none.
func (s *Service) ConvertEnquiryToQuote(ctx context.Context, enquiryID int64, actor shared.Actor) (*EnquiryConversion, error) {
	const name = "enquiry.converted_to_quote"
	result := &EnquiryConversion{EnquiryID: enquiryID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		e, err := tx.LockEnquiry(ctx, enquiryID)
		if err != nil {
			return err
		}
		if e.ConvertedToQuoteID != nil {
			result.QuoteID = e.ConvertedToQuoteID
			if e.ConvertedToCustomerID != nil {
				result.CustomerID = *e.ConvertedToCustomerID
			}
			result.AlreadyConverted = true
			return nil
		}
		customerID, created, err := ensureCustomer(ctx, tx, e, actor.ID)
		if err != nil {
			return err
		}
		result.CustomerID = customerID
		result.CustomerCreated = created

		quoteID, err := tx.CreateQuote(ctx, Quote{
			CustomerID:  customerID,
			EnquiryID:   ptrInt64(enquiryID),
			Name:        "Quote for " + e.Name,
			Description: e.Description,
			Status:      lifecycle.QuoteDraft,
			OwnerID:     actor.ID,
		})
		if err != nil {
			return fmt.Errorf("sales: create quote from enquiry: %w", err)
		}
		result.QuoteID = ptrInt64(quoteID)
		return tx.UpdateEnquiry(ctx, enquiryID, map[string]interface{}{
			"converted_to_customer_id": customerID,
			"converted_to_quote_id":    quoteID,
			"status":                   string(lifecycle.EnquiryQuoted),
		})
	})
	if err != nil {
		return nil, s.failed(name, err)
	}
	if !result.AlreadyConverted {
		s.committed(ctx, actor, event{
			name:    name,
			entity:  "enquiry",
			id:      enquiryID,
			message: "Enquiry converted to quote",
			meta:    map[string]any{"customer_id": result.CustomerID, "quote_id": *result.QuoteID},
		})
	}
	return result, nil
}

// ConvertQuoteToJob schedules a job from a sent or accepted quote and copies
// every quote item onto it. A sent quote is accepted in the same transaction.
func (s *Service) ConvertQuoteToJob(ctx context.Context, quoteID int64, req ConvertQuoteToJobRequest, actor shared.Actor) (*QuoteConversion, error) {
	const name = "quote.converted_to_job"
	if err := requireStaff(actor); err != nil {
		return nil, s.failed(name, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed(name, err)
	}
	result := &QuoteConversion{QuoteID: quoteID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if q.JobID != nil {
			result.JobID = *q.JobID
			result.AlreadyConverted = true
			return nil
		}
		if !lifecycle.CanConvertToJob(q.Status) {
			return fmt.Errorf("%w: quote %d is %s, a job needs a sent or accepted quote", ErrInvalidStatus, quoteID, q.Status)
		}

		title := q.Name
		if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
			title = strings.TrimSpace(*req.Title)
		}
		notes := req.Notes
		if notes == nil {
			notes = q.Notes
		}
		jobID, err := tx.CreateJob(ctx, Job{
			CustomerID:          q.CustomerID,
			QuoteID:             ptrInt64(quoteID),
			Title:               title,
			ScheduledDate:       req.ScheduledDate,
			ScheduledTime:       req.ScheduledTime,
			Status:              lifecycle.JobScheduled,
			AcceptanceStatus:    lifecycle.AcceptancePending,
			Notes:               notes,
			AssignedInstallerID: req.AssignedInstallerID,
			OwnerID:             actor.ID,
		})
		if err != nil {
			return fmt.Errorf("sales: create job from quote: %w", err)
		}
		for _, it := range q.Items {
			if _, err := tx.InsertJobItem(ctx, JobItem{
				JobID:           jobID,
				InventoryItemID: it.InventoryItemID,
				Description:     it.Description,
				Quantity:        it.Quantity,
				Position:        it.Position,
			}); err != nil {
				return fmt.Errorf("sales: copy quote item %d: %w", it.ID, err)
			}
		}

		updates := map[string]interface{}{"job_id": jobID}
		if q.Status == lifecycle.QuoteSent {
			tr, err := lifecycle.TransitionQuote(q.Status, lifecycle.ActionAccept, s.now())
			if err != nil {
				return lifecycleErr(err)
			}
			for k, v := range quoteTransitionUpdates(tr) {
				updates[k] = v
			}
		}
		result.JobID = jobID
		return tx.UpdateQuote(ctx, quoteID, updates)
	})
	if err != nil {
		return nil, s.failed(name, err)
	}
	if !result.AlreadyConverted {
		s.committed(ctx, actor, event{
			name:    name,
			entity:  "quote",
			id:      quoteID,
			message: "Quote converted to job",
			meta:    map[string]any{"job_id": result.JobID},
		})
	}
	job, err := s.repo.GetJob(ctx, result.JobID)
	if err != nil {
		return nil, err
	}
	result.Job = job
	return result, nil
}

// InvoiceQuote raises the invoice for a quote that is ready for invoicing and
// moves the quote to invoiced.
func (s *Service) InvoiceQuote(ctx context.Context, quoteID int64, actor shared.Actor) (*InvoiceConversion, error) {
	const name = "quote.invoiced"
	if err := requireStaff(actor); err != nil {
		return nil, s.failed(name, err)
	}
	result := &InvoiceConversion{QuoteID: quoteID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if q.InvoiceID != nil {
			result.InvoiceID = *q.InvoiceID
			result.AlreadyConverted = true
			return nil
		}
		now := s.now()
		tr, err := lifecycle.TransitionQuote(q.Status, lifecycle.ActionInvoice, now)
		if err != nil {
			return lifecycleErr(err)
		}
		number, err := tx.NextInvoiceNumber(ctx, now)
		if err != nil {
			return fmt.Errorf("sales: invoice number: %w", err)
		}
		invoiceDate := now.Truncate(24 * time.Hour)
		invoiceID, err := tx.CreateInvoice(ctx, Invoice{
			CustomerID:    q.CustomerID,
			QuoteID:       ptrInt64(quoteID),
			InvoiceNumber: number,
			TotalAmount:   pricing.Money(q.TotalAmount),
			PaymentStatus: PaymentPending,
			InvoiceDate:   invoiceDate,
			DueDate:       invoiceDate.AddDate(0, 0, s.cfg.PaymentTermsDays),
			OwnerID:       actor.ID,
		})
		if err != nil {
			return fmt.Errorf("sales: create invoice: %w", err)
		}
		result.InvoiceID = invoiceID
		updates := quoteTransitionUpdates(tr)
		updates["invoice_id"] = invoiceID
		return tx.UpdateQuote(ctx, quoteID, updates)
	})
	if err != nil {
		return nil, s.failed(name, err)
	}
	if !result.AlreadyConverted {
		s.committed(ctx, actor, event{
			name:    name,
			entity:  "quote",
			id:      quoteID,
			message: "Invoice created",
			meta:    map[string]any{"invoice_id": result.InvoiceID},
		})
	}
	inv, err := s.repo.GetInvoice(ctx, result.InvoiceID)
	if err != nil {
		return nil, err
	}
	result.Invoice = inv
	return result, nil
}
