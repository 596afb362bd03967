package sales

import (
	"context"
	"fmt"
	"strings"

	"github.com/flooringops/opsdesk/internal/lifecycle"
	"github.com/flooringops/opsdesk/internal/shared"
)

// CreateEnquiry logs a new enquiry in status new.
func (s *Service) CreateEnquiry(ctx context.Context, req CreateEnquiryRequest, actor shared.Actor) (*Enquiry, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("enquiry.create", err)
	}
	e := Enquiry{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
		EnquiryType: req.EnquiryType,
		Source:      req.Source,
		Description: req.Description,
		Status:      lifecycle.EnquiryNew,
		OwnerID:     actor.ID,
	}
	id, err := s.repo.CreateEnquiry(ctx, e)
	if err != nil {
		return nil, s.failed("enquiry.create", fmt.Errorf("sales: create enquiry: %w", err))
	}
	s.committed(ctx, actor, event{name: "enquiry.created", entity: "enquiry", id: id, message: "Enquiry logged"})
	return s.repo.GetEnquiry(ctx, id)
}

// GetEnquiry returns a single enquiry.
func (s *Service) GetEnquiry(ctx context.Context, id int64) (*Enquiry, error) {
	return s.repo.GetEnquiry(ctx, id)
}

// ListEnquiries returns a page of enquiries.
func (s *Service) ListEnquiries(ctx context.Context, req ListEnquiriesRequest) ([]Enquiry, int, error) {
	return s.repo.ListEnquiries(ctx, req)
}

// UpdateEnquiry applies the non-nil fields of req. Status values are normalised
// to the canonical vocabulary; converted and quoted are set by conversions only.
func (s *Service) UpdateEnquiry(ctx context.Context, id int64, req UpdateEnquiryRequest, actor shared.Actor) (*Enquiry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("enquiry.update", err)
	}
	updates := make(map[string]interface{})
	if req.Status != nil {
		status, err := lifecycle.ParseEnquiryStatus(*req.Status)
		if err != nil {
			return nil, s.failed("enquiry.update", lifecycleErr(err))
		}
		if status == lifecycle.EnquiryConverted || status == lifecycle.EnquiryQuoted {
			return nil, s.failed("enquiry.update", fmt.Errorf("%w: enquiry becomes %s through conversion", ErrInvalidStatus, status))
		}
		updates["status"] = string(status)
	}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if req.EnquiryType != nil {
		updates["enquiry_type"] = *req.EnquiryType
	}
	if req.Source != nil {
		updates["source"] = *req.Source
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) == 0 {
		return s.repo.GetEnquiry(ctx, id)
	}
	if err := s.repo.UpdateEnquiry(ctx, id, updates); err != nil {
		return nil, s.failed("enquiry.update", err)
	}
	s.committed(ctx, actor, event{name: "enquiry.updated", entity: "enquiry", id: id, message: "Enquiry updated"})
	return s.repo.GetEnquiry(ctx, id)
}

// DeleteEnquiry removes an enquiry that has not been converted.
func (s *Service) DeleteEnquiry(ctx context.Context, id int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		e, err := tx.LockEnquiry(ctx, id)
		if err != nil {
			return err
		}
		if e.ConvertedToCustomerID != nil || e.ConvertedToQuoteID != nil {
			return fmt.Errorf("%w: enquiry %d has been converted", ErrInvalidStatus, id)
		}
		return tx.DeleteEnquiry(ctx, id)
	})
	if err != nil {
		return s.failed("enquiry.delete", err)
	}
	s.committed(ctx, actor, event{name: "enquiry.deleted", entity: "enquiry", id: id, message: "Enquiry deleted"})
	return nil
}
