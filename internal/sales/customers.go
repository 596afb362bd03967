package sales

import (
	"context"
	"fmt"
	"strings"

	"github.com/flooringops/opsdesk/internal/shared"
)

// CreateCustomer validates and stores a new customer owned by actor.
func (s *Service) CreateCustomer(ctx context.Context, req CreateCustomerRequest, actor shared.Actor) (*Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("customer.create", err)
	}
	stage := req.LifecycleStage
	if stage == "" {
		stage = StageLead
	}
	c := Customer{
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Address:         req.Address,
		LifecycleStage:  stage,
		LeadSource:      req.LeadSource,
		AssignedOwnerID: req.AssignedOwnerID,
		Notes:           req.Notes,
		OwnerID:         actor.ID,
	}
	id, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return nil, s.failed("customer.create", fmt.Errorf("sales: create customer: %w", err))
	}
	s.committed(ctx, actor, event{name: "customer.created", entity: "customer", id: id, message: "Customer created"})
	return s.repo.GetCustomer(ctx, id)
}

// GetCustomer returns a single customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers returns a page of customers.
func (s *Service) ListCustomers(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	req.Search = strings.TrimSpace(req.Search)
	return s.repo.ListCustomers(ctx, req)
}

// UpdateCustomer applies the non-nil fields of req.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, req UpdateCustomerRequest, actor shared.Actor) (*Customer, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("customer.update", err)
	}
	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Phone != nil {
		updates["phone"] = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if req.LifecycleStage != nil {
		updates["lifecycle_stage"] = string(*req.LifecycleStage)
	}
	if req.LeadSource != nil {
		updates["lead_source"] = *req.LeadSource
	}
	if req.AssignedOwnerID != nil {
		updates["assigned_owner_id"] = *req.AssignedOwnerID
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if len(updates) == 0 {
		return s.repo.GetCustomer(ctx, id)
	}
	if err := s.repo.UpdateCustomer(ctx, id, updates); err != nil {
		return nil, s.failed("customer.update", err)
	}
	s.committed(ctx, actor, event{name: "customer.updated", entity: "customer", id: id, message: "Customer updated"})
	return s.repo.GetCustomer(ctx, id)
}

// DeleteCustomer removes a customer nothing references. The dependency check
// runs before the delete is issued, inside the same transaction.
func (s *Service) DeleteCustomer(ctx context.Context, id int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetCustomer(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountCustomerDependents(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d quotes, jobs or invoices", ErrHasDependents, n)
		}
		return tx.DeleteCustomer(ctx, id)
	})
	if err != nil {
		return s.failed("customer.delete", err)
	}
	s.committed(ctx, actor, event{name: "customer.deleted", entity: "customer", id: id, message: "Customer deleted"})
	return nil
}
