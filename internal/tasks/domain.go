// Package tasks merges the user's own to-do items with follow-ups derived
// from the state of enquiries, quotes, jobs, invoices and stock.
package tasks

import (
	"fmt"
	"time"

	"github.com/flooringops/opsdesk/internal/shared"
)

// Source tells persisted tasks apart from derived ones.
type Source string

const (
	SourceManual Source = "manual"
	SourceSystem Source = "system"
)

// Kind classifies a task by what it asks the user to do.
type Kind string

const (
	KindManual             Kind = "manual"
	KindNewEnquiry         Kind = "new_enquiry"
	KindQuoteFollowUp      Kind = "quote_follow_up"
	KindQuoteExpired       Kind = "quote_expired"
	KindReadyToInvoice     Kind = "ready_to_invoice"
	KindAwaitingAcceptance Kind = "awaiting_acceptance"
	KindRescheduleJob      Kind = "reschedule_job"
	KindOverdueInvoice     Kind = "overdue_invoice"
	KindLowStock           Kind = "low_stock"
)

// Task is one row of the task list. System tasks have no ID and are never stored.
type Task struct {
	ID          int64      `json:"id,omitempty"`
	Key         string     `json:"key"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   bool       `json:"completed"`
	Source      Source     `json:"source"`
	Kind        Kind       `json:"kind"`
	RefEntity   string     `json:"ref_entity,omitempty"`
	RefID       int64      `json:"ref_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// CreateTaskRequest is the payload for a manual task.
type CreateTaskRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description,omitempty" validate:"max=2000"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	RefEntity   string     `json:"ref_entity,omitempty" validate:"omitempty,oneof=customer enquiry quote job invoice inventory_item"`
	RefID       int64      `json:"ref_id,omitempty" validate:"required_with=RefEntity,gte=0"`
}

// UpdateTaskRequest changes the non-nil fields of a manual task.
type UpdateTaskRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
}

// ListRequest filters the merged task list.
type ListRequest struct {
	Source           Source
	IncludeCompleted bool
}

// EnquiryRef is a new enquiry waiting for first contact.
type EnquiryRef struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// QuoteRef is a quote in sent or ready_for_invoicing status.
type QuoteRef struct {
	ID         int64
	Name       string
	Status     string
	SentAt     *time.Time
	ExpiryDate *time.Time
	Total      float64
}

// JobRef is a job waiting on its installer or on the office.
type JobRef struct {
	ID                  int64
	Title               string
	ScheduledDate       *time.Time
	AssignedInstallerID *string
	AcceptanceStatus    string
	RejectionReason     *string
}

// InvoiceRef is an unpaid invoice past its due date.
type InvoiceRef struct {
	ID            int64
	InvoiceNumber string
	DueDate       time.Time
	Balance       float64
}

// StockRef is an inventory item at or below its reorder level.
type StockRef struct {
	ID         int64
	Name       string
	StockLevel float64
	MinLevel   float64
}

// Snapshot is the read model system tasks are derived from.
type Snapshot struct {
	NewEnquiries    []EnquiryRef
	SentQuotes      []QuoteRef
	ReadyQuotes     []QuoteRef
	PendingJobs     []JobRef
	RejectedJobs    []JobRef
	OverdueInvoices []InvoiceRef
	LowStock        []StockRef
}

var (
	// ErrNotFound is returned when a manual task does not exist.
	ErrNotFound = fmt.Errorf("tasks: %w", shared.ErrNotFound)
	// ErrNotOwner is returned when an actor touches someone else's task.
	ErrNotOwner = fmt.Errorf("tasks: not the task owner: %w", shared.ErrForbidden)
)
