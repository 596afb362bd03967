package sales

import (
	"io"
	"time"

	"github.com/flooringops/opsdesk/internal/lifecycle"
	"github.com/flooringops/opsdesk/internal/pricing"
)

// LifecycleStage tracks how far a customer is through the sales funnel.
type LifecycleStage string

const (
	StageLead      LifecycleStage = "lead"
	StageProspect  LifecycleStage = "prospect"
	StageQualified LifecycleStage = "qualified"
	StageCustomer  LifecycleStage = "customer"
)

// Valid reports whether s is a known stage.
func (s LifecycleStage) Valid() bool {
	switch s {
	case StageLead, StageProspect, StageQualified, StageCustomer:
		return true
	}
	return false
}

// Customer is a person or business the company sells to.
type Customer struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Email           *string        `json:"email,omitempty"`
	Phone           string         `json:"phone"`
	Address         *string        `json:"address,omitempty"`
	LifecycleStage  LifecycleStage `json:"lifecycle_stage"`
	LeadSource      *string        `json:"lead_source,omitempty"`
	AssignedOwnerID *string        `json:"assigned_owner_id,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	OwnerID         string         `json:"owner_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CreateCustomerRequest is the payload for creating a customer.
type CreateCustomerRequest struct {
	Name            string         `json:"name" validate:"required,max=200"`
	Email           *string        `json:"email,omitempty" validate:"omitempty,email"`
	Phone           string         `json:"phone" validate:"required,max=50"`
	Address         *string        `json:"address,omitempty"`
	LifecycleStage  LifecycleStage `json:"lifecycle_stage,omitempty" validate:"omitempty,oneof=lead prospect qualified customer"`
	LeadSource      *string        `json:"lead_source,omitempty"`
	AssignedOwnerID *string        `json:"assigned_owner_id,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
}

// UpdateCustomerRequest carries the fields to change; nil fields are left alone.
type UpdateCustomerRequest struct {
	Name            *string         `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Email           *string         `json:"email,omitempty" validate:"omitempty,email"`
	Phone           *string         `json:"phone,omitempty" validate:"omitempty,min=1,max=50"`
	Address         *string         `json:"address,omitempty"`
	LifecycleStage  *LifecycleStage `json:"lifecycle_stage,omitempty" validate:"omitempty,oneof=lead prospect qualified customer"`
	LeadSource      *string         `json:"lead_source,omitempty"`
	AssignedOwnerID *string         `json:"assigned_owner_id,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
}

// ListCustomersRequest filters the customer listing.
type ListCustomersRequest struct {
	Stage  *LifecycleStage
	Search string
	Limit  int
	Offset int
}

// Enquiry is an inbound request from a prospective customer.
type Enquiry struct {
	ID                    int64                   `json:"id"`
	Name                  string                  `json:"name"`
	Email                 *string                 `json:"email,omitempty"`
	Phone                 *string                 `json:"phone,omitempty"`
	Address               *string                 `json:"address,omitempty"`
	EnquiryType           *string                 `json:"enquiry_type,omitempty"`
	Source                *string                 `json:"source,omitempty"`
	Description           *string                 `json:"description,omitempty"`
	Status                lifecycle.EnquiryStatus `json:"status"`
	ConvertedToCustomerID *int64                  `json:"converted_to_customer_id,omitempty"`
	ConvertedToQuoteID    *int64                  `json:"converted_to_quote_id,omitempty"`
	OwnerID               string                  `json:"owner_id"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

// CreateEnquiryRequest is the payload for logging an enquiry.
type CreateEnquiryRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address     *string `json:"address,omitempty"`
	EnquiryType *string `json:"enquiry_type,omitempty"`
	Source      *string `json:"source,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdateEnquiryRequest carries enquiry fields to change. Status accepts legacy aliases.
type UpdateEnquiryRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address     *string `json:"address,omitempty"`
	EnquiryType *string `json:"enquiry_type,omitempty"`
	Source      *string `json:"source,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// ListEnquiriesRequest filters the enquiry listing.
type ListEnquiriesRequest struct {
	Status *lifecycle.EnquiryStatus
	Limit  int
	Offset int
}

// Quote is a priced proposal for a customer.
type Quote struct {
	ID           int64                 `json:"id"`
	CustomerID   int64                 `json:"customer_id"`
	EnquiryID    *int64                `json:"enquiry_id,omitempty"`
	Name         string                `json:"name"`
	Description  *string               `json:"description,omitempty"`
	Items        []QuoteItem           `json:"items"`
	Subtotal     float64               `json:"subtotal"`
	Discount     float64               `json:"discount"`
	Tax          float64               `json:"tax"`
	TotalAmount  float64               `json:"total_amount"`
	Status       lifecycle.QuoteStatus `json:"status"`
	ExpiryDate   *time.Time            `json:"expiry_date,omitempty"`
	Notes        *string               `json:"notes,omitempty"`
	JobID        *int64                `json:"job_id,omitempty"`
	InvoiceID    *int64                `json:"invoice_id,omitempty"`
	SentAt       *time.Time            `json:"sent_at,omitempty"`
	AcceptedAt   *time.Time            `json:"accepted_at,omitempty"`
	RejectedAt   *time.Time            `json:"rejected_at,omitempty"`
	InvoicedAt   *time.Time            `json:"invoiced_at,omitempty"`
	CustomerName string                `json:"customer_name,omitempty"`
	OwnerID      string                `json:"owner_id"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Actions lists the transitions offered on the quote in its current status.
func (q Quote) Actions() []lifecycle.QuoteAction {
	return lifecycle.QuoteActions(q.Status)
}

// QuoteItem is one priced line on a quote.
type QuoteItem struct {
	ID              int64   `json:"id"`
	QuoteID         int64   `json:"quote_id"`
	InventoryItemID *int64  `json:"inventory_item_id,omitempty"`
	Description     string  `json:"description"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	Total           float64 `json:"total"`
	IsVisible       bool    `json:"is_visible"`
	IsCustom        bool    `json:"is_custom"`
	Position        int     `json:"position"`
}

func pricingLines(items []QuoteItem) []pricing.Line {
	lines := make([]pricing.Line, len(items))
	for i, it := range items {
		lines[i] = pricing.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return lines
}

// QuoteItemInput is a line submitted by the client. Totals are always recomputed.
type QuoteItemInput struct {
	InventoryItemID *int64  `json:"inventory_item_id,omitempty"`
	Description     string  `json:"description" validate:"required,max=500"`
	Quantity        float64 `json:"quantity" validate:"gte=0"`
	UnitPrice       float64 `json:"unit_price" validate:"gte=0"`
	IsVisible       *bool   `json:"is_visible,omitempty"`
	IsCustom        bool    `json:"is_custom,omitempty"`
}

// CreateQuoteRequest creates a draft quote.
type CreateQuoteRequest struct {
	CustomerID    int64            `json:"customer_id" validate:"required,gt=0"`
	EnquiryID     *int64           `json:"enquiry_id,omitempty"`
	Name          string           `json:"name" validate:"required,max=200"`
	Description   *string          `json:"description,omitempty"`
	Discount      float64          `json:"discount" validate:"gte=0"`
	Tax           float64          `json:"tax" validate:"gte=0"`
	ExpiryDate    *time.Time       `json:"expiry_date,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	Items         []QuoteItemInput `json:"items,omitempty" validate:"dive"`
	ExpectedTotal *float64         `json:"expected_total,omitempty"`
}

// UpdateQuoteRequest changes quote header fields.
type UpdateQuoteRequest struct {
	Name          *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description   *string    `json:"description,omitempty"`
	Discount      *float64   `json:"discount,omitempty" validate:"omitempty,gte=0"`
	Tax           *float64   `json:"tax,omitempty" validate:"omitempty,gte=0"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	ExpectedTotal *float64   `json:"expected_total,omitempty"`
}

// ReplaceItemsRequest swaps every line on a quote.
type ReplaceItemsRequest struct {
	Items         []QuoteItemInput `json:"items" validate:"dive"`
	ExpectedTotal *float64         `json:"expected_total,omitempty"`
}

// UpdateQuoteItemRequest edits a single line.
type UpdateQuoteItemRequest struct {
	Description   *string  `json:"description,omitempty" validate:"omitempty,min=1,max=500"`
	Quantity      *float64 `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	UnitPrice     *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	IsVisible     *bool    `json:"is_visible,omitempty"`
	ExpectedTotal *float64 `json:"expected_total,omitempty"`
}

// ListQuotesRequest filters the quote listing.
type ListQuotesRequest struct {
	CustomerID *int64
	Status     *lifecycle.QuoteStatus
	Limit      int
	Offset     int
}

// Job is an installation job scheduled for an installer.
type Job struct {
	ID                  int64                `json:"id"`
	CustomerID          int64                `json:"customer_id"`
	QuoteID             *int64               `json:"quote_id,omitempty"`
	Title               string               `json:"title"`
	ScheduledDate       *time.Time           `json:"scheduled_date,omitempty"`
	ScheduledTime       *string              `json:"scheduled_time,omitempty"`
	Status              lifecycle.JobStatus  `json:"status"`
	AcceptanceStatus    lifecycle.Acceptance `json:"acceptance_status"`
	ProgressPercentage  int                  `json:"progress_percentage"`
	Notes               *string              `json:"notes,omitempty"`
	ProgressNotes       *string              `json:"progress_notes,omitempty"`
	CompletionNotes     *string              `json:"completion_notes,omitempty"`
	HoursWorked         *float64             `json:"hours_worked,omitempty"`
	CompletionDate      *time.Time           `json:"completion_date,omitempty"`
	PhotoRefs           []string             `json:"photo_refs"`
	AssignedInstallerID *string              `json:"assigned_installer_id,omitempty"`
	RejectionReason     *string              `json:"rejection_reason,omitempty"`
	Items               []JobItem            `json:"items"`
	CustomerName        string               `json:"customer_name,omitempty"`
	OwnerID             string               `json:"owner_id"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// State projects the job onto the lifecycle machine.
func (j Job) State() lifecycle.JobState {
	s := lifecycle.JobState{
		Status:             j.Status,
		Acceptance:         j.AcceptanceStatus,
		ProgressPercentage: j.ProgressPercentage,
		CompletionDate:     j.CompletionDate,
		PhotoRefs:          j.PhotoRefs,
	}
	if j.CompletionNotes != nil {
		s.CompletionNotes = *j.CompletionNotes
	}
	if j.HoursWorked != nil {
		s.HoursWorked = *j.HoursWorked
	}
	if j.RejectionReason != nil {
		s.RejectionReason = *j.RejectionReason
	}
	return s
}

// Actions lists what may be done with the job right now.
func (j Job) Actions() []lifecycle.JobAction {
	return j.State().Actions()
}

// stateUpdates returns the column changes needed to move the job to next.
func stateUpdates(next lifecycle.JobState) map[string]interface{} {
	updates := map[string]interface{}{
		"status":              string(next.Status),
		"acceptance_status":   string(next.Acceptance),
		"progress_percentage": next.ProgressPercentage,
		"photo_refs":          nonNilStrings(next.PhotoRefs),
		"rejection_reason":    nullableString(next.RejectionReason),
	}
	if next.Status == lifecycle.JobCompleted {
		updates["completion_notes"] = next.CompletionNotes
		updates["hours_worked"] = next.HoursWorked
		updates["completion_date"] = next.CompletionDate
	}
	return updates
}

// JobItem is a material or task line on a job.
type JobItem struct {
	ID              int64   `json:"id"`
	JobID           int64   `json:"job_id"`
	InventoryItemID *int64  `json:"inventory_item_id,omitempty"`
	Description     string  `json:"description"`
	Quantity        float64 `json:"quantity"`
	Position        int     `json:"position"`
}

// JobItemInput is a job line submitted by the client.
type JobItemInput struct {
	InventoryItemID *int64  `json:"inventory_item_id,omitempty"`
	Description     string  `json:"description" validate:"required,max=500"`
	Quantity        float64 `json:"quantity" validate:"gte=0"`
}

// CreateJobRequest schedules a job directly, without a quote.
type CreateJobRequest struct {
	CustomerID          int64          `json:"customer_id" validate:"required,gt=0"`
	Title               string         `json:"title" validate:"required,max=200"`
	ScheduledDate       *time.Time     `json:"scheduled_date,omitempty"`
	ScheduledTime       *string        `json:"scheduled_time,omitempty" validate:"omitempty,max=20"`
	AssignedInstallerID *string        `json:"assigned_installer_id,omitempty"`
	Notes               *string        `json:"notes,omitempty"`
	Items               []JobItemInput `json:"items,omitempty" validate:"dive"`
}

// ConvertQuoteToJobRequest carries the scheduling details for a job made from a quote.
type ConvertQuoteToJobRequest struct {
	Title               *string    `json:"title,omitempty" validate:"omitempty,max=200"`
	ScheduledDate       *time.Time `json:"scheduled_date,omitempty"`
	ScheduledTime       *string    `json:"scheduled_time,omitempty" validate:"omitempty,max=20"`
	AssignedInstallerID *string    `json:"assigned_installer_id,omitempty"`
	Notes               *string    `json:"notes,omitempty"`
}

// RejectJobRequest is the installer's reason for declining a job.
type RejectJobRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ProgressRequest reports progress on a running job.
type ProgressRequest struct {
	ProgressPercentage int     `json:"progress_percentage" validate:"gte=0,lte=100"`
	ProgressNotes      *string `json:"progress_notes,omitempty"`
}

// PhotoUpload is one completion photo streamed from a multipart form.
type PhotoUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// CompleteJobInput is what the installer submits when finishing a job.
type CompleteJobInput struct {
	CompletionNotes string
	HoursWorked     float64
	Photos          []PhotoUpload
}

// RescheduleJobRequest moves a job to a new slot or installer.
type RescheduleJobRequest struct {
	ScheduledDate       *time.Time `json:"scheduled_date,omitempty"`
	ScheduledTime       *string    `json:"scheduled_time,omitempty" validate:"omitempty,max=20"`
	AssignedInstallerID *string    `json:"assigned_installer_id,omitempty"`
}

// ListJobsRequest filters the job listing.
type ListJobsRequest struct {
	Status      *lifecycle.JobStatus
	Acceptance  *lifecycle.Acceptance
	InstallerID *string
	CustomerID  *int64
	Limit       int
	Offset      int
}

// PaymentStatus is derived from amount paid, total and due date.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

// DerivePaymentStatus computes the payment status of an invoice at now.
func DerivePaymentStatus(total, paid float64, due time.Time, now time.Time) PaymentStatus {
	switch {
	case paid >= total-0.005:
		return PaymentPaid
	case !due.IsZero() && now.After(due):
		return PaymentOverdue
	case paid > 0:
		return PaymentPartial
	default:
		return PaymentPending
	}
}

// Invoice bills a customer for an invoiced quote.
type Invoice struct {
	ID            int64         `json:"id"`
	CustomerID    int64         `json:"customer_id"`
	QuoteID       *int64        `json:"quote_id,omitempty"`
	InvoiceNumber string        `json:"invoice_number"`
	TotalAmount   float64       `json:"total_amount"`
	AmountPaid    float64       `json:"amount_paid"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	InvoiceDate   time.Time     `json:"invoice_date"`
	DueDate       time.Time     `json:"due_date"`
	Payments      []Payment     `json:"payments,omitempty"`
	CustomerName  string        `json:"customer_name,omitempty"`
	OwnerID       string        `json:"owner_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Balance is what remains to be paid.
func (i Invoice) Balance() float64 {
	b := i.TotalAmount - i.AmountPaid
	if b < 0 {
		return 0
	}
	return b
}

// Payment is money received against an invoice.
type Payment struct {
	ID             int64     `json:"id"`
	InvoiceID      int64     `json:"invoice_id"`
	Amount         float64   `json:"amount"`
	PaidAt         time.Time `json:"paid_at"`
	Method         string    `json:"method"`
	Reference      *string   `json:"reference,omitempty"`
	IdempotencyKey *string   `json:"-"`
}

// RecordPaymentRequest is the payload for recording a payment.
type RecordPaymentRequest struct {
	Amount    float64    `json:"amount" validate:"gt=0"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Method    string     `json:"method" validate:"required,oneof=cash card bank_transfer cheque other"`
	Reference *string    `json:"reference,omitempty" validate:"omitempty,max=200"`
}

// ListInvoicesRequest filters the invoice listing.
type ListInvoicesRequest struct {
	Status     *PaymentStatus
	CustomerID *int64
	Limit      int
	Offset     int
}

// EnquiryConversion reports the outcome of converting an enquiry.
type EnquiryConversion struct {
	EnquiryID        int64  `json:"enquiry_id"`
	CustomerID       int64  `json:"customer_id"`
	QuoteID          *int64 `json:"quote_id,omitempty"`
	CustomerCreated  bool   `json:"customer_created"`
	AlreadyConverted bool   `json:"already_converted"`
}

// QuoteConversion reports the outcome of turning a quote into a job.
type QuoteConversion struct {
	QuoteID          int64 `json:"quote_id"`
	JobID            int64 `json:"job_id"`
	AlreadyConverted bool  `json:"already_converted"`
	Job              *Job  `json:"job,omitempty"`
}

// InvoiceConversion reports the outcome of invoicing a quote.
type InvoiceConversion struct {
	QuoteID          int64    `json:"quote_id"`
	InvoiceID        int64    `json:"invoice_id"`
	AlreadyConverted bool     `json:"already_converted"`
	Invoice          *Invoice `json:"invoice,omitempty"`
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
