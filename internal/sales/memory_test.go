package sales

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/flooringops/opsdesk/internal/lifecycle"
)

// memoryRepo is an in-memory Repository. WithTx snapshots every table and
// restores it when fn fails, so tests can observe rollback.
type memoryRepo struct {
	customers map[int64]Customer
	enquiries map[int64]Enquiry
	quotes    map[int64]Quote
	jobs      map[int64]Job
	invoices  map[int64]Invoice
	nextID    int64
	failOn    map[string]error
	now       time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		customers: make(map[int64]Customer),
		enquiries: make(map[int64]Enquiry),
		quotes:    make(map[int64]Quote),
		jobs:      make(map[int64]Job),
		invoices:  make(map[int64]Invoice),
		failOn:    make(map[string]error),
		now:       time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) fail(op string) error {
	return m.failOn[op]
}

type memorySnapshot struct {
	customers map[int64]Customer
	enquiries map[int64]Enquiry
	quotes    map[int64]Quote
	jobs      map[int64]Job
	invoices  map[int64]Invoice
	nextID    int64
}

func (m *memoryRepo) snapshot() memorySnapshot {
	s := memorySnapshot{
		customers: make(map[int64]Customer, len(m.customers)),
		enquiries: make(map[int64]Enquiry, len(m.enquiries)),
		quotes:    make(map[int64]Quote, len(m.quotes)),
		jobs:      make(map[int64]Job, len(m.jobs)),
		invoices:  make(map[int64]Invoice, len(m.invoices)),
		nextID:    m.nextID,
	}
	for k, v := range m.customers {
		s.customers[k] = v
	}
	for k, v := range m.enquiries {
		s.enquiries[k] = v
	}
	for k, v := range m.quotes {
		v.Items = append([]QuoteItem(nil), v.Items...)
		s.quotes[k] = v
	}
	for k, v := range m.jobs {
		v.Items = append([]JobItem(nil), v.Items...)
		v.PhotoRefs = append([]string(nil), v.PhotoRefs...)
		s.jobs[k] = v
	}
	for k, v := range m.invoices {
		v.Payments = append([]Payment(nil), v.Payments...)
		s.invoices[k] = v
	}
	return s
}

func (m *memoryRepo) restore(s memorySnapshot) {
	m.customers = s.customers
	m.enquiries = s.enquiries
	m.quotes = s.quotes
	m.jobs = s.jobs
	m.invoices = s.invoices
	m.nextID = s.nextID
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if err := m.fail("WithTx"); err != nil {
		return err
	}
	snap := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func strVal(v interface{}) *string {
	switch t := v.(type) {
	case string:
		return &t
	case *string:
		return t
	}
	return nil
}

func timeVal(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

func int64Val(v interface{}) *int64 {
	switch t := v.(type) {
	case int64:
		return &t
	case *int64:
		return t
	}
	return nil
}

// ---- customers

func (m *memoryRepo) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memoryRepo) ListCustomers(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	var out []Customer
	for _, c := range m.customers {
		if req.Stage != nil && c.LifecycleStage != *req.Stage {
			continue
		}
		if req.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(req.Search)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) CreateCustomer(ctx context.Context, c Customer) (int64, error) {
	if err := m.fail("CreateCustomer"); err != nil {
		return 0, err
	}
	c.ID = m.id()
	c.CreatedAt, c.UpdatedAt = m.now, m.now
	m.customers[c.ID] = c
	return c.ID, nil
}

func (m *memoryRepo) UpdateCustomer(ctx context.Context, id int64, updates map[string]interface{}) error {
	c, ok := m.customers[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "name":
			c.Name = v.(string)
		case "phone":
			c.Phone = v.(string)
		case "email":
			c.Email = strVal(v)
		case "address":
			c.Address = strVal(v)
		case "lifecycle_stage":
			c.LifecycleStage = LifecycleStage(v.(string))
		case "lead_source":
			c.LeadSource = strVal(v)
		case "assigned_owner_id":
			c.AssignedOwnerID = strVal(v)
		case "notes":
			c.Notes = strVal(v)
		default:
			return fmt.Errorf("memory: unknown customer column %s", k)
		}
	}
	m.customers[id] = c
	return nil
}

func (m *memoryRepo) DeleteCustomer(ctx context.Context, id int64) error {
	if _, ok := m.customers[id]; !ok {
		return ErrNotFound
	}
	delete(m.customers, id)
	return nil
}

func (m *memoryRepo) CountCustomerDependents(ctx context.Context, id int64) (int, error) {
	n := 0
	for _, q := range m.quotes {
		if q.CustomerID == id {
			n++
		}
	}
	for _, j := range m.jobs {
		if j.CustomerID == id {
			n++
		}
	}
	for _, inv := range m.invoices {
		if inv.CustomerID == id {
			n++
		}
	}
	return n, nil
}

// ---- enquiries

func (m *memoryRepo) GetEnquiry(ctx context.Context, id int64) (*Enquiry, error) {
	e, ok := m.enquiries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *memoryRepo) LockEnquiry(ctx context.Context, id int64) (*Enquiry, error) {
	return m.GetEnquiry(ctx, id)
}

func (m *memoryRepo) ListEnquiries(ctx context.Context, req ListEnquiriesRequest) ([]Enquiry, int, error) {
	var out []Enquiry
	for _, e := range m.enquiries {
		if req.Status != nil && e.Status != *req.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) CreateEnquiry(ctx context.Context, e Enquiry) (int64, error) {
	e.ID = m.id()
	e.CreatedAt, e.UpdatedAt = m.now, m.now
	m.enquiries[e.ID] = e
	return e.ID, nil
}

func (m *memoryRepo) UpdateEnquiry(ctx context.Context, id int64, updates map[string]interface{}) error {
	if err := m.fail("UpdateEnquiry"); err != nil {
		return err
	}
	e, ok := m.enquiries[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "name":
			e.Name = v.(string)
		case "email":
			e.Email = strVal(v)
		case "phone":
			e.Phone = strVal(v)
		case "address":
			e.Address = strVal(v)
		case "enquiry_type":
			e.EnquiryType = strVal(v)
		case "source":
			e.Source = strVal(v)
		case "description":
			e.Description = strVal(v)
		case "status":
			e.Status = lifecycle.EnquiryStatus(v.(string))
		case "converted_to_customer_id":
			e.ConvertedToCustomerID = int64Val(v)
		case "converted_to_quote_id":
			e.ConvertedToQuoteID = int64Val(v)
		default:
			return fmt.Errorf("memory: unknown enquiry column %s", k)
		}
	}
	m.enquiries[id] = e
	return nil
}

func (m *memoryRepo) DeleteEnquiry(ctx context.Context, id int64) error {
	if _, ok := m.enquiries[id]; !ok {
		return ErrNotFound
	}
	delete(m.enquiries, id)
	return nil
}

// ---- quotes

func (m *memoryRepo) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	q, ok := m.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.Items = append([]QuoteItem{}, q.Items...)
	sort.SliceStable(q.Items, func(i, j int) bool { return q.Items[i].Position < q.Items[j].Position })
	if c, ok := m.customers[q.CustomerID]; ok {
		q.CustomerName = c.Name
	}
	return &q, nil
}

func (m *memoryRepo) LockQuote(ctx context.Context, id int64) (*Quote, error) {
	return m.GetQuote(ctx, id)
}

func (m *memoryRepo) ListQuotes(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error) {
	var out []Quote
	for id := range m.quotes {
		q, _ := m.GetQuote(ctx, id)
		if req.CustomerID != nil && q.CustomerID != *req.CustomerID {
			continue
		}
		if req.Status != nil && q.Status != *req.Status {
			continue
		}
		q.Items = nil
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) CreateQuote(ctx context.Context, q Quote) (int64, error) {
	if err := m.fail("CreateQuote"); err != nil {
		return 0, err
	}
	q.ID = m.id()
	q.Items = nil
	q.CreatedAt, q.UpdatedAt = m.now, m.now
	m.quotes[q.ID] = q
	return q.ID, nil
}

func (m *memoryRepo) UpdateQuote(ctx context.Context, id int64, updates map[string]interface{}) error {
	if err := m.fail("UpdateQuote"); err != nil {
		return err
	}
	q, ok := m.quotes[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "name":
			q.Name = v.(string)
		case "description":
			q.Description = strVal(v)
		case "notes":
			q.Notes = strVal(v)
		case "subtotal":
			q.Subtotal = v.(float64)
		case "discount":
			q.Discount = v.(float64)
		case "tax":
			q.Tax = v.(float64)
		case "total_amount":
			q.TotalAmount = v.(float64)
		case "status":
			q.Status = lifecycle.QuoteStatus(v.(string))
		case "expiry_date":
			q.ExpiryDate = timeVal(v)
		case "job_id":
			q.JobID = int64Val(v)
		case "invoice_id":
			q.InvoiceID = int64Val(v)
		case "sent_at":
			q.SentAt = timeVal(v)
		case "accepted_at":
			q.AcceptedAt = timeVal(v)
		case "rejected_at":
			q.RejectedAt = timeVal(v)
		case "invoiced_at":
			q.InvoicedAt = timeVal(v)
		default:
			return fmt.Errorf("memory: unknown quote column %s", k)
		}
	}
	m.quotes[id] = q
	return nil
}

func (m *memoryRepo) DeleteQuote(ctx context.Context, id int64) error {
	if _, ok := m.quotes[id]; !ok {
		return ErrNotFound
	}
	delete(m.quotes, id)
	return nil
}

func (m *memoryRepo) InsertQuoteItem(ctx context.Context, item QuoteItem) (int64, error) {
	if err := m.fail("InsertQuoteItem"); err != nil {
		return 0, err
	}
	q, ok := m.quotes[item.QuoteID]
	if !ok {
		return 0, ErrNotFound
	}
	item.ID = m.id()
	q.Items = append(q.Items, item)
	m.quotes[q.ID] = q
	return item.ID, nil
}

func (m *memoryRepo) UpdateQuoteItem(ctx context.Context, item QuoteItem) error {
	q, ok := m.quotes[item.QuoteID]
	if !ok {
		return ErrNotFound
	}
	for i := range q.Items {
		if q.Items[i].ID == item.ID {
			q.Items[i] = item
			m.quotes[q.ID] = q
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryRepo) DeleteQuoteItem(ctx context.Context, quoteID, itemID int64) error {
	q, ok := m.quotes[quoteID]
	if !ok {
		return ErrNotFound
	}
	for i := range q.Items {
		if q.Items[i].ID == itemID {
			q.Items = append(q.Items[:i:i], q.Items[i+1:]...)
			m.quotes[quoteID] = q
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryRepo) DeleteQuoteItems(ctx context.Context, quoteID int64) error {
	q, ok := m.quotes[quoteID]
	if !ok {
		return ErrNotFound
	}
	q.Items = nil
	m.quotes[quoteID] = q
	return nil
}

// ---- jobs

func (m *memoryRepo) GetJob(ctx context.Context, id int64) (*Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j.Items = append([]JobItem{}, j.Items...)
	j.PhotoRefs = append([]string{}, j.PhotoRefs...)
	if c, ok := m.customers[j.CustomerID]; ok {
		j.CustomerName = c.Name
	}
	return &j, nil
}

func (m *memoryRepo) LockJob(ctx context.Context, id int64) (*Job, error) {
	return m.GetJob(ctx, id)
}

func (m *memoryRepo) ListJobs(ctx context.Context, req ListJobsRequest) ([]Job, int, error) {
	var out []Job
	for id := range m.jobs {
		j, _ := m.GetJob(ctx, id)
		if req.Status != nil && j.Status != *req.Status {
			continue
		}
		if req.Acceptance != nil && j.AcceptanceStatus != *req.Acceptance {
			continue
		}
		if req.InstallerID != nil && (j.AssignedInstallerID == nil || *j.AssignedInstallerID != *req.InstallerID) {
			continue
		}
		if req.CustomerID != nil && j.CustomerID != *req.CustomerID {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, len(out), nil
}

func (m *memoryRepo) CreateJob(ctx context.Context, j Job) (int64, error) {
	if err := m.fail("CreateJob"); err != nil {
		return 0, err
	}
	j.ID = m.id()
	j.Items = nil
	j.PhotoRefs = nonNilStrings(j.PhotoRefs)
	j.CreatedAt, j.UpdatedAt = m.now, m.now
	m.jobs[j.ID] = j
	return j.ID, nil
}

func (m *memoryRepo) UpdateJob(ctx context.Context, id int64, updates map[string]interface{}) error {
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "title":
			j.Title = v.(string)
		case "scheduled_date":
			j.ScheduledDate = timeVal(v)
		case "scheduled_time":
			j.ScheduledTime = strVal(v)
		case "status":
			j.Status = lifecycle.JobStatus(v.(string))
		case "acceptance_status":
			j.AcceptanceStatus = lifecycle.Acceptance(v.(string))
		case "progress_percentage":
			j.ProgressPercentage = v.(int)
		case "notes":
			j.Notes = strVal(v)
		case "progress_notes":
			j.ProgressNotes = strVal(v)
		case "completion_notes":
			j.CompletionNotes = strVal(v)
		case "hours_worked":
			h := v.(float64)
			j.HoursWorked = &h
		case "completion_date":
			j.CompletionDate = timeVal(v)
		case "photo_refs":
			j.PhotoRefs = append([]string{}, v.([]string)...)
		case "assigned_installer_id":
			j.AssignedInstallerID = strVal(v)
		case "rejection_reason":
			j.RejectionReason = strVal(v)
		default:
			return fmt.Errorf("memory: unknown job column %s", k)
		}
	}
	m.jobs[id] = j
	return nil
}

func (m *memoryRepo) InsertJobItem(ctx context.Context, item JobItem) (int64, error) {
	if err := m.fail("InsertJobItem"); err != nil {
		return 0, err
	}
	j, ok := m.jobs[item.JobID]
	if !ok {
		return 0, ErrNotFound
	}
	item.ID = m.id()
	j.Items = append(j.Items, item)
	m.jobs[j.ID] = j
	return item.ID, nil
}

// ---- invoices

func (m *memoryRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	inv.Payments = append([]Payment(nil), inv.Payments...)
	if c, ok := m.customers[inv.CustomerID]; ok {
		inv.CustomerName = c.Name
	}
	return &inv, nil
}

func (m *memoryRepo) LockInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memoryRepo) ListInvoices(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		if req.Status != nil && inv.PaymentStatus != *req.Status {
			continue
		}
		if req.CustomerID != nil && inv.CustomerID != *req.CustomerID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	inv.ID = m.id()
	inv.CreatedAt, inv.UpdatedAt = m.now, m.now
	m.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (m *memoryRepo) UpdateInvoice(ctx context.Context, id int64, updates map[string]interface{}) error {
	inv, ok := m.invoices[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "amount_paid":
			inv.AmountPaid = v.(float64)
		case "payment_status":
			inv.PaymentStatus = PaymentStatus(v.(string))
		case "due_date":
			inv.DueDate = v.(time.Time)
		default:
			return fmt.Errorf("memory: unknown invoice column %s", k)
		}
	}
	m.invoices[id] = inv
	return nil
}

func (m *memoryRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	inv, ok := m.invoices[p.InvoiceID]
	if !ok {
		return 0, ErrNotFound
	}
	if p.IdempotencyKey != nil {
		for _, other := range m.invoices {
			for _, existing := range other.Payments {
				if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *p.IdempotencyKey {
					return 0, ErrDuplicatePayment
				}
			}
		}
	}
	p.ID = m.id()
	inv.Payments = append(inv.Payments, p)
	m.invoices[inv.ID] = inv
	return p.ID, nil
}

func (m *memoryRepo) NextInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	prefix := fmt.Sprintf("INV-%s-", at.Format("200601"))
	n := 1
	for _, inv := range m.invoices {
		if strings.HasPrefix(inv.InvoiceNumber, prefix) {
			n++
		}
	}
	return fmt.Sprintf("%s%04d", prefix, n), nil
}

func (m *memoryRepo) MarkInvoicesOverdue(ctx context.Context, asOf time.Time) ([]int64, error) {
	var ids []int64
	for id, inv := range m.invoices {
		if inv.DueDate.Before(asOf) && inv.AmountPaid < inv.TotalAmount && inv.PaymentStatus != PaymentOverdue {
			inv.PaymentStatus = PaymentOverdue
			m.invoices[id] = inv
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
