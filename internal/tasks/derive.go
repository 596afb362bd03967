package tasks

import (
	"fmt"
	"time"

	"github.com/flooringops/opsdesk/internal/shared"
)

// Derive computes the system tasks visible to actor. Installers only see the
// jobs assigned to them; office staff see everything.
func Derive(s Snapshot, actor shared.Actor, now time.Time, followUpAfter time.Duration) []Task {
	var out []Task
	add := func(kind Kind, entity string, id int64, title string, due *time.Time, at time.Time) {
		out = append(out, Task{
			Key:       fmt.Sprintf("%s:%s:%d", kind, entity, id),
			Title:     title,
			DueDate:   due,
			Source:    SourceSystem,
			Kind:      kind,
			RefEntity: entity,
			RefID:     id,
			CreatedAt: at,
		})
	}

	for _, j := range s.PendingJobs {
		if !actor.IsStaff() && (j.AssignedInstallerID == nil || *j.AssignedInstallerID != actor.ID) {
			continue
		}
		add(KindAwaitingAcceptance, "job", j.ID, "Respond to job: "+j.Title, j.ScheduledDate, now)
	}
	if !actor.IsStaff() {
		return out
	}

	for _, e := range s.NewEnquiries {
		add(KindNewEnquiry, "enquiry", e.ID, "Contact new enquiry: "+e.Name, nil, e.CreatedAt)
	}
	for _, q := range s.SentQuotes {
		switch {
		case q.ExpiryDate != nil && q.ExpiryDate.Before(now):
			add(KindQuoteExpired, "quote", q.ID, "Quote expired: "+q.Name, q.ExpiryDate, now)
		case q.SentAt != nil && now.Sub(*q.SentAt) >= followUpAfter:
			due := q.SentAt.Add(followUpAfter)
			add(KindQuoteFollowUp, "quote", q.ID, "Follow up quote: "+q.Name, &due, *q.SentAt)
		}
	}
	for _, q := range s.ReadyQuotes {
		add(KindReadyToInvoice, "quote", q.ID, "Invoice quote: "+q.Name, nil, now)
	}
	for _, j := range s.RejectedJobs {
		title := "Reschedule rejected job: " + j.Title
		if j.RejectionReason != nil && *j.RejectionReason != "" {
			title += " (" + *j.RejectionReason + ")"
		}
		add(KindRescheduleJob, "job", j.ID, title, j.ScheduledDate, now)
	}
	for _, inv := range s.OverdueInvoices {
		due := inv.DueDate
		add(KindOverdueInvoice, "invoice", inv.ID,
			fmt.Sprintf("Chase overdue invoice %s (%.2f outstanding)", inv.InvoiceNumber, inv.Balance), &due, now)
	}
	for _, it := range s.LowStock {
		add(KindLowStock, "inventory_item", it.ID,
			fmt.Sprintf("Reorder %s (%.0f left, minimum %.0f)", it.Name, it.StockLevel, it.MinLevel), nil, now)
	}
	return out
}
