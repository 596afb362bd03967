package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/flooringops/opsdesk/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifySend delivers one notification.
	TaskNotifySend = "notify:send"
	// TaskInvoicesMarkOverdue flags unpaid invoices past their due date.
	TaskInvoicesMarkOverdue = "invoices:mark_overdue"
	// TaskQuotesFollowUp reports sent quotes that need chasing.
	TaskQuotesFollowUp = "quotes:follow_up"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewNotifyTask wraps a notification in an asynq task.
func NewNotifyTask(n shared.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifySend, data, asynq.MaxRetry(3)), nil
}

// NewMarkOverdueTask builds the hourly overdue sweep.
func NewMarkOverdueTask() *asynq.Task {
	return asynq.NewTask(TaskInvoicesMarkOverdue, nil)
}

// NewQuoteFollowUpTask builds the daily follow-up sweep.
func NewQuoteFollowUpTask() *asynq.Task {
	return asynq.NewTask(TaskQuotesFollowUp, nil)
}

// NewIdempotencyCleanupTask builds the daily key pruning task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}
