package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/flooringops/opsdesk/internal/shared"
)

// Enqueuer submits a prepared task.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) error
}

// Notifier turns notifications into notify:send tasks. Enqueue failures are
// logged and dropped.
type Notifier struct {
	queue   Enqueuer
	logger  *slog.Logger
	timeout time.Duration
}

// NewNotifier builds a Notifier on top of queue.
func NewNotifier(queue Enqueuer, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{queue: queue, logger: logger, timeout: 2 * time.Second}
}

// Notify implements shared.Notifier.
func (n *Notifier) Notify(ctx context.Context, note shared.Notification) {
	if n == nil || n.queue == nil {
		return
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.At.IsZero() {
		note.At = time.Now().UTC()
	}
	task, err := NewNotifyTask(note)
	if err != nil {
		n.logger.Warn("encode notification", slog.String("event", note.Event), slog.Any("error", err))
		return
	}
	// Delivery outlives the request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.queue.Enqueue(ctx, task); err != nil {
		n.logger.Warn("enqueue notification", slog.String("event", note.Event), slog.Any("error", err))
	}
}
