package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/flooringops/opsdesk/internal/jobs"
	"github.com/flooringops/opsdesk/internal/shared"
	"github.com/flooringops/opsdesk/internal/tasks"
)

// OverdueMarker is the sales operation behind the overdue sweep.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, now time.Time) ([]int64, error)
}

// TaskCounter reports open system tasks by kind.
type TaskCounter interface {
	Outstanding(ctx context.Context) (map[tasks.Kind]int, error)
}

// KeyPruner drops idempotency keys older than the retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Sweeps holds the scheduled jobs and the notification consumer.
type Sweeps struct {
	Invoices OverdueMarker
	Tasks    TaskCounter
	Keys     KeyPruner
	// KeyRetention defaults to 30 days.
	KeyRetention time.Duration
	Notifier     shared.Notifier
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

func (j *Sweeps) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *Sweeps) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// HandleMarkOverdue runs invoices:mark_overdue.
func (j *Sweeps) HandleMarkOverdue(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Invoices == nil {
		return errors.New("mark overdue: handler not configured")
	}
	tracker := j.Metrics.Track(TaskInvoicesMarkOverdue)
	defer func() { err = tracker.End(err) }()

	logger := j.logger(TaskInvoicesMarkOverdue)
	start := time.Now()
	ids, err := j.Invoices.MarkOverdue(ctx, j.now())
	if err != nil {
		logger.Error("sweep failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskInvoicesMarkOverdue, len(ids))
	logger.Info("completed overdue sweep", slog.Int("invoices", len(ids)), slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleQuoteFollowUp runs quotes:follow_up and raises one notification
// summarising the quotes that need chasing.
func (j *Sweeps) HandleQuoteFollowUp(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Tasks == nil {
		return errors.New("quote follow-up: handler not configured")
	}
	tracker := j.Metrics.Track(TaskQuotesFollowUp)
	defer func() { err = tracker.End(err) }()

	logger := j.logger(TaskQuotesFollowUp)
	counts, err := j.Tasks.Outstanding(ctx)
	if err != nil {
		logger.Error("count outstanding tasks", slog.Any("error", err))
		return err
	}
	followUps, expired := counts[tasks.KindQuoteFollowUp], counts[tasks.KindQuoteExpired]
	j.Metrics.AddAffected(TaskQuotesFollowUp, followUps+expired)
	logger.Info("completed follow-up scan", slog.Int("follow_up", followUps), slog.Int("expired", expired))
	if followUps+expired == 0 || j.Notifier == nil {
		return nil
	}
	j.Notifier.Notify(ctx, shared.Notification{
		Kind:    shared.NotifyInfo,
		ActorID: "system",
		Event:   "quote.follow_up_due",
		Entity:  "quote",
		Message: fmt.Sprintf("%d quotes need a follow-up, %d have expired", followUps, expired),
		At:      j.now(),
	})
	return nil
}

// HandleIdempotencyCleanup runs idempotency:cleanup.
func (j *Sweeps) HandleIdempotencyCleanup(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	retention := j.KeyRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if err := j.Keys.Cleanup(ctx, retention); err != nil {
		j.logger(TaskIdempotencyCleanup).Error("prune keys", slog.Any("error", err))
		return err
	}
	return nil
}

// NotificationSink delivers a decoded notification. The default sink logs it.
type NotificationSink func(ctx context.Context, n shared.Notification) error

// NotifyHandler consumes notify:send tasks.
func NotifyHandler(logger *slog.Logger, metrics *jobmetrics.Metrics, sink NotificationSink) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func(_ context.Context, n shared.Notification) error {
			logger.Info("notification",
				slog.String("id", n.ID),
				slog.String("kind", string(n.Kind)),
				slog.String("event", n.Event),
				slog.String("entity", n.Entity),
				slog.Int64("entity_id", n.EntityID),
				slog.String("actor", n.ActorID),
				slog.String("message", n.Message),
			)
			return nil
		}
	}
	return func(ctx context.Context, t *asynq.Task) (err error) {
		var n shared.Notification
		if err := json.Unmarshal(t.Payload(), &n); err != nil {
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		tracker := metrics.Track(TaskNotifySend)
		defer func() { err = tracker.End(err) }()
		return sink(ctx, n)
	}
}
