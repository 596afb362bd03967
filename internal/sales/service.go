package sales

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flooringops/opsdesk/internal/lifecycle"
	"github.com/flooringops/opsdesk/internal/platform/httpx"
	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed payment submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// BlobStore uploads job photos and returns the reference to persist.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// CacheInvalidator drops cached read models after a write.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// EventRecorder counts domain events by outcome.
type EventRecorder interface {
	ObserveDomainEvent(event string, err error)
}

// Dependencies groups the collaborators a Service needs. Nil members are replaced by no-ops.
type Dependencies struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Blobs       BlobStore
	Notifier    shared.Notifier
	Cache       CacheInvalidator
	Events      EventRecorder
	Logger      *slog.Logger
}

// ServiceConfig groups tunables read from configuration.
type ServiceConfig struct {
	PaymentTermsDays int
	JobStartProgress int
	Now              func() time.Time
}

const (
	defaultPaymentTermsDays = 14
	paymentsModule          = "sales.payments"
)

// Service coordinates customers, enquiries, quotes, jobs and invoices.
type Service struct {
	repo     Repository
	audit    AuditPort
	idem     IdempotencyPort
	blobs    BlobStore
	notifier shared.Notifier
	cache    CacheInvalidator
	events   EventRecorder
	logger   *slog.Logger
	validate *validator.Validate
	cfg      ServiceConfig
}

// NewService builds Service.
func NewService(repo Repository, deps Dependencies, cfg ServiceConfig) *Service {
	if cfg.PaymentTermsDays <= 0 {
		cfg.PaymentTermsDays = defaultPaymentTermsDays
	}
	if cfg.JobStartProgress <= 0 || cfg.JobStartProgress >= 100 {
		cfg.JobStartProgress = lifecycle.DefaultStartProgress
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = shared.NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		repo:     repo,
		audit:    deps.Audit,
		idem:     deps.Idempotency,
		blobs:    deps.Blobs,
		notifier: deps.Notifier,
		cache:    deps.Cache,
		events:   deps.Events,
		logger:   deps.Logger,
		validate: httpx.NewValidator(),
		cfg:      cfg,
	}
}

func (s *Service) now() time.Time {
	return s.cfg.Now().UTC()
}

// event describes a committed write for the audit log and the notifier.
type event struct {
	name    string
	entity  string
	id      int64
	message string
	meta    map[string]any
}

// committed runs the post-commit side effects. None of them can fail the operation.
func (s *Service) committed(ctx context.Context, actor shared.Actor, ev event) {
	at := s.now()
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   ev.name,
			Entity:   ev.entity,
			EntityID: shared.EntityRef(ev.id),
			Meta:     ev.meta,
			At:       at,
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", ev.name), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
	if s.events != nil {
		s.events.ObserveDomainEvent(ev.name, nil)
	}
	s.notifier.Notify(ctx, shared.Notification{
		ID:       uuid.NewString(),
		Kind:     shared.NotifySuccess,
		ActorID:  actor.ID,
		Event:    ev.name,
		Entity:   ev.entity,
		EntityID: ev.id,
		Message:  ev.message,
		At:       at,
	})
}

// failed records a failed operation. The record keeps its last persisted state.
func (s *Service) failed(name string, err error) error {
	if err == nil {
		return nil
	}
	if s.events != nil {
		s.events.ObserveDomainEvent(name, err)
	}
	if !isClientError(err) {
		s.logger.Error("sales operation failed", slog.String("event", name), slog.Any("error", err))
	}
	return err
}

func isClientError(err error) bool {
	var verr validator.ValidationErrors
	return errors.As(err, &verr) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrConflict) ||
		errors.Is(err, shared.ErrInvalidState) ||
		errors.Is(err, shared.ErrForbidden)
}

// lifecycleErr lifts pure state machine errors into the shared error vocabulary.
func lifecycleErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lifecycle.ErrCompletionDetails):
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", shared.ErrInvalidState, err)
	case errors.Is(err, lifecycle.ErrUnknownStatus), errors.Is(err, pricing.ErrTotalMismatch):
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	return err
}

func requireStaff(actor shared.Actor) error {
	if !actor.IsStaff() {
		return ErrStaffOnly
	}
	return nil
}

func ptrInt64(v int64) *int64 {
	return &v
}
