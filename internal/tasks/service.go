package tasks

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/flooringops/opsdesk/internal/platform/httpx"
	"github.com/flooringops/opsdesk/internal/shared"
)

// Service manages manual tasks and computes the system ones on read.
type Service struct {
	repo          RepositoryPort
	logger        *slog.Logger
	validate      *validator.Validate
	followUpAfter time.Duration
	now           func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger *slog.Logger
	// FollowUpDays is how long a sent quote waits before a follow-up task appears.
	FollowUpDays int
	Now          func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.FollowUpDays <= 0 {
		cfg.FollowUpDays = 7
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:          repo,
		logger:        cfg.Logger,
		validate:      httpx.NewValidator(),
		followUpAfter: time.Duration(cfg.FollowUpDays) * 24 * time.Hour,
		now:           cfg.Now,
	}
}

// Create stores a manual task owned by actor.
func (s *Service) Create(ctx context.Context, req CreateTaskRequest, actor shared.Actor) (*Task, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	id, err := s.repo.Insert(ctx, Task{
		OwnerID:     actor.ID,
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
		DueDate:     req.DueDate,
		RefEntity:   req.RefEntity,
		RefID:       req.RefID,
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) owned(ctx context.Context, id int64, actor shared.Actor) (*Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != actor.ID {
		return nil, ErrNotOwner
	}
	return t, nil
}

// Update changes a manual task. Only its owner may touch it.
func (s *Service) Update(ctx context.Context, id int64, req UpdateTaskRequest, actor shared.Actor) (*Task, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, id, actor); err != nil {
		return nil, err
	}
	updates := make(map[string]interface{})
	if req.Title != nil {
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.DueDate != nil {
		updates["due_date"] = *req.DueDate
	}
	if req.Completed != nil {
		updates["completed"] = *req.Completed
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Complete marks a manual task done.
func (s *Service) Complete(ctx context.Context, id int64, actor shared.Actor) (*Task, error) {
	done := true
	return s.Update(ctx, id, UpdateTaskRequest{Completed: &done}, actor)
}

// Delete removes a manual task.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	if _, err := s.owned(ctx, id, actor); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// List merges the actor's manual tasks with the derived system tasks. Open
// tasks come first, then by due date with undated tasks last.
func (s *Service) List(ctx context.Context, req ListRequest, actor shared.Actor) ([]Task, error) {
	var out []Task
	if req.Source == "" || req.Source == SourceManual {
		manual, err := s.repo.ListManual(ctx, actor.ID, req.IncludeCompleted)
		if err != nil {
			return nil, err
		}
		out = append(out, manual...)
	}
	if req.Source == "" || req.Source == SourceSystem {
		now := s.now().UTC()
		snap, err := s.repo.Snapshot(ctx, now)
		if err != nil {
			return nil, err
		}
		derived := Derive(snap, actor, now, s.followUpAfter)
		s.logger.Debug("system tasks derived", slog.String("actor", actor.ID), slog.Int("count", len(derived)))
		out = append(out, derived...)
	}
	sortTasks(out)
	return out, nil
}

// Outstanding counts the open system tasks an office user would see, by kind.
func (s *Service) Outstanding(ctx context.Context) (map[Kind]int, error) {
	now := s.now().UTC()
	snap, err := s.repo.Snapshot(ctx, now)
	if err != nil {
		return nil, err
	}
	counts := make(map[Kind]int)
	for _, t := range Derive(snap, shared.Actor{ID: "system", Role: shared.RoleAdmin}, now, s.followUpAfter) {
		counts[t.Kind]++
	}
	return counts, nil
}

func sortTasks(list []Task) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Completed != b.Completed {
			return !a.Completed
		}
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		return a.Key < b.Key
	})
}
