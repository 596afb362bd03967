package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flooringops/opsdesk/internal/lifecycle"
	"github.com/flooringops/opsdesk/internal/platform/blob"
	"github.com/flooringops/opsdesk/internal/pricing"
	"github.com/flooringops/opsdesk/internal/shared"
)

// CreateJob schedules a job directly for a customer.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest, actor shared.Actor) (*Job, error) {
	if err := requireStaff(actor); err != nil {
		return nil, s.failed("job.create", err)
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("job.create", err)
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
			return fmt.Errorf("customer %d: %w", req.CustomerID, err)
		}
		var err error
		id, err = tx.CreateJob(ctx, Job{
			CustomerID:          req.CustomerID,
			Title:               req.Title,
			ScheduledDate:       req.ScheduledDate,
			ScheduledTime:       req.ScheduledTime,
			Status:              lifecycle.JobScheduled,
			AcceptanceStatus:    lifecycle.AcceptancePending,
			Notes:               req.Notes,
			AssignedInstallerID: req.AssignedInstallerID,
			OwnerID:             actor.ID,
		})
		if err != nil {
			return fmt.Errorf("sales: create job: %w", err)
		}
		for i, in := range req.Items {
			if _, err := tx.InsertJobItem(ctx, JobItem{
				JobID:           id,
				InventoryItemID: in.InventoryItemID,
				Description:     strings.TrimSpace(in.Description),
				Quantity:        pricing.Quantity(in.Quantity),
				Position:        i,
			}); err != nil {
				return fmt.Errorf("sales: insert job item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.failed("job.create", err)
	}
	s.committed(ctx, actor, event{name: "job.created", entity: "job", id: id, message: "Job scheduled"})
	return s.repo.GetJob(ctx, id)
}

// GetJob returns a job. Installers only see jobs assigned to them.
func (s *Service) GetJob(ctx context.Context, id int64, actor shared.Actor) (*Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canActOn(j, actor); err != nil {
		return nil, err
	}
	return j, nil
}

// ListJobs returns a page of jobs. Installers are limited to their own jobs.
func (s *Service) ListJobs(ctx context.Context, req ListJobsRequest, actor shared.Actor) ([]Job, int, error) {
	if !actor.IsStaff() {
		id := actor.ID
		req.InstallerID = &id
	}
	return s.repo.ListJobs(ctx, req)
}

func canActOn(j *Job, actor shared.Actor) error {
	if actor.IsStaff() {
		return nil
	}
	if j.AssignedInstallerID == nil || *j.AssignedInstallerID != actor.ID {
		return ErrNotAssigned
	}
	return nil
}

// jobMutation computes the next state and any extra columns for a locked job.
type jobMutation func(j *Job) (lifecycle.JobState, map[string]interface{}, error)

func (s *Service) mutateJob(ctx context.Context, id int64, actor shared.Actor, name, message string, staffOnly bool, fn jobMutation) (*Job, error) {
	if err := s.commitJob(ctx, id, actor, name, message, staffOnly, fn); err != nil {
		return nil, err
	}
	return s.repo.GetJob(ctx, id)
}

// commitJob runs fn against the locked job and persists the result.
func (s *Service) commitJob(ctx context.Context, id int64, actor shared.Actor, name, message string, staffOnly bool, fn jobMutation) error {
	if staffOnly {
		if err := requireStaff(actor); err != nil {
			return s.failed(name, err)
		}
	}
	var next lifecycle.JobState
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		j, err := tx.LockJob(ctx, id)
		if err != nil {
			return err
		}
		if err := canActOn(j, actor); err != nil {
			return err
		}
		var extra map[string]interface{}
		next, extra, err = fn(j)
		if err != nil {
			return lifecycleErr(err)
		}
		updates := stateUpdates(next)
		for k, v := range extra {
			updates[k] = v
		}
		return tx.UpdateJob(ctx, id, updates)
	})
	if err != nil {
		return s.failed(name, err)
	}
	s.committed(ctx, actor, event{
		name:    name,
		entity:  "job",
		id:      id,
		message: message,
		meta:    map[string]any{"status": next.Status, "acceptance_status": next.Acceptance},
	})
	return nil
}

// AcceptJob records that the installer accepted the job.
func (s *Service) AcceptJob(ctx context.Context, id int64, actor shared.Actor) (*Job, error) {
	return s.mutateJob(ctx, id, actor, "job.accepted", "Job accepted", false, func(j *Job) (lifecycle.JobState, map[string]interface{}, error) {
		next, err := lifecycle.Accept(j.State())
		return next, nil, err
	})
}

// RejectJob records that the installer declined the job, with a reason.
func (s *Service) RejectJob(ctx context.Context, id int64, req RejectJobRequest, actor shared.Actor) (*Job, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("job.rejected", err)
	}
	return s.mutateJob(ctx, id, actor, "job.rejected", "Job rejected", false, func(j *Job) (lifecycle.JobState, map[string]interface{}, error) {
		next, err := lifecycle.Reject(j.State(), req.Reason)
		return next, nil, err
	})
}

// StartJob moves an accepted job into progress.
func (s *Service) StartJob(ctx context.Context, id int64, actor shared.Actor) (*Job, error) {
	return s.mutateJob(ctx, id, actor, "job.started", "Job started", false, func(j *Job) (lifecycle.JobState, map[string]interface{}, error) {
		next, err := lifecycle.Start(j.State(), s.cfg.JobStartProgress)
		return next, nil, err
	})
}

// UpdateJobProgress records progress on a running job.
func (s *Service) UpdateJobProgress(ctx context.Context, id int64, req ProgressRequest, actor shared.Actor) (*Job, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("job.progress", err)
	}
	return s.mutateJob(ctx, id, actor, "job.progress", "Progress updated", false, func(j *Job) (lifecycle.JobState, map[string]interface{}, error) {
		next, err := lifecycle.UpdateProgress(j.State(), req.ProgressPercentage)
		var extra map[string]interface{}
		if req.ProgressNotes != nil {
			extra = map[string]interface{}{"progress_notes": *req.ProgressNotes}
		}
		return next, extra, err
	})
}

// CancelJob stops a job that has not finished. Staff only.
func (s *Service) CancelJob(ctx context.Context, id int64, actor shared.Actor) (*Job, error) {
	return s.mutateJob(ctx, id, actor, "job.cancelled", "Job cancelled", true, func(j *Job) (lifecycle.JobState, map[string]interface{}, error) {
		next, err := lifecycle.Cancel(j.State())
		return next, nil, err
	})
}

// RescheduleJob moves a scheduled job to a new slot or installer and puts it
// back to pending acceptance. This is how a rejected job is recovered. Staff only.
func (s *Service) RescheduleJob(ctx context.Context, id int64, req RescheduleJobRequest, actor shared.Actor) (*Job, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.failed("job.rescheduled", err)
	}
	return s.mutateJob(ctx, id, actor, "job.rescheduled", "Job rescheduled", true, func(j *Job) (lifecycle.JobState, map[string]interface{}, error) {
		next, err := lifecycle.Reschedule(j.State())
		extra := make(map[string]interface{})
		if req.ScheduledDate != nil {
			extra["scheduled_date"] = *req.ScheduledDate
		}
		if req.ScheduledTime != nil {
			extra["scheduled_time"] = *req.ScheduledTime
		}
		if req.AssignedInstallerID != nil {
			extra["assigned_installer_id"] = *req.AssignedInstallerID
		}
		return next, extra, err
	})
}

var errPhotoStorage = fmt.Errorf("sales: photo storage is not configured: %w", shared.ErrInvalidState)

// CompleteJob finishes a running job. Details are validated before any photo
// is uploaded; only the returned references are stored on the job.
func (s *Service) CompleteJob(ctx context.Context, id int64, in CompleteJobInput, actor shared.Actor) (*Job, error) {
	const name = "job.completed"
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, s.failed(name, err)
	}
	if err := canActOn(j, actor); err != nil {
		return nil, s.failed(name, err)
	}
	completion := lifecycle.CompletionInput{Notes: in.CompletionNotes, HoursWorked: in.HoursWorked}
	if err := lifecycle.ValidateCompletion(j.State(), completion); err != nil {
		return nil, s.failed(name, lifecycleErr(err))
	}

	refs := make([]string, 0, len(in.Photos))
	for _, photo := range in.Photos {
		if s.blobs == nil {
			return nil, s.failed(name, errPhotoStorage)
		}
		ref, err := s.blobs.Upload(ctx, blob.JobPhotoKey(id, photo.Filename), photo.ContentType, photo.Body)
		if err != nil {
			s.discardPhotos(ctx, id, refs)
			if errors.Is(err, blob.ErrNotConfigured) {
				return nil, s.failed(name, errPhotoStorage)
			}
			return nil, s.failed(name, fmt.Errorf("sales: upload photo %s: %w", photo.Filename, err))
		}
		refs = append(refs, ref)
	}
	completion.PhotoRefs = refs

	err = s.commitJob(ctx, id, actor, name, "Job completed", false, func(j *Job) (lifecycle.JobState, map[string]interface{}, error) {
		next, err := lifecycle.Complete(j.State(), completion, s.now())
		return next, nil, err
	})
	if err != nil {
		s.discardPhotos(ctx, id, refs)
		return nil, err
	}
	return s.repo.GetJob(ctx, id)
}

// discardPhotos removes uploads whose job update did not commit. Refs that
// cannot be removed are logged so they can be cleaned up by hand.
func (s *Service) discardPhotos(ctx context.Context, jobID int64, refs []string) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.logger.Warn("orphaned job photo",
				slog.Int64("job_id", jobID),
				slog.String("ref", ref),
				slog.Any("error", err))
		}
	}
}
