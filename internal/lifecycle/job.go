package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCompletionDetails is returned when a job is completed without notes or hours.
var ErrCompletionDetails = errors.New("lifecycle: completion notes and hours worked are required")

// DefaultStartProgress seeds progress when a job starts with none recorded.
const DefaultStartProgress = 10

// JobStatus is the lifecycle dimension of a job.
type JobStatus string

const (
	JobScheduled  JobStatus = "scheduled"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is a known lifecycle state.
func (s JobStatus) Valid() bool {
	switch s {
	case JobScheduled, JobInProgress, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// Acceptance is the installer-side dimension of a job.
type Acceptance string

const (
	AcceptancePending  Acceptance = "pending"
	AcceptanceAccepted Acceptance = "accepted"
	AcceptanceRejected Acceptance = "rejected"
)

// Valid reports whether a is a known acceptance state.
func (a Acceptance) Valid() bool {
	switch a {
	case AcceptancePending, AcceptanceAccepted, AcceptanceRejected:
		return true
	}
	return false
}

// CanStart reports whether the job may move scheduled → in_progress.
func CanStart(acc Acceptance, st JobStatus) bool {
	return acc == AcceptanceAccepted && st == JobScheduled
}

// CanComplete reports whether the job may move in_progress → completed.
func CanComplete(acc Acceptance, st JobStatus) bool {
	return acc == AcceptanceAccepted && st == JobInProgress
}

// CanCancel reports whether the job may be cancelled.
func CanCancel(st JobStatus) bool {
	return st == JobScheduled || st == JobInProgress
}

// CanRespond reports whether the installer may still accept or reject.
func CanRespond(acc Acceptance, st JobStatus) bool {
	return acc == AcceptancePending && st == JobScheduled
}

// CanReschedule reports whether staff may move the job to a new slot.
func CanReschedule(st JobStatus) bool {
	return st == JobScheduled
}

// JobAction names an action offered on a job.
type JobAction string

const (
	JobActionAccept     JobAction = "accept"
	JobActionReject     JobAction = "reject"
	JobActionStart      JobAction = "start"
	JobActionProgress   JobAction = "update_progress"
	JobActionComplete   JobAction = "complete"
	JobActionCancel     JobAction = "cancel"
	JobActionReschedule JobAction = "reschedule"
)

// JobState is the part of a job the machines read and write.
type JobState struct {
	Status             JobStatus
	Acceptance         Acceptance
	ProgressPercentage int
	CompletionNotes    string
	HoursWorked        float64
	CompletionDate     *time.Time
	PhotoRefs          []string
	RejectionReason    string
}

// Actions lists what may be done with the job in its current state.
func (s JobState) Actions() []JobAction {
	var actions []JobAction
	if CanRespond(s.Acceptance, s.Status) {
		actions = append(actions, JobActionAccept, JobActionReject)
	}
	if CanStart(s.Acceptance, s.Status) {
		actions = append(actions, JobActionStart)
	}
	if s.Status == JobInProgress {
		actions = append(actions, JobActionProgress)
	}
	if CanComplete(s.Acceptance, s.Status) {
		actions = append(actions, JobActionComplete)
	}
	if CanCancel(s.Status) {
		actions = append(actions, JobActionCancel)
	}
	if CanReschedule(s.Status) {
		actions = append(actions, JobActionReschedule)
	}
	return actions
}

func invalid(s JobState, action JobAction) error {
	return fmt.Errorf("%w: job %s/%s cannot %s", ErrInvalidTransition, s.Status, s.Acceptance, action)
}

// Accept records installer acceptance.
func Accept(s JobState) (JobState, error) {
	if !CanRespond(s.Acceptance, s.Status) {
		return s, invalid(s, JobActionAccept)
	}
	s.Acceptance = AcceptanceAccepted
	s.RejectionReason = ""
	return s, nil
}

// Reject records installer rejection. A rejected job cannot start until rescheduled.
func Reject(s JobState, reason string) (JobState, error) {
	if !CanRespond(s.Acceptance, s.Status) {
		return s, invalid(s, JobActionReject)
	}
	s.Acceptance = AcceptanceRejected
	s.RejectionReason = strings.TrimSpace(reason)
	return s, nil
}

// Start moves an accepted job into progress, seeding progress when unset.
func Start(s JobState, seed int) (JobState, error) {
	if !CanStart(s.Acceptance, s.Status) {
		return s, invalid(s, JobActionStart)
	}
	if seed <= 0 || seed >= 100 {
		seed = DefaultStartProgress
	}
	s.Status = JobInProgress
	if s.ProgressPercentage <= 0 {
		s.ProgressPercentage = seed
	}
	return s, nil
}

// UpdateProgress sets progress on a running job. 100 is reserved for completion.
func UpdateProgress(s JobState, pct int) (JobState, error) {
	if s.Status != JobInProgress {
		return s, invalid(s, JobActionProgress)
	}
	switch {
	case pct < 0:
		pct = 0
	case pct > 99:
		pct = 99
	}
	s.ProgressPercentage = pct
	return s, nil
}

// CompletionInput carries what the installer submits when finishing a job.
type CompletionInput struct {
	Notes       string
	HoursWorked float64
	PhotoRefs   []string
}

// ValidateCompletion checks the transition and the submitted details without
// changing anything, so callers can verify before uploading photos.
func ValidateCompletion(s JobState, in CompletionInput) error {
	if !CanComplete(s.Acceptance, s.Status) {
		return invalid(s, JobActionComplete)
	}
	if strings.TrimSpace(in.Notes) == "" || !(in.HoursWorked > 0) {
		return ErrCompletionDetails
	}
	return nil
}

// Complete finishes the job: progress 100, completion date stamped, photos appended.
func Complete(s JobState, in CompletionInput, now time.Time) (JobState, error) {
	if err := ValidateCompletion(s, in); err != nil {
		return s, err
	}
	s.Status = JobCompleted
	s.ProgressPercentage = 100
	s.CompletionNotes = strings.TrimSpace(in.Notes)
	s.HoursWorked = in.HoursWorked
	completed := now
	s.CompletionDate = &completed
	if len(in.PhotoRefs) > 0 {
		refs := make([]string, 0, len(s.PhotoRefs)+len(in.PhotoRefs))
		refs = append(refs, s.PhotoRefs...)
		s.PhotoRefs = append(refs, in.PhotoRefs...)
	}
	return s, nil
}

// Cancel stops a job that has not finished.
func Cancel(s JobState) (JobState, error) {
	if !CanCancel(s.Status) {
		return s, invalid(s, JobActionCancel)
	}
	s.Status = JobCancelled
	return s, nil
}

// Reschedule is the staff recovery path after a rejection: the job goes back
// to pending acceptance for its (possibly new) installer.
func Reschedule(s JobState) (JobState, error) {
	if !CanReschedule(s.Status) {
		return s, invalid(s, JobActionReschedule)
	}
	s.Acceptance = AcceptancePending
	s.RejectionReason = ""
	return s, nil
}
