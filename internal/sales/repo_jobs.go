package sales

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const jobColumns = `j.id, j.customer_id, j.quote_id, j.title, j.scheduled_date, j.scheduled_time,
	j.status, j.acceptance_status, j.progress_percentage, j.notes, j.progress_notes,
	j.completion_notes, j.hours_worked, j.completion_date, j.photo_refs, j.assigned_installer_id,
	j.rejection_reason, j.owner_id, j.created_at, j.updated_at, COALESCE(c.name, '') AS customer_name`

const jobFrom = `FROM jobs j LEFT JOIN customers c ON c.id = j.customer_id`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j     Job
		hours pgtype.Numeric
	)
	err := row.Scan(
		&j.ID, &j.CustomerID, &j.QuoteID, &j.Title, &j.ScheduledDate, &j.ScheduledTime,
		&j.Status, &j.AcceptanceStatus, &j.ProgressPercentage, &j.Notes, &j.ProgressNotes,
		&j.CompletionNotes, &hours, &j.CompletionDate, &j.PhotoRefs, &j.AssignedInstallerID,
		&j.RejectionReason, &j.OwnerID, &j.CreatedAt, &j.UpdatedAt, &j.CustomerName,
	)
	if err != nil {
		return nil, notFound(err)
	}
	j.HoursWorked = numericPtr(hours)
	j.PhotoRefs = nonNilStrings(j.PhotoRefs)
	return &j, nil
}

func (r *PGRepository) loadJob(ctx context.Context, query string, id int64) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	items, err := r.jobItems(ctx, id)
	if err != nil {
		return nil, err
	}
	j.Items = items
	return j, nil
}

// GetJob loads a job with its items.
func (r *PGRepository) GetJob(ctx context.Context, id int64) (*Job, error) {
	return r.loadJob(ctx, `SELECT `+jobColumns+` `+jobFrom+` WHERE j.id = $1`, id)
}

// LockJob loads a job with its items and locks the job row.
func (r *PGRepository) LockJob(ctx context.Context, id int64) (*Job, error) {
	return r.loadJob(ctx, `SELECT `+jobColumns+` `+jobFrom+` WHERE j.id = $1 FOR UPDATE OF j`, id)
}

func (r *PGRepository) jobItems(ctx context.Context, jobID int64) ([]JobItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, job_id, inventory_item_id, description, quantity, position
		FROM job_items WHERE job_id = $1
		ORDER BY position, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []JobItem{}
	for rows.Next() {
		var (
			it       JobItem
			quantity pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.JobID, &it.InventoryItemID, &it.Description, &quantity, &it.Position); err != nil {
			return nil, err
		}
		it.Quantity = numericFloat(quantity)
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListJobs returns jobs ordered by schedule plus the unpaged total.
func (r *PGRepository) ListJobs(ctx context.Context, req ListJobsRequest) ([]Job, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("j.status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.Acceptance != nil {
		conditions = append(conditions, fmt.Sprintf("j.acceptance_status = $%d", argPos))
		args = append(args, string(*req.Acceptance))
		argPos++
	}
	if req.InstallerID != nil {
		conditions = append(conditions, fmt.Sprintf("j.assigned_installer_id = $%d", argPos))
		args = append(args, *req.InstallerID)
		argPos++
	}
	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("j.customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	where := whereClause(conditions)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM jobs j "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY j.scheduled_date NULLS LAST, j.id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, jobFrom, where, argPos, argPos+1)
	args = append(args, limitOrDefault(req.Limit), req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}

// CreateJob inserts a job header and returns its id.
func (r *PGRepository) CreateJob(ctx context.Context, j Job) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO jobs (customer_id, quote_id, title, scheduled_date, scheduled_time, status,
			acceptance_status, progress_percentage, notes, photo_refs, assigned_installer_id,
			owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id`,
		j.CustomerID, j.QuoteID, j.Title, j.ScheduledDate, j.ScheduledTime, string(j.Status),
		string(j.AcceptanceStatus), j.ProgressPercentage, j.Notes, nonNilStrings(j.PhotoRefs),
		j.AssignedInstallerID, j.OwnerID,
	).Scan(&id)
	return id, err
}

// UpdateJob applies the column updates.
func (r *PGRepository) UpdateJob(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.updateRow(ctx, "jobs", id, updates)
}

// InsertJobItem inserts one job line and returns its id.
func (r *PGRepository) InsertJobItem(ctx context.Context, item JobItem) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO job_items (job_id, inventory_item_id, description, quantity, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		item.JobID, item.InventoryItemID, item.Description, item.Quantity, item.Position,
	).Scan(&id)
	return id, err
}
