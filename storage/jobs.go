package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"estate-harvester/models"
)

const jobColumns = `id, source_codes, full_rescan, trigger_name, status, progress,
	seen, new_count, updated_count, deactivated, errors, rejected,
	error_message, created_at, started_at, finished_at`

const runColumns = `id, job_id, source_id, source_code, status,
	seen, new_count, updated_count, deactivated, errors, rejected,
	rejections, error_classes, error_message, started_at, finished_at`

// CreateJob inserts a new job row.
func (p *Postgres) CreateJob(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs (id, source_codes, full_rescan, trigger_name, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.SourceCodes, job.FullRescan, job.Trigger, job.Status, job.Progress, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}
	return nil
}

// TransitionJob implements JobStore. Entering running stamps started_at.
func (p *Postgres) TransitionJob(ctx context.Context, id string, from, to models.JobStatus, at time.Time) error {
	if err := models.ValidateJobTransition(from, to); err != nil {
		return err
	}
	query := `UPDATE jobs SET status = $1 WHERE id = $2 AND status = $3`
	args := []any{to, id, from}
	if to == models.JobRunning {
		query = `UPDATE jobs SET status = $1, started_at = $4 WHERE id = $2 AND status = $3`
		args = append(args, at)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: transition job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s not %s: %w", id, from, ErrStaleState)
	}
	return nil
}

// UpdateJobProgress implements JobStore.
func (p *Postgres) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE jobs SET progress = GREATEST(progress, $1) WHERE id = $2`, progress, id)
	if err != nil {
		return fmt.Errorf("postgres: update progress: %w", err)
	}
	return nil
}

// FinishJob implements JobStore.
func (p *Postgres) FinishJob(ctx context.Context, job *models.Job) error {
	if err := models.ValidateJobTransition(models.JobRunning, job.Status); err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs
		SET status        = $1,
		    progress      = GREATEST(progress, $2),
		    seen          = $3,
		    new_count     = $4,
		    updated_count = $5,
		    deactivated   = $6,
		    errors        = $7,
		    rejected      = $8,
		    error_message = $9,
		    finished_at   = $10
		WHERE id = $11 AND status = 'running'
	`,
		job.Status, job.Progress,
		job.Seen, job.New, job.Updated, job.Deactivated, job.Errors, job.Rejected,
		job.ErrorMessage, job.FinishedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s not running: %w", job.ID, ErrStaleState)
	}
	return nil
}

// GetJob retrieves a job by id.
func (p *Postgres) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := p.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns the most recent jobs first.
func (p *Postgres) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := p.db.SelectContext(ctx, &jobs,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	return jobs, nil
}

// CreateRunRecord inserts a running record and fills r.ID.
func (p *Postgres) CreateRunRecord(ctx context.Context, r *models.RunRecord) error {
	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO run_records (job_id, source_id, source_code, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.JobID, r.SourceID, r.SourceCode, r.Status, r.StartedAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("postgres: create run record: %w", err)
	}
	return nil
}

// FinishRunRecord implements JobStore.
func (p *Postgres) FinishRunRecord(ctx context.Context, r *models.RunRecord) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE run_records
		SET status        = $1,
		    seen          = $2,
		    new_count     = $3,
		    updated_count = $4,
		    deactivated   = $5,
		    errors        = $6,
		    rejected      = $7,
		    rejections    = $8,
		    error_classes = $9,
		    error_message = $10,
		    finished_at   = $11
		WHERE id = $12 AND status = 'running'
	`,
		r.Status, r.Seen, r.New, r.Updated, r.Deactivated, r.Errors, r.Rejected,
		r.Rejections, r.ErrorClasses, r.ErrorMessage, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run record %d already final: %w", r.ID, ErrStaleState)
	}
	return nil
}

// ListRunRecords returns a job's run records in start order.
func (p *Postgres) ListRunRecords(ctx context.Context, jobID string) ([]models.RunRecord, error) {
	var runs []models.RunRecord
	err := p.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM run_records WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list run records: %w", err)
	}
	return runs, nil
}
