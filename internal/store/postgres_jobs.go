package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

const jobColumns = `id, user_id, service_id, reference_panel_id, parent_job_id,
	input_format, build, phasing, population, input_file,
	status, progress_percentage, external_job_id, error_message, service_response, result_links,
	started_at, completed_at, execution_time_seconds, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.ServiceID, &j.ReferencePanelID, &j.ParentJobID,
		&j.InputFormat, &j.Build, &j.Phasing, &j.Population, &j.InputFile,
		&j.Status, &j.ProgressPercentage, &j.ExternalJobID, &j.ErrorMessage,
		&j.ServiceResponse, &j.ResultLinks,
		&j.StartedAt, &j.CompletedAt, &j.ExecutionTimeSeconds, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, service_id, reference_panel_id, parent_job_id,
		   input_format, build, phasing, population, input_file, status, progress_percentage,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.UserID, job.ServiceID, job.ReferencePanelID, job.ParentJobID,
		job.InputFormat, job.Build, job.Phasing, job.Population, job.InputFile,
		job.Status, job.ProgressPercentage, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ServiceID != 0 {
		args = append(args, filter.ServiceID)
		clauses = append(clauses, fmt.Sprintf("service_id = $%d", len(args)))
	}
	if filter.UserID != uuid.Nil {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf("SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		jobColumns, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// ListPollableJobs returns jobs the status poller must sweep: queued or
// running with a known external id. Parent batch jobs never match because
// they are not submitted upstream and carry no external_job_id.
func (s *PostgresStore) ListPollableJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('queued', 'running') AND external_job_id IS NOT NULL
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pollable jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ListChildJobs(ctx context.Context, parentID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE parent_job_id = $1 ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	var params jobUpdateParams
	for _, opt := range opts {
		opt(&params)
	}

	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []any{status}

	if params.Progress != nil {
		args = append(args, *params.Progress)
		sets = append(sets, fmt.Sprintf("progress_percentage = $%d", len(args)))
	}
	if params.ErrorMessage != nil {
		args = append(args, *params.ErrorMessage)
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if params.ExternalJobID != nil {
		args = append(args, *params.ExternalJobID)
		sets = append(sets, fmt.Sprintf("external_job_id = $%d", len(args)))
	}
	if params.ServiceResponse != nil {
		args = append(args, params.ServiceResponse)
		sets = append(sets, fmt.Sprintf("service_response = $%d", len(args)))
	}
	if params.ResultLinks != nil {
		args = append(args, params.ResultLinks)
		sets = append(sets, fmt.Sprintf("result_links = $%d", len(args)))
	}
	if params.StartedAt != nil {
		args = append(args, *params.StartedAt)
		sets = append(sets, fmt.Sprintf("started_at = $%d", len(args)))
	}
	if params.CompletedAt != nil {
		args = append(args, *params.CompletedAt)
		sets = append(sets, fmt.Sprintf("completed_at = $%d", len(args)))
	}
	if params.ExecutionTime != nil {
		args = append(args, *params.ExecutionTime)
		sets = append(sets, fmt.Sprintf("execution_time_seconds = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetJobForRetry clears all submission and terminal fields and re-enters
// pending. Only failed or cancelled jobs qualify; others are left untouched
// and reported as not found.
func (s *PostgresStore) ResetJobForRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', progress_percentage = 0,
		   external_job_id = NULL, error_message = NULL, result_links = NULL,
		   started_at = NULL, completed_at = NULL, execution_time_seconds = NULL,
		   updated_at = NOW()
		 WHERE id = $1 AND status IN ('failed', 'cancelled')`, id)
	if err != nil {
		return fmt.Errorf("reset job for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Status updates & logs ---

func (s *PostgresStore) AppendJobStatusUpdate(ctx context.Context, update *models.JobStatusUpdate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_status_updates (id, job_id, status, progress, message, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		update.ID, update.JobID, update.Status, update.Progress, update.Message,
		update.Detail, update.CreatedAt)
	if err != nil {
		return fmt.Errorf("append job status update: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJobStatusUpdates(ctx context.Context, jobID uuid.UUID) ([]*models.JobStatusUpdate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, status, progress, message, detail, created_at
		 FROM job_status_updates WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job status updates: %w", err)
	}
	defer rows.Close()

	var updates []*models.JobStatusUpdate
	for rows.Next() {
		var u models.JobStatusUpdate
		if err := rows.Scan(&u.ID, &u.JobID, &u.Status, &u.Progress, &u.Message,
			&u.Detail, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job status update: %w", err)
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}

// ReplaceJobLogs swaps a job's step logs for the freshly returned set in one
// transaction. Providers resend their complete step history on every poll,
// so the previous rows are superseded, not extended.
func (s *PostgresStore) ReplaceJobLogs(ctx context.Context, jobID uuid.UUID, logs []models.JobLog) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace job logs: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM job_logs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete job logs: %w", err)
	}
	for _, log := range logs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO job_logs (job_id, step_name, step_index, log_type, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())`,
			jobID, log.StepName, log.StepIndex, log.LogType, log.Message); err != nil {
			return fmt.Errorf("insert job log: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace job logs: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJobLogs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, step_name, step_index, log_type, message, created_at
		 FROM job_logs WHERE job_id = $1 ORDER BY step_index, created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.JobLog
	for rows.Next() {
		var l models.JobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.StepName, &l.StepIndex, &l.LogType,
			&l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
