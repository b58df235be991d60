package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"erpsync/internal/models"
)

const jobColumns = `id, job_type, session_id, status, depends_on, created_at, processed_at, last_error`

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO jobs (job_type, session_id, status, depends_on, created_at, processed_at, last_error)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.db.ExecContext(ctx, query,
		job.JobType,
		job.SessionID,
		job.Status,
		nullString(job.DependsOn),
		now,
		job.ProcessedAt,
		job.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now

	return nil
}

func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	row := db.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus sets the new status; terminal statuses also stamp
// processed_at.
func (db *DB) UpdateJobStatus(ctx context.Context, id int64, status models.JobStatus, errMsg string) error {
	var query string
	var args []interface{}

	switch status {
	case models.JobCompleted, models.JobFailed, models.JobQuarantined:
		now := time.Now()
		query = `UPDATE jobs SET status = ?, last_error = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), &now, id}
	default:
		query = `UPDATE jobs SET status = ?, last_error = ? WHERE id = ?`
		args = []interface{}{status, nullString(errMsg), id}
	}

	_, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (db *DB) GetJobsBySession(ctx context.Context, sessionID string) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE session_id = ? ORDER BY created_at ASC, id ASC`
	return db.queryJobs(ctx, query, sessionID)
}

func (db *DB) GetJobsByStatus(ctx context.Context, sessionID string, status models.JobStatus) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE session_id = ? AND status = ? ORDER BY created_at ASC, id ASC`
	return db.queryJobs(ctx, query, sessionID, status)
}

func (db *DB) GetPendingJobs(ctx context.Context, sessionID string, limit int) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
              WHERE session_id = ? AND status = ?
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.queryJobs(ctx, query, sessionID, models.JobPending, limit)
}

// HasCompletedJob reports whether the session already completed a job
// of the given type. Used by dependency resolution.
func (db *DB) HasCompletedJob(ctx context.Context, sessionID, jobType string) (bool, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE session_id = ? AND job_type = ? AND status = ?`
	var count int
	err := db.db.QueryRowContext(ctx, query, sessionID, jobType, models.JobCompleted).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check completed job: %w", err)
	}
	return count > 0, nil
}

// CountRecentFailed counts FAILED jobs whose processed_at falls in the
// rolling window.
func (db *DB) CountRecentFailed(ctx context.Context, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window)
	query := `SELECT COUNT(*) FROM jobs WHERE status = ? AND processed_at >= ?`
	var count int
	err := db.db.QueryRowContext(ctx, query, models.JobFailed, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent failed jobs: %w", err)
	}
	return count, nil
}

func (db *DB) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE status = ?`
	var count int
	err := db.db.QueryRowContext(ctx, query, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func (db *DB) queryJobs(ctx context.Context, query string, args ...interface{}) ([]models.Job, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*models.Job, error) {
	var job models.Job
	var dependsOn sql.NullString
	err := r.Scan(
		&job.ID, &job.JobType, &job.SessionID, &job.Status, &dependsOn,
		&job.CreatedAt, &job.ProcessedAt, &job.LastError,
	)
	if err != nil {
		return nil, err
	}
	job.DependsOn = dependsOn.String
	return &job, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
