package queue

import (
	"context"
	"fmt"
	"time"

	"erpsync/internal/database"
	"erpsync/internal/logging"
	"erpsync/internal/models"

	"github.com/rs/zerolog"
)

// Queue is the durable work list for one sync pipeline. It decouples
// what work exists from when it runs: jobs sit PENDING or BLOCKED in
// the jobs table until the worker claims them, and partial failure
// stays legible as a mix of per-job statuses instead of one
// all-or-nothing flag.
type Queue struct {
	db     *database.DB
	logger zerolog.Logger
}

func New(db *database.DB, logger *zerolog.Logger) *Queue {
	l := logging.Component(logger, "queue")
	return &Queue{db: db, logger: l}
}

// Enqueue inserts a job for the session. The job starts PENDING unless
// it depends on a job type that has not yet COMPLETED in this session,
// in which case it starts BLOCKED.
func (q *Queue) Enqueue(ctx context.Context, sessionID, jobType, dependsOn string) (*models.Job, error) {
	status := models.JobPending
	if dependsOn != "" {
		done, err := q.db.HasCompletedJob(ctx, sessionID, dependsOn)
		if err != nil {
			return nil, fmt.Errorf("check dependency %s: %w", dependsOn, err)
		}
		if !done {
			status = models.JobBlocked
		}
	}

	job := &models.Job{
		JobType:   jobType,
		SessionID: sessionID,
		Status:    status,
		DependsOn: dependsOn,
	}
	if err := q.db.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	q.logger.Info().
		Int64("job_id", job.ID).
		Str("job_type", jobType).
		Str("session_id", sessionID).
		Str("status", string(status)).
		Msg("job enqueued")

	return job, nil
}

// Claim moves a PENDING job to PROCESSING.
func (q *Queue) Claim(ctx context.Context, job *models.Job) error {
	if job.Status != models.JobPending {
		return fmt.Errorf("job %d is %s, not PENDING", job.ID, job.Status)
	}
	if err := q.db.UpdateJobStatus(ctx, job.ID, models.JobProcessing, ""); err != nil {
		return err
	}
	job.Status = models.JobProcessing
	return nil
}

// Complete marks the job COMPLETED and unblocks any dependents.
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	if err := q.db.UpdateJobStatus(ctx, job.ID, models.JobCompleted, ""); err != nil {
		return err
	}
	job.Status = models.JobCompleted
	return q.ResolveBlocked(ctx, job.SessionID)
}

// Fail records the error and leaves dependents BLOCKED: a failed
// dependency never releases its dependents. The operator retries the
// failed job; completion then unblocks them.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.db.UpdateJobStatus(ctx, job.ID, models.JobFailed, msg); err != nil {
		return err
	}
	job.Status = models.JobFailed

	q.logger.Error().
		Int64("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("error", msg).
		Msg("job failed")
	return nil
}

// Quarantine is a terminal status set by the validation orchestrator,
// never by the job itself.
func (q *Queue) Quarantine(ctx context.Context, job *models.Job, reason string) error {
	if err := q.db.UpdateJobStatus(ctx, job.ID, models.JobQuarantined, reason); err != nil {
		return err
	}
	job.Status = models.JobQuarantined

	q.logger.Warn().
		Int64("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("reason", reason).
		Msg("job quarantined")
	return nil
}

// Retry re-opens a FAILED or QUARANTINED job as PENDING.
func (q *Queue) Retry(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := q.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobFailed && job.Status != models.JobQuarantined {
		return nil, fmt.Errorf("job %d is %s; only FAILED or QUARANTINED jobs can be retried", jobID, job.Status)
	}

	if err := q.db.UpdateJobStatus(ctx, jobID, models.JobPending, ""); err != nil {
		return nil, err
	}
	job.Status = models.JobPending
	job.LastError = nil

	q.logger.Info().Int64("job_id", jobID).Str("job_type", job.JobType).Msg("job retried")
	return job, nil
}

// ResolveBlocked promotes BLOCKED jobs whose dependency has since
// COMPLETED. Called after every completion; re-running it is harmless.
func (q *Queue) ResolveBlocked(ctx context.Context, sessionID string) error {
	blocked, err := q.db.GetJobsByStatus(ctx, sessionID, models.JobBlocked)
	if err != nil {
		return fmt.Errorf("scan blocked jobs: %w", err)
	}

	for i := range blocked {
		job := &blocked[i]
		if job.DependsOn == "" {
			continue
		}
		done, err := q.db.HasCompletedJob(ctx, sessionID, job.DependsOn)
		if err != nil {
			return fmt.Errorf("check dependency %s: %w", job.DependsOn, err)
		}
		if !done {
			continue
		}
		if err := q.db.UpdateJobStatus(ctx, job.ID, models.JobPending, ""); err != nil {
			return err
		}
		q.logger.Info().
			Int64("job_id", job.ID).
			Str("job_type", job.JobType).
			Str("depends_on", job.DependsOn).
			Msg("job unblocked")
	}
	return nil
}

// NextPending returns up to limit runnable jobs in creation order.
func (q *Queue) NextPending(ctx context.Context, sessionID string, limit int) ([]models.Job, error) {
	return q.db.GetPendingJobs(ctx, sessionID, limit)
}

// Health derives the dashboard counts: recently failed, quarantined,
// and blocked jobs with the name of the dependency holding each up.
func (q *Queue) Health(ctx context.Context, sessionID string, recentWindow time.Duration) (*models.QueueHealth, error) {
	health := &models.QueueHealth{}

	failed, err := q.db.CountRecentFailed(ctx, recentWindow)
	if err != nil {
		return nil, err
	}
	health.RecentFailed = failed

	quarantined, err := q.db.CountByStatus(ctx, models.JobQuarantined)
	if err != nil {
		return nil, err
	}
	health.Quarantined = quarantined

	blocked, err := q.db.GetJobsByStatus(ctx, sessionID, models.JobBlocked)
	if err != nil {
		return nil, err
	}
	for _, job := range blocked {
		health.Blocked = append(health.Blocked, models.BlockedJob{Job: job, BlockedBy: job.DependsOn})
	}

	return health, nil
}
