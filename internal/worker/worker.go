package worker

import (
	"context"
	"fmt"
	"time"

	"erpsync/internal/events"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/models"
	"erpsync/internal/orchestrator"
	"erpsync/internal/queue"
	"erpsync/internal/rules"
	"erpsync/internal/state"
	"erpsync/internal/validation"

	"github.com/rs/zerolog"
)

// Executor performs one job type's adapter work: reading an inbox
// table, writing staging rows, generating an export. It must be safe
// to re-run, since a crash mid-job leaves the job PROCESSING and the
// operator will retry it.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) error
}

// registration ties a job type to its executor and, optionally, the
// validation suite that gates its completion.
type registration struct {
	executor Executor
	suite    string
}

// SyncWorker drains the job queue for the active session. One worker
// per process; the queue itself serializes the pipeline through
// dependencies, so the worker needs no internal parallelism.
type SyncWorker struct {
	queue        *queue.Queue
	machine      *state.Machine
	engine       *validation.Engine
	orch         *orchestrator.Orchestrator
	ruleSet      *rules.Set
	bus          *events.EventBus
	registry     map[string]registration
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
}

func NewSyncWorker(q *queue.Queue, machine *state.Machine, engine *validation.Engine, orch *orchestrator.Orchestrator, ruleSet *rules.Set, bus *events.EventBus, logger *zerolog.Logger) *SyncWorker {
	l := logging.Component(logger, "worker")

	return &SyncWorker{
		queue:        q,
		machine:      machine,
		engine:       engine,
		orch:         orch,
		ruleSet:      ruleSet,
		bus:          bus,
		registry:     make(map[string]registration),
		pollInterval: time.Duration(models.DefaultPollIntervalSeconds) * time.Second,
		batchSize:    models.DefaultWorkerBatchSize,
		logger:       l,
	}
}

// SetPolling overrides the poll interval and batch size from config.
func (w *SyncWorker) SetPolling(interval time.Duration, batchSize int) {
	if interval > 0 {
		w.pollInterval = interval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
}

// Register binds an executor to a job type. An empty suite means the
// job completes without a validation gate.
func (w *SyncWorker) Register(jobType string, executor Executor, suite string) {
	w.registry[jobType] = registration{executor: executor, suite: suite}
}

// Start launches the poll loop; stops when ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.ProcessOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("poll iteration failed")
		}
		if processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// ProcessOnce drains one batch of pending jobs for the active session
// and returns how many were processed. Exposed for tests and for the
// API's synchronous advance path.
func (w *SyncWorker) ProcessOnce(ctx context.Context) (int, error) {
	current, err := w.machine.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	if current.SessionID == "" || current.Stage.Terminal() {
		return 0, nil
	}

	jobs, err := w.queue.NextPending(ctx, current.SessionID, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	for i := range jobs {
		w.processJob(ctx, &jobs[i])
	}
	return len(jobs), nil
}

// processJob runs one job to a terminal status: the executor does the
// adapter work, then the job's validation suite (when configured)
// decides between COMPLETED and QUARANTINED. Executor failure marks
// the job FAILED and fails the session; dependents stay BLOCKED until
// the operator retries.
func (w *SyncWorker) processJob(ctx context.Context, job *models.Job) {
	if err := w.queue.Claim(ctx, job); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("claim failed")
		return
	}

	reg, ok := w.registry[job.JobType]
	if !ok {
		w.finishFailed(ctx, job, fmt.Errorf("no executor registered for job type %s", job.JobType))
		return
	}

	if err := reg.executor.Execute(ctx, job); err != nil {
		w.finishFailed(ctx, job, err)
		return
	}

	if reg.suite == "" {
		w.finishCompleted(ctx, job)
		return
	}

	outcome, err := w.runValidation(ctx, job, reg.suite)
	if err != nil {
		w.finishFailed(ctx, job, err)
		return
	}

	if outcome.QuarantineTriggered {
		reason := fmt.Sprintf("suite %s quarantined with %d failing rules", reg.suite, outcome.FailureCount)
		if err := w.queue.Quarantine(ctx, job, reason); err != nil {
			w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark quarantined failed")
		}
		metrics.IncJobProcessed(string(models.JobQuarantined))
		_ = w.bus.PublishJSON(events.EventQuarantineTriggered, events.QuarantineEventPayload{
			SessionID:    job.SessionID,
			Suite:        reg.suite,
			FailureCount: outcome.FailureCount,
		})
		return
	}

	// Failures without quarantine are warnings: tasks were filed but
	// the pipeline may proceed.
	w.finishCompleted(ctx, job)
}

// RunJobByID claims and processes one specific pending job. Used by
// the operator retry path.
func (w *SyncWorker) RunJobByID(ctx context.Context, job *models.Job) {
	w.processJob(ctx, job)
}

func (w *SyncWorker) runValidation(ctx context.Context, job *models.Job, suite string) (*orchestrator.Outcome, error) {
	suiteRules := w.ruleSet.Suite(suite)
	result, err := w.engine.RunSuite(ctx, suite, suiteRules)
	if err != nil {
		return nil, fmt.Errorf("run suite %s: %w", suite, err)
	}

	for _, r := range result.Results {
		metrics.IncRuleEvaluated(string(r.Status))
	}

	outcome, err := w.orch.ProcessResults(ctx, job.SessionID, result)
	if err != nil {
		return nil, fmt.Errorf("process results for suite %s: %w", suite, err)
	}
	return outcome, nil
}

func (w *SyncWorker) finishCompleted(ctx context.Context, job *models.Job) {
	if err := w.queue.Complete(ctx, job); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark completed failed")
		return
	}
	metrics.IncJobProcessed(string(models.JobCompleted))
	_ = w.bus.PublishJSON(events.EventJobCompleted, events.JobEventPayload{
		JobID:     job.ID,
		JobType:   job.JobType,
		SessionID: job.SessionID,
		Status:    string(models.JobCompleted),
	})
}

func (w *SyncWorker) finishFailed(ctx context.Context, job *models.Job, cause error) {
	if err := w.queue.Fail(ctx, job, cause); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark failed failed")
	}
	metrics.IncJobProcessed(string(models.JobFailed))

	failed, err := w.machine.Fail(ctx, fmt.Sprintf("job %s failed: %v", job.JobType, cause))
	if err != nil {
		w.logger.Error().Err(err).Msg("record session failure")
	} else if step := failed.FailedAtStage.Step(); step > 0 {
		if _, err := w.machine.UpdateStep(ctx, step, models.StepError, cause.Error()); err != nil {
			w.logger.Error().Err(err).Int("step", step).Msg("record step error")
		}
	}

	_ = w.bus.PublishJSON(events.EventJobFailed, events.JobEventPayload{
		JobID:     job.ID,
		JobType:   job.JobType,
		SessionID: job.SessionID,
		Status:    string(models.JobFailed),
		Error:     cause.Error(),
	})
}
