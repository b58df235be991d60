package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"erpsync/internal/events"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/models"
	"erpsync/internal/queue"
	"erpsync/internal/repository"
	"erpsync/internal/state"

	"github.com/rs/zerolog"
)

const (
	runLockName    = "sync_run"
	statusCacheKey = "status"
)

// jobSpec is one queue entry a stage move creates.
type jobSpec struct {
	jobType   string
	dependsOn string
}

// stagePlan maps each working stage to the jobs entering it enqueues.
// Waiting stages and terminals enqueue nothing; the operator's next
// advance drives the pipeline forward.
var stagePlan = map[models.Stage][]jobSpec{
	models.StageImportingProducts: {
		{jobType: models.JobTypeImportProducts},
	},
	models.StageImportingOrders: {
		{jobType: models.JobTypeImportOrders},
	},
	models.StageExportingOrders: {
		{jobType: models.JobTypeExportOrders, dependsOn: models.JobTypeImportOrders},
	},
	models.StageImportingERP: {
		{jobType: models.JobTypeImportERP},
	},
	models.StageValidating: {
		{jobType: models.JobTypeValidateCatalog, dependsOn: models.JobTypeImportERP},
		{jobType: models.JobTypeValidateOrders, dependsOn: models.JobTypeImportERP},
		{jobType: models.JobTypePromoteCatalog, dependsOn: models.JobTypeValidateCatalog},
	},
	models.StageGeneratingInventoryExport: {
		{jobType: models.JobTypeInventoryExport, dependsOn: models.JobTypePromoteCatalog},
	},
}

// Options carries the service's tunables from config.
type Options struct {
	StaleThreshold time.Duration
	RecentWindow   time.Duration
	StatusCacheTTL time.Duration
	LockTTL        time.Duration
}

// StatusSnapshot is the dashboard view of one session.
type StatusSnapshot struct {
	SessionID     string                   `json:"session_id"`
	Stage         models.Stage             `json:"stage"`
	LastUpdated   time.Time                `json:"last_updated"`
	ErrorMessage  string                   `json:"error_message,omitempty"`
	FailedAtStage models.Stage             `json:"failed_at_stage,omitempty"`
	Steps         map[int]models.StepState `json:"steps,omitempty"`
	Context       map[string]string        `json:"context,omitempty"`
	Queue         *models.QueueHealth      `json:"queue"`
	Cached        bool                     `json:"-"`
}

// SyncService coordinates the state machine and the job queue behind
// the operator-facing surface.
type SyncService struct {
	machine *state.Machine
	queue   *queue.Queue
	locker  repository.Locker
	cache   repository.SnapshotCache
	bus     *events.EventBus
	opts    Options
	logger  zerolog.Logger
}

func NewSyncService(machine *state.Machine, q *queue.Queue, locker repository.Locker, cache repository.SnapshotCache, bus *events.EventBus, opts Options, logger *zerolog.Logger) *SyncService {
	l := logging.Component(logger, "sync_service")

	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = time.Duration(models.DefaultStaleThresholdHours) * time.Hour
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = time.Duration(models.DefaultRecentFailureWindowHours) * time.Hour
	}
	if opts.StatusCacheTTL <= 0 {
		opts.StatusCacheTTL = time.Duration(models.DefaultStatusCacheTTLSeconds) * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Duration(models.DefaultLockTTLSeconds) * time.Second
	}

	return &SyncService{
		machine: machine,
		queue:   q,
		locker:  locker,
		cache:   cache,
		bus:     bus,
		opts:    opts,
		logger:  l,
	}
}

// Advance moves the session to target and enqueues that stage's jobs.
// Concurrent triggers are serialized by the advisory run lock: the
// loser observes either an already-moved session or a busy lock and
// returns advanced=false without touching anything.
func (s *SyncService) Advance(ctx context.Context, target models.Stage) (*models.SyncState, bool, error) {
	acquired, err := s.locker.Acquire(ctx, runLockName, s.opts.LockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		s.logger.Info().Str("target", string(target)).Msg("advance skipped, run in progress")
		current, err := s.machine.Current(ctx)
		return current, false, err
	}
	defer func() {
		if err := s.locker.Release(ctx, runLockName); err != nil {
			s.logger.Warn().Err(err).Msg("release run lock")
		}
	}()

	before, err := s.machine.Current(ctx)
	if err != nil {
		return nil, false, err
	}

	st, err := s.machine.Transition(ctx, target, nil)
	if err != nil {
		return nil, false, err
	}
	st = s.recordSteps(ctx, st, before.Stage, target)

	for _, spec := range stagePlan[target] {
		if _, err := s.queue.Enqueue(ctx, st.SessionID, spec.jobType, spec.dependsOn); err != nil {
			return nil, false, fmt.Errorf("enqueue %s: %w", spec.jobType, err)
		}
	}

	s.invalidateStatus(ctx)
	_ = s.bus.PublishJSON(events.EventStageChanged, events.StageEventPayload{
		SessionID: st.SessionID,
		From:      string(before.Stage),
		To:        string(st.Stage),
		At:        st.LastUpdated,
	})
	return st, true, nil
}

// recordSteps keeps the dashboard checklist in sync with a stage move:
// the stage just left is done, the stage just entered is running. Step
// bookkeeping never blocks an advance; the stage itself is already
// persisted.
func (s *SyncService) recordSteps(ctx context.Context, st *models.SyncState, from, to models.Stage) *models.SyncState {
	if step := from.Step(); step > 0 {
		updated, err := s.machine.UpdateStep(ctx, step, models.StepDone, "")
		if err != nil {
			s.logger.Warn().Err(err).Int("step", step).Msg("record step done")
		} else {
			st = updated
		}
	}
	if step := to.Step(); step > 0 {
		updated, err := s.machine.UpdateStep(ctx, step, models.StepRunning, "")
		if err != nil {
			s.logger.Warn().Err(err).Int("step", step).Msg("record step running")
		} else {
			st = updated
		}
	}
	return st
}

// RetryJob re-opens a FAILED or QUARANTINED job. If the session sits
// in FAILED it resumes to the stage that broke so the worker picks the
// job back up.
func (s *SyncService) RetryJob(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := s.queue.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}

	current, err := s.machine.Current(ctx)
	if err != nil {
		return nil, err
	}
	if current.Stage == models.StageFailed {
		if _, err := s.machine.Resume(ctx); err != nil {
			return nil, fmt.Errorf("resume session: %w", err)
		}
	}

	s.invalidateStatus(ctx)
	return job, nil
}

// Reset abandons the session back to IDLE.
func (s *SyncService) Reset(ctx context.Context) (*models.SyncState, error) {
	st, err := s.machine.Reset(ctx)
	if err != nil {
		return nil, err
	}
	s.invalidateStatus(ctx)
	return st, nil
}

// Status returns the dashboard snapshot, served from the short-TTL
// cache when fresh. Staleness within the TTL is acceptable for the
// dashboard; write paths invalidate eagerly.
func (s *SyncService) Status(ctx context.Context) (*StatusSnapshot, error) {
	if raw, ok, err := s.cache.Get(ctx, statusCacheKey); err == nil && ok {
		var snap StatusSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			snap.Cached = true
			return &snap, nil
		}
	}

	current, err := s.machine.Current(ctx)
	if err != nil {
		return nil, err
	}

	var health *models.QueueHealth
	if current.SessionID != "" {
		health, err = s.queue.Health(ctx, current.SessionID, s.opts.RecentWindow)
		if err != nil {
			return nil, err
		}
		metrics.SetBlockedJobs(len(health.Blocked))
	} else {
		health = &models.QueueHealth{}
	}

	snap := &StatusSnapshot{
		SessionID:     current.SessionID,
		Stage:         current.Stage,
		LastUpdated:   current.LastUpdated,
		ErrorMessage:  current.ErrorMessage,
		FailedAtStage: current.FailedAtStage,
		Steps:         current.Steps,
		Context:       current.Context,
		Queue:         health,
	}

	if raw, err := json.Marshal(snap); err == nil {
		if err := s.cache.Set(ctx, statusCacheKey, raw, s.opts.StatusCacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("cache status snapshot")
		}
	}
	return snap, nil
}

// ForceFailStale is the watchdog pass: a session stuck non-terminal
// past the stale threshold is marked FAILED so the next morning's run
// does not wedge behind it.
func (s *SyncService) ForceFailStale(ctx context.Context) (bool, error) {
	stale, err := s.machine.IsSessionStale(ctx, s.opts.StaleThreshold)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	current, err := s.machine.Current(ctx)
	if err != nil {
		return false, err
	}
	if current.Stage == models.StageFailed {
		return false, nil
	}

	msg := fmt.Sprintf("session exceeded stale threshold of %s", s.opts.StaleThreshold)
	failed, err := s.machine.Fail(ctx, msg)
	if err != nil {
		return false, err
	}
	if step := failed.FailedAtStage.Step(); step > 0 {
		if _, err := s.machine.UpdateStep(ctx, step, models.StepError, msg); err != nil {
			s.logger.Warn().Err(err).Int("step", step).Msg("record step error")
		}
	}
	s.invalidateStatus(ctx)
	s.logger.Warn().Msg("stale session force-failed")
	return true, nil
}

func (s *SyncService) invalidateStatus(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, statusCacheKey); err != nil {
		s.logger.Warn().Err(err).Msg("invalidate status cache")
	}
}
