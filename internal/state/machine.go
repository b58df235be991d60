package state

import (
	"context"
	"fmt"
	"time"

	"erpsync/internal/logging"
	"erpsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// transitions is the adjacency map of legal stage moves. FAILED is a
// side channel reachable from any non-terminal stage and is therefore
// not listed here.
var transitions = map[models.Stage][]models.Stage{
	models.StageIdle:                      {models.StageImportingProducts},
	models.StageImportingProducts:         {models.StageImportingOrders},
	models.StageImportingOrders:           {models.StageWaitingOrderExport},
	models.StageWaitingOrderExport:        {models.StageExportingOrders},
	models.StageExportingOrders:           {models.StageWaitingOrderConfirm},
	models.StageWaitingOrderConfirm:       {models.StageWaitingERPImport},
	models.StageWaitingERPImport:          {models.StageImportingERP},
	models.StageImportingERP:              {models.StageValidating},
	models.StageValidating:                {models.StageWaitingInventoryExport},
	models.StageWaitingInventoryExport:    {models.StageGeneratingInventoryExport},
	models.StageGeneratingInventoryExport: {models.StageWaitingInventoryConfirm},
	models.StageWaitingInventoryConfirm:   {models.StageComplete},
	models.StageComplete:                  {models.StageIdle},
	models.StageFailed:                    {},
}

// TransitionError reports an illegal stage move. The persisted state
// is untouched when this is returned.
type TransitionError struct {
	From models.Stage
	To   models.Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal stage transition from %s to %s", e.From, e.To)
}

// Repository persists the singleton session state.
type Repository interface {
	LoadSyncState(ctx context.Context) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
}

// Machine enforces the workflow's stage ordering. The executing
// process is short-lived, so every operation reads the persisted
// state, mutates a copy, and writes it back.
type Machine struct {
	repo   Repository
	logger zerolog.Logger
}

func NewMachine(repo Repository, logger *zerolog.Logger) *Machine {
	l := logging.Component(logger, "state")
	return &Machine{repo: repo, logger: l}
}

// Current returns the persisted session state.
func (m *Machine) Current(ctx context.Context) (*models.SyncState, error) {
	return m.repo.LoadSyncState(ctx)
}

// CanTransition reports whether the move is in the adjacency map.
// Fail and Reset bypass this check deliberately.
func CanTransition(from, to models.Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a stage move. Caller-supplied
// context updates are merged into the state but can never overwrite
// the stage or timestamp; those are owned by the machine.
func (m *Machine) Transition(ctx context.Context, target models.Stage, updates map[string]string) (*models.SyncState, error) {
	current, err := m.repo.LoadSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	if !CanTransition(current.Stage, target) {
		return nil, &TransitionError{From: current.Stage, To: target}
	}

	next := current.Clone()
	next.Stage = target
	next.LastUpdated = time.Now()
	for k, v := range updates {
		next.Context[k] = v
	}

	if target == models.StageImportingProducts && current.Stage == models.StageIdle {
		// A new session begins with the first import.
		next.SessionID = uuid.NewString()
		next.ErrorMessage = ""
		next.FailedAtStage = ""
		next.Steps = make(map[int]models.StepState)
	}

	if target == models.StageComplete {
		next.ErrorMessage = ""
		next.FailedAtStage = ""
	}

	if err := m.repo.SaveSyncState(ctx, next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	m.logger.Info().
		Str("session_id", next.SessionID).
		Str("from", string(current.Stage)).
		Str("to", string(target)).
		Msg("stage transition")

	return next, nil
}

// Fail moves any non-terminal session to FAILED, recording the stage
// it failed at so a retry can resume there instead of restarting.
func (m *Machine) Fail(ctx context.Context, message string) (*models.SyncState, error) {
	current, err := m.repo.LoadSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	if current.Stage.Terminal() {
		return nil, fmt.Errorf("cannot fail a session in terminal stage %s", current.Stage)
	}

	next := current.Clone()
	if current.Stage != models.StageFailed {
		next.FailedAtStage = current.Stage
	}
	next.Stage = models.StageFailed
	next.ErrorMessage = message
	next.LastUpdated = time.Now()

	if err := m.repo.SaveSyncState(ctx, next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	m.logger.Error().
		Str("session_id", next.SessionID).
		Str("failed_at", string(next.FailedAtStage)).
		Str("error", message).
		Msg("session failed")

	return next, nil
}

// Resume moves a FAILED session back to the stage it failed at.
func (m *Machine) Resume(ctx context.Context) (*models.SyncState, error) {
	current, err := m.repo.LoadSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	if current.Stage != models.StageFailed {
		return nil, fmt.Errorf("cannot resume: session is in stage %s, not FAILED", current.Stage)
	}
	if current.FailedAtStage == "" {
		return nil, fmt.Errorf("cannot resume: no failed_at_stage recorded")
	}

	next := current.Clone()
	next.Stage = current.FailedAtStage
	next.FailedAtStage = ""
	next.ErrorMessage = ""
	next.LastUpdated = time.Now()

	if err := m.repo.SaveSyncState(ctx, next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	m.logger.Info().
		Str("session_id", next.SessionID).
		Str("stage", string(next.Stage)).
		Msg("session resumed")

	return next, nil
}

// Reset returns the workflow to idle defaults. Operator escape hatch
// for abandoned sessions.
func (m *Machine) Reset(ctx context.Context) (*models.SyncState, error) {
	next := models.NewSyncState()
	if err := m.repo.SaveSyncState(ctx, next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	m.logger.Info().Msg("session reset")
	return next, nil
}

// UpdateStep records per-step status for the dashboard without
// touching the coarse stage.
func (m *Machine) UpdateStep(ctx context.Context, step int, status, message string) (*models.SyncState, error) {
	current, err := m.repo.LoadSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	next := current.Clone()
	next.Steps[step] = models.StepState{Status: status, Message: message}
	next.LastUpdated = time.Now()

	if err := m.repo.SaveSyncState(ctx, next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return next, nil
}

// MergeContext merges display context fields (row counts, filenames)
// into the state without a stage move.
func (m *Machine) MergeContext(ctx context.Context, updates map[string]string) (*models.SyncState, error) {
	current, err := m.repo.LoadSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	next := current.Clone()
	for k, v := range updates {
		next.Context[k] = v
	}
	next.LastUpdated = time.Now()

	if err := m.repo.SaveSyncState(ctx, next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return next, nil
}

// IsSessionStale reports whether a non-terminal session has not been
// touched within the threshold. Stale is a derived condition, not an
// error; the watchdog decides what to do with it.
func (m *Machine) IsSessionStale(ctx context.Context, threshold time.Duration) (bool, error) {
	current, err := m.repo.LoadSyncState(ctx)
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}

	if current.Stage.Terminal() {
		return false, nil
	}
	return time.Since(current.LastUpdated) > threshold, nil
}
