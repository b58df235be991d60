package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"erpsync/internal/database"
	"erpsync/internal/events"
	"erpsync/internal/models"
	"erpsync/internal/queue"
	"erpsync/internal/repository"
	"erpsync/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *SyncService
	db      *database.DB
	machine *state.Machine
	locker  repository.Locker
	cache   repository.SnapshotCache
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	machine := state.NewMachine(db, nil)
	q := queue.New(db, nil)
	locker := repository.NewMemoryLocker()
	cache := repository.NewMemorySnapshotCache()
	svc := NewSyncService(machine, q, locker, cache, events.NewEventBus(), Options{
		StatusCacheTTL: time.Minute,
	}, nil)

	return &fixture{svc: svc, db: db, machine: machine, locker: locker, cache: cache}
}

func TestAdvance_EnqueuesStageJobs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, advanced, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.NotEmpty(t, st.SessionID)

	jobs, err := f.db.GetJobsBySession(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeImportProducts, jobs[0].JobType)
	assert.Equal(t, models.JobPending, jobs[0].Status)
}

func TestAdvance_ValidationStagePlanWiresDependencies(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	chain := []models.Stage{
		models.StageImportingProducts,
		models.StageImportingOrders,
		models.StageWaitingOrderExport,
		models.StageExportingOrders,
		models.StageWaitingOrderConfirm,
		models.StageWaitingERPImport,
		models.StageImportingERP,
	}
	var st *models.SyncState
	var err error
	for _, target := range chain {
		st, _, err = f.svc.Advance(ctx, target)
		require.NoError(t, err)
	}

	st, _, err = f.svc.Advance(ctx, models.StageValidating)
	require.NoError(t, err)

	byType := map[string]models.Job{}
	jobs, err := f.db.GetJobsBySession(ctx, st.SessionID)
	require.NoError(t, err)
	for _, j := range jobs {
		byType[j.JobType] = j
	}

	// import_erp has not completed yet, so both validations block, and
	// promote blocks behind validate_catalog.
	assert.Equal(t, models.JobBlocked, byType[models.JobTypeValidateCatalog].Status)
	assert.Equal(t, models.JobBlocked, byType[models.JobTypeValidateOrders].Status)
	assert.Equal(t, models.JobBlocked, byType[models.JobTypePromoteCatalog].Status)
	assert.Equal(t, models.JobTypeValidateCatalog, byType[models.JobTypePromoteCatalog].DependsOn)
}

func TestAdvance_IllegalTransitionEnqueuesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.svc.Advance(ctx, models.StageValidating)
	require.Error(t, err)

	var te *state.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestAdvance_LockedRunIsSilentNoop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ok, err := f.locker.Acquire(ctx, "sync_run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	st, advanced, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, models.StageIdle, st.Stage, "late trigger changes nothing")
}

func TestAdvance_ReleasesLock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, advanced, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)
	require.True(t, advanced)

	_, advanced, err = f.svc.Advance(ctx, models.StageImportingOrders)
	require.NoError(t, err)
	assert.True(t, advanced, "sequential advances are not serialized away")
}

func TestStatus_SnapshotAndCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)

	snap, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageImportingProducts, snap.Stage)
	assert.False(t, snap.Cached)

	snap, err = f.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Cached, "second read inside the TTL is served from cache")

	// A write path invalidates; the next read is fresh.
	_, _, err = f.svc.Advance(ctx, models.StageImportingOrders)
	require.NoError(t, err)

	snap, err = f.svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Cached)
	assert.Equal(t, models.StageImportingOrders, snap.Stage)
}

func TestRetryJob_ResumesFailedSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)

	jobs, err := f.db.GetJobsBySession(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, f.db.UpdateJobStatus(ctx, jobs[0].ID, models.JobFailed, "boom"))
	_, err = f.machine.Fail(ctx, "import failed")
	require.NoError(t, err)

	job, err := f.svc.RetryJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	current, err := f.machine.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageImportingProducts, current.Stage, "retry resumes the broken stage")
}

func TestForceFailStale(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	failed, err := f.svc.ForceFailStale(ctx)
	require.NoError(t, err)
	assert.False(t, failed, "idle sessions are never stale")

	st, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)

	// Backdate the session past the threshold.
	st.LastUpdated = time.Now().Add(-48 * time.Hour)
	require.NoError(t, f.db.SaveSyncState(ctx, st))

	failed, err = f.svc.ForceFailStale(ctx)
	require.NoError(t, err)
	assert.True(t, failed)

	current, err := f.machine.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, current.Stage)
	assert.Equal(t, models.StageImportingProducts, current.FailedAtStage)
	assert.Equal(t, models.StepError, current.Steps[models.StageImportingProducts.Step()].Status)

	// A second pass on the already-failed session is a no-op.
	failed, err = f.svc.ForceFailStale(ctx)
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestReset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)

	st, err := f.svc.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageIdle, st.Stage)
}

func TestAdvance_RecordsDashboardSteps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, _, err := f.svc.Advance(ctx, models.StageImportingProducts)
	require.NoError(t, err)
	assert.Equal(t, models.StepRunning, st.Steps[1].Status)

	st, _, err = f.svc.Advance(ctx, models.StageImportingOrders)
	require.NoError(t, err)
	assert.Equal(t, models.StepDone, st.Steps[1].Status)
	assert.Equal(t, models.StepRunning, st.Steps[2].Status)

	// The dashboard snapshot surfaces the checklist.
	snap, err := f.svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Steps)
	assert.Equal(t, models.StepDone, snap.Steps[1].Status)
	assert.Equal(t, models.StepRunning, snap.Steps[2].Status)
}
