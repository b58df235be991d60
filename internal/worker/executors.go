package worker

import (
	"context"
	"fmt"
	"strconv"

	"erpsync/internal/export"
	"erpsync/internal/models"
	"erpsync/internal/state"
	"erpsync/internal/tablestore"
)

// CopyExecutor moves one table wholesale from a source to a
// destination: inbox to staging for imports, staging to outbox for
// the ERP export. The row count lands in the session context under
// countKey so the status endpoint can display it.
type CopyExecutor struct {
	store    tablestore.Store
	machine  *state.Machine
	source   string
	dest     string
	countKey string
}

func NewCopyExecutor(store tablestore.Store, machine *state.Machine, source, dest, countKey string) *CopyExecutor {
	return &CopyExecutor{
		store:    store,
		machine:  machine,
		source:   source,
		dest:     dest,
		countKey: countKey,
	}
}

func (e *CopyExecutor) Execute(ctx context.Context, job *models.Job) error {
	table, err := e.store.ReadTable(ctx, e.source)
	if err != nil {
		return fmt.Errorf("read %s: %w", e.source, err)
	}

	staged := &tablestore.Table{
		Name:    e.dest,
		Headers: table.Headers,
		Rows:    table.Rows,
	}
	if err := e.store.WriteTable(ctx, staged); err != nil {
		return fmt.Errorf("write %s: %w", e.dest, err)
	}

	if e.countKey != "" {
		_, err = e.machine.MergeContext(ctx, map[string]string{
			e.countKey: strconv.Itoa(len(table.Rows)),
		})
		if err != nil {
			return fmt.Errorf("record row count: %w", err)
		}
	}
	return nil
}

// NoopExecutor covers job types whose whole work is their validation
// suite.
type NoopExecutor struct{}

func (NoopExecutor) Execute(ctx context.Context, job *models.Job) error { return nil }

// PromotePair names one staging table and the master it overwrites.
type PromotePair struct {
	Staging string
	Master  string
}

// PromoteExecutor copies validated staging tables over their masters.
// It refuses to run while any job in the session sits quarantined,
// independent of queue-level blocking, so a manually retried promote
// cannot push unvalidated data live.
type PromoteExecutor struct {
	store tablestore.Store
	jobs  JobReader
	pairs []PromotePair
}

// JobReader is the slice of the job store the promote gate needs.
type JobReader interface {
	GetJobsByStatus(ctx context.Context, sessionID string, status models.JobStatus) ([]models.Job, error)
}

func NewPromoteExecutor(store tablestore.Store, jobs JobReader, pairs []PromotePair) *PromoteExecutor {
	return &PromoteExecutor{store: store, jobs: jobs, pairs: pairs}
}

func (e *PromoteExecutor) Execute(ctx context.Context, job *models.Job) error {
	quarantined, err := e.jobs.GetJobsByStatus(ctx, job.SessionID, models.JobQuarantined)
	if err != nil {
		return fmt.Errorf("check quarantine: %w", err)
	}
	if len(quarantined) > 0 {
		return fmt.Errorf("promotion refused: %d quarantined jobs in session %s", len(quarantined), job.SessionID)
	}

	for _, pair := range e.pairs {
		if err := tablestore.Promote(ctx, e.store, pair.Staging, pair.Master); err != nil {
			return fmt.Errorf("promote %s: %w", pair.Staging, err)
		}
	}
	return nil
}

// InventoryExportExecutor writes the inventory adjustment workbook and
// records its path in the session context.
type InventoryExportExecutor struct {
	exporter *export.InventoryExporter
	machine  *state.Machine
	table    string
}

func NewInventoryExportExecutor(exporter *export.InventoryExporter, machine *state.Machine, table string) *InventoryExportExecutor {
	return &InventoryExportExecutor{exporter: exporter, machine: machine, table: table}
}

func (e *InventoryExportExecutor) Execute(ctx context.Context, job *models.Job) error {
	path, err := e.exporter.Export(ctx, e.table, job.SessionID)
	if err != nil {
		return fmt.Errorf("export inventory: %w", err)
	}
	_, err = e.machine.MergeContext(ctx, map[string]string{"inventory_export": path})
	if err != nil {
		return fmt.Errorf("record export path: %w", err)
	}
	return nil
}
