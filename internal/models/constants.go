package models

const (
	StepPending = "pending"
	StepRunning = "running"
	StepDone    = "done"
	StepError   = "error"
)

const (
	// DefaultSummaryThreshold: above this many discrepancies a single
	// summary task replaces per-entity tasks.
	DefaultSummaryThreshold = 10

	// SummaryKeyPreview keys listed in a summary task's notes.
	SummaryKeyPreview = 5

	// DefaultStaleThresholdHours before a non-terminal session counts
	// as abandoned.
	DefaultStaleThresholdHours = 20

	// DefaultRecentFailureWindowHours for the health endpoint's
	// recently-failed job count.
	DefaultRecentFailureWindowHours = 24

	// DefaultStatusCacheTTL seconds for the dashboard snapshot cache.
	DefaultStatusCacheTTLSeconds = 15

	// DefaultLockTTLSeconds for the advisory run lock.
	DefaultLockTTLSeconds = 300

	// DefaultWorkerBatchSize jobs claimed per poll.
	DefaultWorkerBatchSize = 20

	// DefaultPollIntervalSeconds between worker polls.
	DefaultPollIntervalSeconds = 2
)

// Job types for the daily pipeline.
const (
	JobTypeImportProducts  = "import_products"
	JobTypeImportOrders    = "import_orders"
	JobTypeExportOrders    = "export_orders"
	JobTypeImportERP       = "import_erp"
	JobTypeValidateCatalog = "validate_catalog"
	JobTypeValidateOrders  = "validate_orders"
	JobTypePromoteCatalog  = "promote_catalog"
	JobTypeInventoryExport = "inventory_export"
)
