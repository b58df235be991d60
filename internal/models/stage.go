package models

// Stage identifies where the daily sync workflow currently is.
type Stage string

const (
	StageIdle                      Stage = "IDLE"
	StageImportingProducts         Stage = "IMPORTING_PRODUCTS"
	StageImportingOrders           Stage = "IMPORTING_ORDERS"
	StageWaitingOrderExport        Stage = "WAITING_ORDER_EXPORT"
	StageExportingOrders           Stage = "EXPORTING_ORDERS"
	StageWaitingOrderConfirm       Stage = "WAITING_ORDER_CONFIRM"
	StageWaitingERPImport          Stage = "WAITING_ERP_IMPORT"
	StageImportingERP              Stage = "IMPORTING_ERP"
	StageValidating                Stage = "VALIDATING"
	StageWaitingInventoryExport    Stage = "WAITING_INVENTORY_EXPORT"
	StageGeneratingInventoryExport Stage = "GENERATING_INVENTORY_EXPORT"
	StageWaitingInventoryConfirm   Stage = "WAITING_INVENTORY_CONFIRM"
	StageComplete                  Stage = "COMPLETE"
	StageFailed                    Stage = "FAILED"
)

// Terminal reports whether a session in this stage is no longer in flight.
func (s Stage) Terminal() bool {
	return s == StageIdle || s == StageComplete
}

// stageSteps numbers the working stages for the dashboard checklist.
// IDLE, COMPLETE and FAILED carry no step of their own.
var stageSteps = map[Stage]int{
	StageImportingProducts:         1,
	StageImportingOrders:           2,
	StageWaitingOrderExport:        3,
	StageExportingOrders:           4,
	StageWaitingOrderConfirm:       5,
	StageWaitingERPImport:          6,
	StageImportingERP:              7,
	StageValidating:                8,
	StageWaitingInventoryExport:    9,
	StageGeneratingInventoryExport: 10,
	StageWaitingInventoryConfirm:   11,
}

// Step returns the stage's 1-based dashboard step, 0 when it has none.
func (s Stage) Step() int {
	return stageSteps[s]
}
