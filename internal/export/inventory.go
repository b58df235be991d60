package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"erpsync/internal/logging"
	"erpsync/internal/tablestore"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// InventoryExporter writes the inventory adjustment workbook the ERP
// operators hand-import at the end of the day.
type InventoryExporter struct {
	store  tablestore.Store
	path   string
	logger zerolog.Logger
}

func NewInventoryExporter(store tablestore.Store, path string, logger *zerolog.Logger) *InventoryExporter {
	l := logging.Component(logger, "export")
	return &InventoryExporter{store: store, path: path, logger: l}
}

// Export renders the named adjustments table into an xlsx file and
// returns the file path. Re-running overwrites the same day's file, so
// a crashed export can simply run again.
func (e *InventoryExporter) Export(ctx context.Context, tableName, sessionID string) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	table, err := e.store.ReadTable(ctx, tableName)
	if err != nil {
		return "", fmt.Errorf("error reading adjustments: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Adjustments"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Inventory adjustments — session %s — %s",
		sessionID, time.Now().Format("02.01.2006")))

	for col, header := range table.Headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	for rowIdx, row := range table.Rows {
		for col, header := range table.Headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+3)
			_ = f.SetCellValue(sheetName, cell, row[header])
		}
	}

	for i := 0; i < len(table.Headers); i++ {
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, name, name, 20)
	}

	if len(table.Headers) > 0 {
		lastCol, _ := excelize.ColumnNumberToName(len(table.Headers))
		_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("inventory_adjustments_%s.xlsx", time.Now().Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("rows", len(table.Rows)).Msg("Inventory export created")
	return filePath, nil
}
