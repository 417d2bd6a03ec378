package ledger

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const usageSheet = "Usage"

var usageHeader = []any{"user_id", "message_count", "total_duration_seconds"}

// WriteXLSX writes rows as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, rows []Usage) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", usageSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(usageSheet, "A1", &usageHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, u := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{u.UserID, u.MessageCount, u.TotalDurationSeconds}
		if err := f.SetSheetRow(usageSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
