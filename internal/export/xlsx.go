package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/beleg-scanner/internal/extraction"
)

const sheetName = "Belege"

// 1-based columns of the money values, kept numeric in the workbook
const (
	amountColumn = 4  // betrag
	netColumn    = 9  // netto
	taxColumn    = 10 // steuer
)

// WriteXLSX writes the records as a workbook with a header row, one row per
// record and a closing total row
func WriteXLSX(w io.Writer, records []extraction.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := xlsxRow(&records[i])
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	labelCell, err := excelize.CoordinatesToCellName(amountColumn-1, len(records)+2)
	if err != nil {
		return err
	}
	totalCell, err := excelize.CoordinatesToCellName(amountColumn, len(records)+2)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheetName, labelCell, "Gesamtvolumen"); err != nil {
		return err
	}
	if err := f.SetCellValue(sheetName, totalCell, extraction.TotalAmount(records)); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// xlsxRow keeps amounts numeric so spreadsheets can sum them
func xlsxRow(r *extraction.Record) []any {
	row := Row(r)
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	out[amountColumn-1] = r.Amount
	out[netColumn-1] = r.Net
	out[taxColumn-1] = r.Tax
	return out
}
