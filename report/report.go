// Package report folds accepted invoice records into a tabular summary
// with a computed total and persists it as a spreadsheet.
package report

import (
	"fmt"
	"path/filepath"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/pmehra/invoice-harvest/model"
)

// FileName is the fixed name of the summary report inside the output
// directory.
const FileName = "invoices_report.xlsx"

const (
	sheetName       = "Invoices"
	subjectMaxRunes = 255
	maxColumnWidth  = 50
)

// Table is the aggregated report: a header, one row per record in
// processing order, and a total row.
type Table struct {
	Header   []string
	Rows     [][]string
	TotalRow []string
	Total    decimal.Decimal
}

// Aggregate folds records into a Table, preserving insertion order. The
// total sums every amount; a negative amount cannot come out of the
// builder, but if one ever does it is flagged and excluded rather than
// corrupting the total.
func Aggregate(records []model.InvoiceRecord) Table {
	t := Table{
		Header: []string{"Order ID", "Subject", "Amount (₹)", "File Name"},
		Rows:   make([][]string, 0, len(records)),
		Total:  decimal.Zero,
	}

	for _, rec := range records {
		amountCell := "Invalid"
		if !rec.Amount.IsNegative() {
			amountCell = FormatINR(rec.Amount)
			t.Total = t.Total.Add(rec.Amount)
		}
		t.Rows = append(t.Rows, []string{
			rec.OrderID,
			truncate(rec.Subject, subjectMaxRunes),
			amountCell,
			filepath.Base(rec.Path),
		})
	}

	t.TotalRow = []string{"TOTAL", "", FormatINR(t.Total), ""}
	return t
}

// WriteXLSX persists the table with bold header and total rows and
// auto-sized columns. A blank row separates the data from the total.
func WriteXLSX(t Table, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create bold style: %w", err)
	}

	if err := writeRow(f, 1, t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := writeRow(f, i+2, row); err != nil {
			return err
		}
	}

	// Blank separator row, then the total.
	totalRowNum := len(t.Rows) + 3
	if err := writeRow(f, totalRowNum, t.TotalRow); err != nil {
		return err
	}

	columns := len(t.Header)
	if err := styleRow(f, bold, 1, columns); err != nil {
		return err
	}
	if err := styleRow(f, bold, totalRowNum, columns); err != nil {
		return err
	}
	if err := sizeColumns(f, t, columns); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report %s: %w", path, err)
	}
	return nil
}

// FormatINR renders a decimal amount as Indian rupees with thousands
// separators, e.g. ₹1,234.50.
func FormatINR(d decimal.Decimal) string {
	cents := d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	return money.New(cents, money.INR).Display()
}

func writeRow(f *excelize.File, rowNum int, values []string) error {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

func styleRow(f *excelize.File, style, rowNum, columns int) error {
	start, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(columns, rowNum)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheetName, start, end, style)
}

func sizeColumns(f *excelize.File, t Table, columns int) error {
	for col := 0; col < columns; col++ {
		width := len(t.Header[col])
		for _, row := range t.Rows {
			if col < len(row) && len(row[col]) > width {
				width = len(row[col])
			}
		}
		if col < len(t.TotalRow) && len(t.TotalRow[col]) > width {
			width = len(t.TotalRow[col])
		}

		width += 2
		if width > maxColumnWidth {
			width = maxColumnWidth
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, name, name, float64(width)); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
