package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/auditsync/internal/domain"
	"github.com/rpattn/auditsync/internal/flatten"
)

const excelSheet = "Audit"

// excelSink writes one workbook per audit holding its flattened rows.
type excelSink struct {
	dir   string
	names namer
}

func (s *excelSink) Format() Format { return FormatExcel }

func (s *excelSink) Export(_ context.Context, record domain.Record) error {
	rows, err := flatten.Audit(record.Body)
	if err != nil {
		return fmt.Errorf("flatten %s: %w", record.ID, err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", excelSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(excelSheet)
	if err != nil {
		return fmt.Errorf("open sheet writer: %w", err)
	}

	if err := sw.SetRow("A1", cells(flatten.AuditColumns)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells(row.Values(flatten.AuditColumns))); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	path := filepath.Join(s.dir, s.names.name(record)+".xlsx")
	return promote(path, func(file *os.File) error {
		return f.Write(file)
	})
}

func cells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
