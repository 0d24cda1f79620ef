package parser

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"auction-bulkops/internal/models"
)

// WorkbookParser reads the first sheet of an .xlsx workbook row by row.
type WorkbookParser struct {
	// Sheet overrides the sheet to read; empty means the first one.
	Sheet string
}

func (p WorkbookParser) Parse(ctx context.Context, r io.Reader) ([]models.ImportRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := p.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrMissingHeader
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var (
		cols    columns
		records []models.ImportRecord
	)
	for rowNo := 0; rows.Next(); rowNo++ {
		if rowNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cells, cellErr := rows.Columns()

		if rowNo == 0 {
			if cellErr != nil {
				return nil, fmt.Errorf("read header: %w", cellErr)
			}
			if blank(cells) {
				return nil, ErrMissingHeader
			}
			if cols, err = mapHeader(cells); err != nil {
				return nil, err
			}
			continue
		}

		if cellErr != nil {
			records = append(records, models.ImportRecord{
				RowNumber: rowNo,
				Malformed: cellErr.Error(),
			})
			continue
		}
		if blank(cells) {
			continue
		}
		records = append(records, cols.record(rowNo, cells))
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	if cols == nil {
		return nil, ErrMissingHeader
	}
	return records, nil
}
