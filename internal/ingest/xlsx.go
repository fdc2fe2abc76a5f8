package ingest

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readWorkbook reads the first sheet of an .xlsx workbook as a table.
func readWorkbook(raw []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	// Skip leading blank rows so a title-less sheet still yields its header.
	for len(rows) > 0 && isBlank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	t := newTable(rows[0], rows[1:])
	t.Encoding = "xlsx"
	return t, nil
}
