// Package ingest reads heterogeneous historical incident exports of unknown
// encoding and column naming and normalizes them into one models.Dataset.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyTable is returned when a buffer holds no header row.
var ErrEmptyTable = errors.New("no header row")

// IngestError reports a source that could not be read as a table under any scheme.
type IngestError struct {
	Source string
	Err    error
}

func (e *IngestError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("ingest: %v", e.Err)
	}
	return fmt.Sprintf("ingest %s: %v", e.Source, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Table is a decoded delimited table. Every row has len(Headers) cells.
type Table struct {
	Headers  []string
	Rows     [][]string
	Encoding string // name of the scheme that decoded the buffer
}

// Column returns the cells of column i, or nil when i is out of range.
func (t *Table) Column(i int) []string {
	if i < 0 || i >= len(t.Headers) {
		return nil
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// ReadTable decodes raw into a Table. Workbooks are read directly; text is
// decoded by trying the detected encoding, UTF-8 with BOM, then the legacy
// Japanese encodings, and finally a lossy decode.
func ReadTable(raw []byte) (*Table, error) {
	if isWorkbook(raw) {
		t, err := readWorkbook(raw)
		if err != nil {
			return nil, &IngestError{Err: err}
		}
		return t, nil
	}

	var lastErr error
	for _, cand := range candidates(raw) {
		text, ok := decodeStrict(raw, cand.enc)
		if !ok {
			continue
		}
		t, err := parseDelimited(text)
		if err != nil {
			lastErr = err
			continue
		}
		t.Encoding = cand.name
		return t, nil
	}

	t, err := parseDelimited(decodeLossy(raw))
	if err != nil {
		if lastErr != nil {
			err = fmt.Errorf("%w (last strict attempt: %v)", err, lastErr)
		}
		return nil, &IngestError{Err: err}
	}
	t.Encoding = "lossy-utf-8"
	return t, nil
}

func parseDelimited(text string) (*Table, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyTable
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse delimited text: %w", err)
		}
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}
	return newTable(records[0], records[1:]), nil
}

func newTable(header []string, rows [][]string) *Table {
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(h)
	}
	t := &Table{Headers: headers, Rows: make([][]string, 0, len(rows))}
	for _, rec := range rows {
		if isBlank(rec) {
			continue
		}
		row := make([]string, len(headers))
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// detectDelimiter picks the most frequent of comma, semicolon and tab in the header line.
func detectDelimiter(text string) rune {
	line := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestCount := ',', strings.Count(line, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var zipMagic = []byte("PK\x03\x04")

func isWorkbook(raw []byte) bool {
	return bytes.HasPrefix(raw, zipMagic)
}
