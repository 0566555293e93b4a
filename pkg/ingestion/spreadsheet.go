// Package ingestion turns uploaded document bytes into the (text,
// ingestion_metadata) shape pkg/chunker expects. CSV is parsed directly;
// other spreadsheet formats are acknowledged but not yet supported.
package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// SpreadsheetSchemaVersion is recorded in ingestion_metadata so downstream
// consumers can tell which canonicalization rules produced it.
const SpreadsheetSchemaVersion = "v1"

// ErrUnsupportedFormat is returned for document formats this build cannot
// parse yet.
var ErrUnsupportedFormat = errors.New("ingestion: unsupported document format")

// Row is one canonicalized spreadsheet row.
type Row struct {
	RowNumber int
	Cells     []string
	CellMap   map[string]string
	Text      string
}

// Sheet is one canonicalized spreadsheet tab.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []Row
}

func normalizeCell(v string) string {
	return strings.TrimSpace(v)
}

func rowTextFromMap(order []string, cellMap map[string]string) string {
	pairs := make([]string, 0, len(order))
	for _, k := range order {
		if v := cellMap[k]; v != "" {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return strings.Join(pairs, " ; ")
}

func anyNonEmpty(values []string) bool {
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}

func sheetToCanonical(name string, rows [][]string) Sheet {
	if len(rows) == 0 {
		return Sheet{Name: name, Columns: []string{}, Rows: []Row{}}
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	hasHeader := anyNonEmpty(header)

	dataRows := rows
	rowStart := 1
	if hasHeader {
		dataRows = rows[1:]
		rowStart = 2
	}

	canonical := make([]Row, 0, len(dataRows))
	for i, row := range dataRows {
		colCount := len(row)
		if len(header) > colCount {
			colCount = len(header)
		}
		cells := make([]string, colCount)
		for idx := 0; idx < colCount; idx++ {
			if idx < len(row) {
				cells[idx] = strings.TrimSpace(row[idx])
			}
		}

		order := make([]string, 0, colCount)
		cellMap := make(map[string]string, colCount)
		for idx, val := range cells {
			key := fmt.Sprintf("col_%d", idx+1)
			if idx < len(header) && header[idx] != "" {
				key = header[idx]
			}
			order = append(order, key)
			cellMap[key] = val
		}

		canonical = append(canonical, Row{
			RowNumber: rowStart + i,
			Cells:     cells,
			CellMap:   cellMap,
			Text:      rowTextFromMap(order, cellMap),
		})
	}

	columns := []string{}
	if hasHeader {
		columns = header
	}
	return Sheet{Name: name, Columns: columns, Rows: canonical}
}

func canonicalToText(sheets []Sheet) string {
	var b strings.Builder
	for _, sheet := range sheets {
		name := sheet.Name
		if name == "" {
			name = "Sheet"
		}
		b.WriteString(fmt.Sprintf("[Sheet: %s]\n", name))
		for _, row := range sheet.Rows {
			if row.Text == "" {
				continue
			}
			b.WriteString(fmt.Sprintf("Row %d: %s\n", row.RowNumber, row.Text))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func sheetsToMetadata(sheets []Sheet) map[string]interface{} {
	sheetList := make([]interface{}, 0, len(sheets))
	for _, sheet := range sheets {
		rows := make([]interface{}, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cellMap := make(map[string]interface{}, len(row.CellMap))
			for k, v := range row.CellMap {
				cellMap[k] = v
			}
			cells := make([]interface{}, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = c
			}
			rows = append(rows, map[string]interface{}{
				"row_number": row.RowNumber,
				"cells":      cells,
				"cell_map":   cellMap,
				"text":       row.Text,
			})
		}
		columns := make([]interface{}, len(sheet.Columns))
		for i, c := range sheet.Columns {
			columns[i] = c
		}
		sheetList = append(sheetList, map[string]interface{}{
			"name":    sheet.Name,
			"columns": columns,
			"rows":    rows,
		})
	}
	return map[string]interface{}{
		"kind":           "spreadsheet",
		"schema_version": SpreadsheetSchemaVersion,
		"sheets":         sheetList,
	}
}

func stripUTF8BOM(raw []byte) []byte {
	return bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
}

// ParseCSVBytes parses a CSV document into its canonical text rendering and
// structured ingestion metadata, matching the "one implicit Sheet1" shape
// spreadsheet uploads use elsewhere in this system.
func ParseCSVBytes(raw []byte) (string, map[string]interface{}, error) {
	decoded := stripUTF8BOM(raw)
	if !utf8.Valid(decoded) {
		decoded = bytes.ToValidUTF8(decoded, []byte{})
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("ingestion: parse csv: %w", err)
		}
		normalized := make([]string, len(record))
		for i, cell := range record {
			normalized[i] = normalizeCell(cell)
		}
		rows = append(rows, normalized)
	}

	sheets := []Sheet{sheetToCanonical("Sheet1", rows)}
	return canonicalToText(sheets), sheetsToMetadata(sheets), nil
}

// ParseXLSXBytes is not implemented: no spreadsheet workbook library is
// wired into this module. Callers should surface ErrUnsupportedFormat to
// the client and suggest a CSV export.
func ParseXLSXBytes(_ []byte) (string, map[string]interface{}, error) {
	return "", nil, ErrUnsupportedFormat
}
