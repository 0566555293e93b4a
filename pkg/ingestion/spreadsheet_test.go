package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSVBytes_HeaderRowBecomesColumnKeys(t *testing.T) {
	csv := "sku,price\nA,10\nB,20\n"

	text, metadata, err := ParseCSVBytes([]byte(csv))
	require.NoError(t, err)
	assert.Contains(t, text, "[Sheet: Sheet1]")
	assert.Contains(t, text, "Row 2: sku=A ; price=10")
	assert.Contains(t, text, "Row 3: sku=B ; price=20")

	sheets, ok := metadata["sheets"].([]interface{})
	require.True(t, ok)
	require.Len(t, sheets, 1)
}

func TestParseCSVBytes_StripsUTF8BOM(t *testing.T) {
	bom := []byte{0xEF, 0xBB, 0xBF}
	csv := append(bom, []byte("a,b\n1,2\n")...)

	text, _, err := ParseCSVBytes(csv)
	require.NoError(t, err)
	assert.NotContains(t, text, "﻿")
}

func TestParseCSVBytes_NoHeaderTreatsAllRowsAsData(t *testing.T) {
	// An all-blank first row means there is no header.
	csv := ",\n1,2\n3,4\n"

	_, metadata, err := ParseCSVBytes([]byte(csv))
	require.NoError(t, err)

	sheets := metadata["sheets"].([]interface{})
	sheet := sheets[0].(map[string]interface{})
	rows := sheet["rows"].([]interface{})
	require.Len(t, rows, 3)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, 1, first["row_number"])
}

func TestReadDocument_DispatchesOnExtension(t *testing.T) {
	doc, err := ReadDocument("clauses.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet", doc.SourceType)

	_, err = ReadDocument("contract.xlsx", []byte{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadDocument("contract.pdf", []byte{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	doc, err = ReadDocument("contract.txt", []byte("SECTION 1. TERMINATION\nBody text."))
	require.NoError(t, err)
	assert.Equal(t, "text", doc.SourceType)
}
