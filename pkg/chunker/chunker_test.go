package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessDocumentToChunks_SplitsOnHeadingsAndBlankLines(t *testing.T) {
	text := "SECTION 1. TERMINATION\nEither party may terminate with 30 days notice.\n\nSECTION 2. CONFIDENTIALITY\nObligations survive for 5 years."

	chunks := PreprocessDocumentToChunks(text, "text", nil)

	require.Len(t, chunks, 2)
	assert.Equal(t, "SECTION 1. TERMINATION", chunks[0].Heading)
	assert.Equal(t, "Either party may terminate with 30 days notice.", chunks[0].Body)
	assert.Equal(t, 1, chunks[0].Ordinal)
	assert.Equal(t, "SECTION 2. CONFIDENTIALITY", chunks[1].Heading)
}

func TestPreprocessDocumentToChunks_IsDeterministic(t *testing.T) {
	text := "Recitals\nThis agreement is made between the parties."

	first := PreprocessDocumentToChunks(text, "text", nil)
	second := PreprocessDocumentToChunks(text, "text", nil)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ChunkID, second[0].ChunkID)
}

func TestPreprocessDocumentToChunks_UnheadedTextBecomesNumberedClause(t *testing.T) {
	chunks := PreprocessDocumentToChunks("no headings here just one line", "text", nil)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Clause 1", chunks[0].Heading)
}

func TestPreprocessDocumentToChunks_EmptyTextYieldsNoChunks(t *testing.T) {
	chunks := PreprocessDocumentToChunks("   \n\n  ", "text", nil)
	assert.Empty(t, chunks)
}

func TestPreprocessDocumentToChunks_SpreadsheetWindowsRows(t *testing.T) {
	metadata := map[string]interface{}{
		"sheets": []interface{}{
			map[string]interface{}{
				"name": "Pricing",
				"rows": []interface{}{
					map[string]interface{}{"row_number": 1, "text": "sku=A price=10"},
					map[string]interface{}{"row_number": 2, "text": "sku=B price=20"},
				},
			},
		},
	}

	chunks := PreprocessDocumentToChunks("", "spreadsheet", metadata)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Pricing rows 1-2", chunks[0].Heading)
	assert.Contains(t, chunks[0].Body, "Row 1: sku=A price=10")
	pointer, ok := chunks[0].Metadata["evidence_pointer"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "spreadsheet", pointer["kind"])
}

func TestIsHeadingLine(t *testing.T) {
	assert.True(t, IsHeadingLine("Section 5.2 Termination"))
	assert.True(t, IsHeadingLine("CONFIDENTIALITY AND NON-DISCLOSURE"))
	assert.True(t, IsHeadingLine("Termination:"))
	assert.False(t, IsHeadingLine("This is a regular sentence in the body."))
	assert.False(t, IsHeadingLine(""))
}

func TestNormalizeText_CollapsesLineEndingsAndTrailingSpace(t *testing.T) {
	got := NormalizeText("line one   \r\nline two\r\tstray\r\n")
	assert.NotContains(t, got, "\r")
	assert.Equal(t, "line one\nline two\n\tstray", got)
}
