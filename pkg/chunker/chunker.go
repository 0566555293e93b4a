// Package chunker splits a normalized document into deterministic, stably
// identified chunks. Chunk IDs are derived from content so reprocessing the
// same document always yields the same chunk set.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SchemaVersion is embedded in every chunk and folded into the pipeline
// cache key; bump it whenever the chunking rules below change shape.
const SchemaVersion = "v1"

const defaultRowWindowSize = 5

// Chunk is one deterministic unit of a document handed to the rule engine
// and LLM stage, and persisted alongside a review run.
type Chunk struct {
	ChunkID       string
	SchemaVersion string
	Ordinal       int
	Heading       string
	Body          string
	StartOffset   *int
	EndOffset     *int
	Metadata      map[string]interface{}
}

var headingSectionRe = regexp.MustCompile(`(?i)^(section\s+)?\d+(\.\d+)*\s*[).:-]?\s+.+$`)
var blankLineRe = regexp.MustCompile(`\n\s*\n+`)

// StableChunkID derives a chunk identifier from its position and content so
// the same logical chunk keeps the same id across reruns.
func StableChunkID(ordinal int, heading, body string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", ordinal, heading, body)))
	return "chk_" + hex.EncodeToString(sum[:])[:24]
}

// NormalizeText collapses line endings and trims trailing whitespace per
// line before chunking, so chunk boundaries never depend on incidental
// whitespace.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// IsHeadingLine reports whether a line looks like a clause heading: a
// numbered section ("Section 1.2 Termination"), a short ALL-CAPS line, or a
// short line ending in a colon.
func IsHeadingLine(line string) bool {
	stripped := strings.TrimSpace(line)
	if stripped == "" {
		return false
	}
	if headingSectionRe.MatchString(stripped) {
		return true
	}
	if utf8.RuneCountInString(stripped) <= 120 && strings.ToUpper(stripped) == stripped && strings.Contains(stripped, " ") {
		return true
	}
	if strings.HasSuffix(stripped, ":") && utf8.RuneCountInString(stripped) <= 120 {
		return true
	}
	return false
}

func splitIntoBlocks(text string) []string {
	raw := blankLineRe.Split(text, -1)
	blocks := make([]string, 0, len(raw))
	for _, b := range raw {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			blocks = append(blocks, trimmed)
		}
	}
	return blocks
}

func intPtr(v int) *int {
	return &v
}

// PreprocessDocumentToChunks splits document text, or spreadsheet rows, into
// deterministic chunk artifacts. Spreadsheet documents are windowed by row;
// prose documents are split on blank lines with heading detection.
func PreprocessDocumentToChunks(text string, sourceType string, ingestionMetadata map[string]interface{}) []Chunk {
	if sourceType == "spreadsheet" && ingestionMetadata != nil {
		if spreadsheetChunks := spreadsheetChunksFromMetadata(ingestionMetadata, defaultRowWindowSize); len(spreadsheetChunks) > 0 {
			return spreadsheetChunks
		}
	}

	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	blocks := splitIntoBlocks(normalized)
	chunks := make([]Chunk, 0, len(blocks))
	cursor := 0

	for i, block := range blocks {
		ordinal := i + 1
		lines := strings.Split(block, "\n")
		firstLine := ""
		if len(lines) > 0 {
			firstLine = strings.TrimSpace(lines[0])
		}

		var heading, body string
		if IsHeadingLine(firstLine) {
			heading = firstLine
			body = strings.TrimSpace(strings.Join(lines[1:], "\n"))
		} else {
			body = block
		}
		if heading == "" {
			heading = fmt.Sprintf("Clause %d", ordinal)
		}
		if body == "" {
			body = heading
		}

		startOffset := -1
		if rest := normalized[cursor:]; rest != "" {
			if idx := strings.Index(rest, block); idx >= 0 {
				startOffset = cursor + idx
			}
		}
		if startOffset == -1 {
			startOffset = strings.Index(normalized, block)
		}

		var startPtr, endPtr *int
		if startOffset >= 0 {
			startPtr = intPtr(startOffset)
			end := startOffset + len(block)
			endPtr = intPtr(end)
			cursor = end
		}

		chunks = append(chunks, Chunk{
			ChunkID:       StableChunkID(ordinal, heading, body),
			SchemaVersion: SchemaVersion,
			Ordinal:       ordinal,
			Heading:       heading,
			Body:          body,
			StartOffset:   startPtr,
			EndOffset:     endPtr,
			Metadata:      map[string]interface{}{},
		})
	}

	if len(chunks) == 0 {
		chunks = append(chunks, Chunk{
			ChunkID:       StableChunkID(1, "Document", normalized),
			SchemaVersion: SchemaVersion,
			Ordinal:       1,
			Heading:       "Document",
			Body:          normalized,
			StartOffset:   intPtr(0),
			EndOffset:     intPtr(len(normalized)),
			Metadata:      map[string]interface{}{},
		})
	}

	return chunks
}

func rowNumber(row map[string]interface{}) interface{} {
	if v, ok := row["row_number"]; ok {
		return v
	}
	return nil
}

func spreadsheetChunksFromMetadata(metadata map[string]interface{}, rowWindowSize int) []Chunk {
	sheetsRaw, _ := metadata["sheets"].([]interface{})
	chunks := make([]Chunk, 0)
	ordinal := 1

	for _, s := range sheetsRaw {
		sheet, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		sheetName, _ := sheet["name"].(string)
		if sheetName == "" {
			sheetName = "Sheet"
		}
		rows, _ := sheet["rows"].([]interface{})
		if len(rows) == 0 {
			continue
		}

		for idx := 0; idx < len(rows); idx += rowWindowSize {
			end := idx + rowWindowSize
			if end > len(rows) {
				end = len(rows)
			}
			window := rows[idx:end]
			if len(window) == 0 {
				continue
			}

			firstRow, _ := window[0].(map[string]interface{})
			lastRow, _ := window[len(window)-1].(map[string]interface{})
			rowStart := rowNumber(firstRow)
			rowEnd := rowNumber(lastRow)
			heading := fmt.Sprintf("%s rows %v-%v", sheetName, rowStart, rowEnd)

			bodyLines := make([]string, 0, len(window))
			for _, rw := range window {
				row, ok := rw.(map[string]interface{})
				if !ok {
					continue
				}
				rowText, _ := row["text"].(string)
				if rowText == "" {
					continue
				}
				bodyLines = append(bodyLines, fmt.Sprintf("Row %v: %s", rowNumber(row), rowText))
			}
			body := strings.TrimSpace(strings.Join(bodyLines, "\n"))
			if body == "" {
				body = heading
			}

			chunks = append(chunks, Chunk{
				ChunkID:       StableChunkID(ordinal, heading, body),
				SchemaVersion: SchemaVersion,
				Ordinal:       ordinal,
				Heading:       heading,
				Body:          body,
				Metadata: map[string]interface{}{
					"source": "spreadsheet",
					"evidence_pointer": map[string]interface{}{
						"kind":      "spreadsheet",
						"sheet":     sheetName,
						"row_start": rowStart,
						"row_end":   rowEnd,
					},
				},
			})
			ordinal++
		}
	}

	return chunks
}
