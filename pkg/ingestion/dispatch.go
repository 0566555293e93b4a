package ingestion

import (
	"path/filepath"
	"strings"
)

// Document is the normalized shape handed to the review pipeline: plain
// text plus whatever structured metadata the reader produced.
type Document struct {
	Text              string
	SourceType        string
	IngestionMetadata map[string]interface{}
}

// ReadDocument dispatches on file extension to the matching reader. CSV is
// fully supported; XLSX and PDF are recognized but return
// ErrUnsupportedFormat until a parser is wired in. Anything else is
// treated as plain UTF-8 text, with invalid byte sequences replaced so
// ingestion never hard-fails on encoding noise.
func ReadDocument(filename string, raw []byte) (Document, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		text, metadata, err := ParseCSVBytes(raw)
		if err != nil {
			return Document{}, err
		}
		return Document{Text: text, SourceType: "spreadsheet", IngestionMetadata: metadata}, nil
	case ".xlsx", ".xls":
		_, _, err := ParseXLSXBytes(raw)
		return Document{}, err
	case ".pdf":
		return Document{}, ErrUnsupportedFormat
	default:
		return Document{Text: toValidUTF8(raw), SourceType: "text"}, nil
	}
}

func toValidUTF8(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}
