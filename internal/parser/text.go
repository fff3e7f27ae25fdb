package parser

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// maxTextFileSize bounds plain-text reads; larger files are rejected rather
// than loaded into memory.
const maxTextFileSize = 64 << 20 // 64 MiB

// ParseText reads a plain-text file as-is.
func ParseText(path string) (string, Diagnostics) {
	info, err := os.Stat(path)
	if err != nil {
		return "", Diagnostics{"error": "file_not_found"}
	}
	if info.Size() > maxTextFileSize {
		return "", Diagnostics{
			"error": "file_too_large",
			"bytes": fmt.Sprintf("%d", info.Size()),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", Diagnostics{"error": "read_failed"}
	}

	text := string(data)
	return text, Diagnostics{"chars": fmt.Sprintf("%d", len(text))}
}

// ParseCSV flattens a CSV file into one line per record with tab-separated
// fields, so numeric cells remain verbatim searchable.
func ParseCSV(path string) (string, Diagnostics) {
	f, err := os.Open(path)
	if err != nil {
		return "", Diagnostics{"error": "file_not_found"}
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // ragged rows are common in exports

	records, err := reader.ReadAll()
	if err != nil {
		return "", Diagnostics{"error": "csv_malformed", "detail": err.Error()}
	}

	var sb strings.Builder
	for _, rec := range records {
		sb.WriteString(strings.Join(rec, "\t"))
		sb.WriteByte('\n')
	}

	text := sb.String()
	return text, Diagnostics{
		"rows":  fmt.Sprintf("%d", len(records)),
		"chars": fmt.Sprintf("%d", len(text)),
	}
}
