package parser

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseXLSX flattens each worksheet into pipe-delimited rows, one sheet per
// section, so cell values stay verbatim searchable.
func ParseXLSX(path string) (string, Diagnostics) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", Diagnostics{"error": "xlsx_open_failed", "detail": err.Error()}
	}
	defer func() { _ = f.Close() }()

	var sb strings.Builder
	sheets := 0
	rowsTotal := 0

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		sb.WriteString(sheet)
		sb.WriteString(":\n")
		for _, row := range rows {
			sb.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		sb.WriteString("\n")
		sheets++
		rowsTotal += len(rows)
	}

	if sheets == 0 {
		return "", Diagnostics{"error": "xlsx_no_data"}
	}

	out := sb.String()
	return out, Diagnostics{
		"sheets": fmt.Sprintf("%d", sheets),
		"rows":   fmt.Sprintf("%d", rowsTotal),
		"chars":  fmt.Sprintf("%d", len(out)),
	}
}
