package parser

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ParsePDF extracts plain text from a PDF, page by page. Pages that fail to
// extract are skipped; a PDF with no extractable text returns an error
// diagnostic rather than empty success.
func ParsePDF(path string) (string, Diagnostics) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", Diagnostics{"error": "pdf_open_failed", "detail": err.Error()}
	}
	defer func() { _ = f.Close() }()

	totalPages := reader.NumPage()
	var sb strings.Builder
	extracted := 0

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		sb.WriteString(text)
		sb.WriteString("\n\n")
		extracted++
	}

	if extracted == 0 {
		return "", Diagnostics{
			"error": "pdf_no_text",
			"pages": fmt.Sprintf("%d", totalPages),
		}
	}

	out := sb.String()
	return out, Diagnostics{
		"pages": fmt.Sprintf("%d", totalPages),
		"chars": fmt.Sprintf("%d", len(out)),
	}
}
