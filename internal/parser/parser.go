// Package parser provides the file-format parser registry. Each parser
// exposes the uniform contract parse(path) -> (text, diagnostics) and never
// crashes on malformed input: failures return empty text with an error
// diagnostic. The indexer consumes parsers only through the registry.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Diagnostics is the per-parse metadata mapping. Common keys: "error",
// "pages", "chars", plus format-specific entries.
type Diagnostics map[string]string

// HasError reports whether the parse failed.
func (d Diagnostics) HasError() bool {
	_, ok := d["error"]
	return ok
}

// Error returns the error code, or empty string.
func (d Diagnostics) Error() string {
	return d["error"]
}

// Func is the parser contract: extract plain text from the file at path.
type Func func(path string) (string, Diagnostics)

// Registry maps file extensions (lowercase, with dot) to parsers.
type Registry struct {
	parsers map[string]Func
}

// NewRegistry creates a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Func)}
	for _, ext := range []string{".txt", ".md", ".log", ".rst"} {
		r.Register(ext, ParseText)
	}
	r.Register(".csv", ParseCSV)
	r.Register(".pdf", ParsePDF)
	r.Register(".xlsx", ParseXLSX)
	return r
}

// Register adds or replaces a parser for an extension. Panics inside the
// parser are converted to an error diagnostic.
func (r *Registry) Register(ext string, fn Func) {
	r.parsers[strings.ToLower(ext)] = recovering(fn)
}

// Lookup returns the parser for the file's extension, or false when the
// extension is not supported.
func (r *Registry) Lookup(path string) (Func, bool) {
	fn, ok := r.parsers[strings.ToLower(filepath.Ext(path))]
	return fn, ok
}

// Extensions returns the registered extensions.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		out = append(out, ext)
	}
	return out
}

// recovering wraps a parser so that a panic becomes a diagnostic instead of
// crashing the indexing run.
func recovering(fn Func) Func {
	return func(path string) (text string, diags Diagnostics) {
		defer func() {
			if rec := recover(); rec != nil {
				text = ""
				diags = Diagnostics{
					"error":  "parse_panic",
					"detail": fmt.Sprint(rec),
				}
			}
		}()
		return fn(path)
	}
}

// LooksBinary reports whether extracted text is clearly binary garbage: the
// ratio of non-printable, non-whitespace runes exceeds the threshold.
func LooksBinary(text string, threshold float64) bool {
	if text == "" {
		return false
	}
	total := 0
	bad := 0
	for _, r := range text {
		total++
		if r == unicode.ReplacementChar {
			bad++
			continue
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			bad++
		}
	}
	return float64(bad)/float64(total) > threshold
}
