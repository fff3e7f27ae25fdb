package guard

import (
	"regexp"
	"strings"
	"unicode"
)

// citation decorations stripped before segmentation so downstream steps
// see a clean sentence surface.
var (
	bracketCitationRegex = regexp.MustCompile(`\[[0-9]+(,\s*[0-9]+)*\]`)
	sourceTagRegex       = regexp.MustCompile(`(?i)\((?:source|see|from)[^)]*\)`)
	footnoteMarkRegex    = regexp.MustCompile(`\^[0-9]+`)
)

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "etc": true, "vs": true, "cf": true,
	"fig": true, "no": true, "approx": true, "max": true, "min": true,
}

// ClaimExtractor splits a model response into atomic factual claims using
// deterministic sentence segmentation.
type ClaimExtractor struct {
	// MinLength drops fragments shorter than this many runes.
	MinLength int
}

// NewClaimExtractor creates an extractor with the default minimum length.
func NewClaimExtractor() *ClaimExtractor {
	return &ClaimExtractor{MinLength: 12}
}

// Extract returns the factual claims of a response, in document order.
// Questions and list markers are dropped; citation decorations are
// stripped first.
func (e *ClaimExtractor) Extract(text string) []string {
	clean := StripCitations(text)

	var claims []string
	for _, sentence := range segmentSentences(clean) {
		s := strings.TrimSpace(sentence)
		s = strings.TrimLeft(s, "-*•0123456789. \t")
		if len([]rune(s)) < e.MinLength {
			continue
		}
		if strings.HasSuffix(s, "?") {
			continue
		}
		claims = append(claims, s)
	}
	return claims
}

// StripCitations removes citation decorations from a response.
func StripCitations(text string) string {
	out := bracketCitationRegex.ReplaceAllString(text, "")
	out = sourceTagRegex.ReplaceAllString(out, "")
	out = footnoteMarkRegex.ReplaceAllString(out, "")
	return strings.Join(strings.Fields(out), " ")
}

// segmentSentences splits on sentence-final punctuation followed by
// whitespace and an upper-case or digit start, skipping known
// abbreviations and decimal numbers.
func segmentSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 >= len(runes) {
			break
		}
		if !unicode.IsSpace(runes[i+1]) {
			continue
		}
		// Find the next non-space rune; a sentence must start with an
		// upper-case letter or a digit.
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j >= len(runes) || !(unicode.IsUpper(runes[j]) || unicode.IsDigit(runes[j])) {
			continue
		}
		if r == '.' {
			if word := trailingWord(runes[start:i]); abbreviations[strings.ToLower(word)] {
				continue
			}
			// A digit on both sides of the period is a decimal, not a
			// boundary (the whitespace check above already covers most).
			if i > 0 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[j]) {
				continue
			}
		}
		sentences = append(sentences, string(runes[start:i+1]))
		start = j
		i = j - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// trailingWord returns the final word of a rune span, without its period.
func trailingWord(runes []rune) string {
	end := len(runes)
	start := end
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	return strings.TrimRight(string(runes[start:end]), ".")
}
