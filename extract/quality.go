package extract

import (
	"strings"
	"unicode"
)

// pdfQuality captures metrics used to decide whether an embedded text layer
// is trustworthy or the page needs OCR.
type pdfQuality struct {
	PageCount      int
	CharsPerPage   float64
	PrintableRatio float64
	WordlikeRatio  float64
	HasImages      bool
}

// needsOCR reports whether the text layer is too thin or too garbled to use.
func (q *pdfQuality) needsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImages) || q.PrintableRatio < 0.85
}

// printableRatio returns the ratio of printable characters in text.
// Private Use Area runes, U+FFFD, and non-whitespace control characters
// count as garbage.
func printableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == 0xFFFD {
		return true
	}
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}

// wordlikeRatio returns the ratio of word-like tokens (length 2-15).
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
