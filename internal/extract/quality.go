package extract

import "strings"

// minTextLength is the minimum extracted character count for a document to
// count as text-based at all.
const minTextLength = 50

// minReadableRatio is the minimum fraction of readable characters before the
// text layer is considered scanner garbage.
const minReadableRatio = 0.4

// domainKeywords are words expected in any genuine price report. Fewer than
// two hits means the text layer does not belong to a price table.
var domainKeywords = []string{
	"rice", "price", "commodity", "peso", "pork", "chicken", "fish", "beef",
}

// isGarbageText reports whether extracted text is unusable, which almost
// always means the page is a scan with a vestigial or absent text layer.
func isGarbageText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minTextLength {
		return true
	}

	readable := 0
	total := 0
	for _, r := range text {
		total++
		if isReadableRune(r) {
			readable++
		}
	}
	if total > 0 && float64(readable)/float64(total) < minReadableRatio {
		return true
	}

	lower := strings.ToLower(text)
	found := 0
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			found++
		}
	}
	return found < 2
}

func isReadableRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ' || r == '\n' || r == '\r' || r == '\t':
		return true
	}
	switch r {
	case '.', ',', '/', '(', ')', '-', '₱', '%':
		return true
	}
	return false
}
