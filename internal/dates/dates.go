// Package dates parses publication dates out of publisher link text, report
// URLs, and extracted PDF text. The publisher is not consistent: link text
// like "February 8, 2026", URL stems like "02082026-PRICE" or
// "february-8-2026", and the occasional month typo all occur in the wild.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthNumbers = map[string]time.Month{
	"january":   time.January,
	"february":  time.February,
	"march":     time.March,
	"april":     time.April,
	"may":       time.May,
	"june":      time.June,
	"july":      time.July,
	"august":    time.August,
	"september": time.September,
	"october":   time.October,
	"november":  time.November,
	"december":  time.December,
	// Publisher typo observed in historical link text.
	"marhc": time.March,
}

var urlStemRe = regexp.MustCompile(`(?i)(\d{2})(\d{2})(\d{4})-PRICE`)

// FromLinkText extracts a date from index link text like "February 8, 2026".
func FromLinkText(text string) *time.Time {
	lower := strings.ToLower(text)
	for name, month := range monthNumbers {
		re := regexp.MustCompile(name + `\s+(\d{1,2}),?\s*(\d{4})`)
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if t, ok := makeDate(m[2], month, m[1]); ok {
			return t
		}
	}
	return nil
}

// FromURL extracts a date from a report URL, trying the MMDDYYYY-PRICE stem
// first and month-day-year slugs second.
func FromURL(rawURL string) *time.Time {
	if m := urlStemRe.FindStringSubmatch(rawURL); m != nil {
		month, _ := strconv.Atoi(m[1])
		if month >= 1 && month <= 12 {
			if t, ok := makeDate(m[3], time.Month(month), m[2]); ok {
				return t
			}
		}
	}

	lower := strings.ToLower(rawURL)
	for name, month := range monthNumbers {
		re := regexp.MustCompile(name + `-(\d{1,2})-(\d{4})`)
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if t, ok := makeDate(m[2], month, m[1]); ok {
			return t
		}
	}
	return nil
}

// FromDocumentText extracts a date from extracted PDF text. Extraction often
// splits words mid-token ("Febr uary 8, 2026"), so month names are matched
// with an optional internal gap.
func FromDocumentText(text string) *time.Time {
	lower := strings.ToLower(text)
	for name, month := range monthNumbers {
		if len(name) < 5 {
			continue // "may" is too short to split safely
		}
		pattern := fmt.Sprintf(`%s\s*%s\s+(\d{1,2}),?\s*(\d{4})`, name[:4], name[4:])
		re := regexp.MustCompile(pattern)
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if t, ok := makeDate(m[2], month, m[1]); ok {
			return t
		}
	}
	// "May 8, 2026" without split tolerance.
	re := regexp.MustCompile(`may\s+(\d{1,2}),?\s*(\d{4})`)
	if m := re.FindStringSubmatch(lower); m != nil {
		if t, ok := makeDate(m[2], time.May, m[1]); ok {
			return t
		}
	}
	return nil
}

func makeDate(yearStr string, month time.Month, dayStr string) (*time.Time, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return nil, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return nil, false
	}
	if day < 1 || day > 31 || year < 2000 || year > 2100 {
		return nil, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// Reject rollovers like February 30.
	if t.Day() != day || t.Month() != month {
		return nil, false
	}
	return &t, true
}
