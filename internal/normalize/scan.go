package normalize

import (
	"regexp"
	"strings"
)

// knownCategories are the section headers observed across the publisher's
// report history. New ones are still detected heuristically; this list keeps
// the common ones stable against formatting drift.
var knownCategories = []string{
	"IMPORTED COMMERCIAL RICE",
	"LOCAL COMMERCIAL RICE",
	"CORN PRODUCTS",
	"LEGUMES",
	"FISH PRODUCTS",
	"BEEF MEAT PRODUCTS",
	"CARABEEF MEAT PRODUCTS",
	"PORK MEAT PRODUCTS",
	"CHICKEN MEAT PRODUCTS",
	"EGGS",
	"VEGETABLES",
	"FRUITS",
	"SPICES",
	"COOKING OIL",
	"SUGAR",
	"PROCESSED FOOD",
	"ROOT CROPS",
	"LOWLAND VEGETABLES",
	"HIGHLAND VEGETABLES",
	"LEAFY VEGETABLES",
	"FRUIT VEGETABLES",
}

// categoryKeywords mark all-caps lines as category headers even when the
// exact header is new.
var categoryKeywords = []string{
	"RICE", "CORN", "FISH", "MEAT", "CHICKEN", "PORK", "BEEF", "VEGETABLE",
	"FRUIT", "SPICE", "OIL", "SUGAR", "EGG", "LEGUME", "PROCESSED", "ROOT",
	"CARABEEF", "LOWLAND", "HIGHLAND", "LEAFY",
}

var allCapsRe = regexp.MustCompile(`^[A-Z\s]{10,}$`)

// headerLinePatterns match page furniture: titles, column headers, footers.
var headerLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Page \d+ of \d+`),
	regexp.MustCompile(`(?i)^Department of Agriculture`),
	regexp.MustCompile(`(?i)^DAILY PRICE INDEX`),
	regexp.MustCompile(`(?i)^National Capital Region`),
	regexp.MustCompile(`(?i)^Prevailing Retail Price`),
	regexp.MustCompile(`(?i)^COMMODITY\s+SPECIFICATION`),
	regexp.MustCompile(`(?i)^PREVAILING`),
	regexp.MustCompile(`(?i)^RETAIL PRICE`),
	regexp.MustCompile(`(?i)^UNIT \(P/UNIT\)`),
	regexp.MustCompile(`(?i)^LOW\s+HIGH`),
	regexp.MustCompile(`^\(.*\d{4}\)`),
}

var skipLinePrefixes = []string{
	"source:", "note:", "disclaimer", "prepared by",
	"checked by", "approved by", "page", "p/unit",
}

// scanState carries the category across a left-to-right row scan. Category
// headers delimit sections; every data row inherits the most recent header.
type scanState struct {
	currentCategory string
}

// scanStep advances the category state machine by one row. It returns the
// new state and whether the row was consumed as a category header. It is a
// pure function of (state, row); the caller threads the state through the
// scan.
func scanStep(state scanState, line string, extras []string) (scanState, bool) {
	if cat := detectCategory(line, extras); cat != "" {
		return scanState{currentCategory: cat}, true
	}
	return state, false
}

// detectCategory reports the category a line declares, or "".
func detectCategory(line string, extras []string) string {
	upper := strings.ToUpper(strings.TrimSpace(line))

	for _, cat := range knownCategories {
		if strings.Contains(upper, cat) {
			return cat
		}
	}
	for _, cat := range extras {
		if cat != "" && strings.Contains(upper, strings.ToUpper(cat)) {
			return strings.ToUpper(cat)
		}
	}

	if allCapsRe.MatchString(upper) {
		for _, kw := range categoryKeywords {
			if strings.Contains(upper, kw) {
				return upper
			}
		}
	}

	return ""
}

func isHeaderLine(line string) bool {
	for _, re := range headerLinePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func isSkipLine(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	if len(lower) < 3 {
		return true
	}
	for _, prefix := range skipLinePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
