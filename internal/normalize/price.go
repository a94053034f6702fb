package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// priceRe matches a trailing price token like "160.00" or "1,234.56".
var priceRe = regexp.MustCompile(`(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?)\s*$`)

// unavailableRe matches the publisher's "no price today" markers at the end
// of a line. A dash only counts as a marker here, at end of line after the
// name/spec text; dashes inside names are untouched.
var unavailableRe = regexp.MustCompile(`(?i)(?:^|\s)(n/a|n\.a\.?|na|none|[-—–*])\s*$`)

// trailingPrice splits a trailing price token off a line.
//
// Returns the parsed price (nil for an unavailable marker), the remaining
// text, and whether a price position was found at all. A line with neither a
// numeric tail nor a marker returns found=false, which callers treat as
// either a wrapped name fragment or a reject, depending on context.
func trailingPrice(line string) (price *decimal.Decimal, rest string, found bool) {
	if m := priceRe.FindStringSubmatchIndex(line); m != nil {
		raw := strings.ReplaceAll(line[m[2]:m[3]], ",", "")
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return nil, line, false
		}
		return &d, strings.TrimSpace(line[:m[0]]), true
	}

	if m := unavailableRe.FindStringIndex(line); m != nil {
		return nil, strings.TrimSpace(line[:m[0]]), true
	}

	return nil, line, false
}

// trailingPrices strips up to n trailing numeric columns, returning them
// right-to-left. Used by the range layout, where a data row ends with
// LOW HIGH AVERAGE and the average is the price of record.
func trailingPrices(line string, n int) (prices []*decimal.Decimal, rest string, found bool) {
	rest = line
	for range n {
		p, r, ok := trailingPrice(rest)
		if !ok {
			break
		}
		prices = append(prices, p)
		rest = r
	}
	if len(prices) == 0 {
		return nil, line, false
	}
	return prices, rest, true
}
