// Package normalize maps extracted table rows onto canonical price records.
// It detects which historical table layout a report uses, tracks category
// headers across a stateful row scan, parses prices and availability
// markers, and canonicalizes commodity names. Failures are always per-row:
// one bad line never aborts the rest of a report.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// Normalizer converts raw table rows into price records.
type Normalizer struct {
	canon           *Canonicalizer
	extraCategories []string
}

// New creates a Normalizer. The alias table and any deployment-specific
// category headers are injected configuration, not embedded constants.
func New(canon *Canonicalizer, extraCategories []string) *Normalizer {
	return &Normalizer{canon: canon, extraCategories: extraCategories}
}

// Candidates exposes commodity names seen without an alias entry this run.
func (n *Normalizer) Candidates() []string {
	return n.canon.Candidates()
}

// Normalize runs the full row scan for one report. Every returned RowResult
// is either a record or a rejection; rows that are page furniture or merged
// name fragments produce nothing.
func (n *Normalizer) Normalize(rows []model.RawTableRow, reportDate time.Time) []model.RowResult {
	layout := detectLayout(rows)
	if layout == layoutUnknown {
		return n.rejectAll(rows)
	}

	var results []model.RowResult
	state := scanState{}

	for i, row := range rows {
		line := strings.TrimSpace(row.Text)
		if line == "" || isHeaderLine(line) {
			continue
		}

		var consumed bool
		state, consumed = scanStep(state, line, n.extraCategories)
		if consumed {
			continue
		}

		if isSkipLine(line) {
			continue
		}

		if res := n.parseDataRow(layout, rows, i, state.currentCategory, reportDate); res != nil {
			results = append(results, *res)
		}
	}

	return results
}

// rejectAll marks every plausible data row as UnknownLayout. Furniture and
// category headers are still skipped so the rejection count reflects rows
// that carried data.
func (n *Normalizer) rejectAll(rows []model.RawTableRow) []model.RowResult {
	var results []model.RowResult
	for _, row := range rows {
		line := strings.TrimSpace(row.Text)
		if line == "" || isHeaderLine(line) || isSkipLine(line) {
			continue
		}
		if detectCategory(line, n.extraCategories) != "" {
			continue
		}
		results = append(results, model.RowResult{Rejected: &model.RowRejected{
			Row:    row,
			Reason: model.RejectUnknownLayout,
			Detail: "no known layout signature matched this report",
		}})
	}
	return results
}

// continuationRe marks lines that begin like the tail of a wrapped name,
// e.g. "diameter/bunch hd)  160.00" following "Broccoli, Local  Medium (8-10 cm".
var continuationRe = regexp.MustCompile(`^[a-z()\d]`)

// parseDataRow parses one data row, merging it with a wrapped predecessor
// line when the layout split a long name/specification across two lines.
// A nil return means the line was not a data row (most often the first half
// of a wrapped pair, picked up by the next iteration).
func (n *Normalizer) parseDataRow(layout layoutKind, rows []model.RawTableRow, idx int, category string, reportDate time.Time) *model.RowResult {
	row := rows[idx]
	line := strings.TrimSpace(row.Text)

	text := line
	if idx > 0 && continuationRe.MatchString(line) {
		prev := strings.TrimSpace(rows[idx-1].Text)
		if isWrappedFragment(prev) {
			text = prev + " " + line
		}
	}

	price, rest, found := n.extractPrice(layout, text)
	if !found {
		if looksLikeData(text) {
			return &model.RowResult{Rejected: &model.RowRejected{
				Row:    row,
				Reason: model.RejectUnparseablePrice,
				Detail: "trailing token is neither a price nor an availability marker",
			}}
		}
		return nil
	}

	name, spec := splitNameSpec(rest)
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return nil
	}
	// An all-caps line this long is a section artifact, not a commodity.
	if name == strings.ToUpper(name) && len(name) > 30 {
		return nil
	}

	record := model.PriceRecord{
		Date:          reportDate,
		Category:      category,
		Commodity:     n.canon.Canonicalize(name),
		Specification: collapseSpaces(spec),
		Unit:          model.DefaultUnit,
		Price:         price,
	}
	return &model.RowResult{Record: &record}
}

// extractPrice applies the layout's column mapping to strip the price
// column(s) off the end of a data line.
func (n *Normalizer) extractPrice(layout layoutKind, text string) (price *decimal.Decimal, rest string, found bool) {
	prices, rest, ok := trailingPrices(text, layout.priceColumns())
	if !ok {
		return nil, text, false
	}
	// trailingPrices returns right-to-left; the rightmost column is the
	// price of record in every known layout (the single prevailing price,
	// or the average in the legacy low/high/average format).
	return prices[0], rest, true
}

// isWrappedFragment reports whether a line looks like the first half of a
// wrapped data row: real text, no trailing price or marker.
func isWrappedFragment(prev string) bool {
	if len(prev) <= 5 || isHeaderLine(prev) || isSkipLine(prev) {
		return false
	}
	_, _, found := trailingPrice(prev)
	return !found
}

// looksLikeData reports whether a priceless line still has the two-column
// shape of a data row, in which case its trailing token is an unparseable
// price rather than stray prose.
func looksLikeData(text string) bool {
	if !strings.Contains(text, "  ") {
		return false
	}
	cols := strings.Split(text, "  ")
	last := strings.TrimSpace(cols[len(cols)-1])
	return last != "" && len(last) <= 12
}

// specKeywordRes split a commodity cell into name and specification when no
// explicit separator survived extraction.
var specKeywordRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.*?)\s+((?:Medium|Large|Small|Fresh|Frozen|Whole|Cob|Male|Female|Local|Imported)\b.*)$`),
	regexp.MustCompile(`(?i)^(.*?)\s+(\d+%?\s*broken.*)$`),
	regexp.MustCompile(`(?i)^(.*?)\s+(Meat\s+with.*)$`),
	regexp.MustCompile(`(?i)^(.*?)\s+(White\s+Rice)$`),
}

var doubleSpaceRe = regexp.MustCompile(`^(.*?)\s{2,}(.*)$`)

// splitNameSpec splits "name  specification" text. Column gaps (two or more
// spaces) win, then a comma, then known specification keywords.
func splitNameSpec(text string) (name, spec string) {
	text = strings.TrimSpace(text)

	if m := doubleSpaceRe.FindStringSubmatch(text); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}

	if i := strings.Index(text, ","); i > 0 {
		return text[:i], strings.TrimSpace(text[i+1:])
	}

	for _, re := range specKeywordRes {
		if m := re.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
			return m[1], strings.TrimSpace(m[2])
		}
	}

	return text, ""
}
