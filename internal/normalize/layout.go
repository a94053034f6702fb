package normalize

import (
	"strings"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// layoutKind tags one of the known historical table layouts. Each template
// is a variant with its own column mapping; adding a new historical layout
// means adding a variant and teaching detectLayout its signature, nothing
// else changes.
type layoutKind int

const (
	// layoutUnknown means no template signature matched; every row in the
	// report is rejected rather than guessed at.
	layoutUnknown layoutKind = iota

	// layoutPrevailing is the current format: COMMODITY / SPECIFICATION /
	// PREVAILING RETAIL PRICE, one trailing price column per row.
	layoutPrevailing

	// layoutRange is the legacy format with LOW / HIGH / AVERAGE columns;
	// the average (last) column is taken as the price.
	layoutRange
)

func (k layoutKind) String() string {
	switch k {
	case layoutPrevailing:
		return "prevailing"
	case layoutRange:
		return "range"
	default:
		return "unknown"
	}
}

// priceColumns returns how many trailing numeric columns a data row carries
// in this layout.
func (k layoutKind) priceColumns() int {
	if k == layoutRange {
		return 3
	}
	return 1
}

// detectLayout inspects the row sequence's structural signature and selects
// a template. Detection looks only at column header rows, which appear
// before any data row in every known report year.
func detectLayout(rows []model.RawTableRow) layoutKind {
	for _, row := range rows {
		upper := strings.ToUpper(row.Text)

		if strings.Contains(upper, "LOW") && strings.Contains(upper, "HIGH") &&
			(strings.Contains(upper, "AVERAGE") || strings.Contains(upper, "AVE")) {
			return layoutRange
		}

		if strings.Contains(upper, "COMMODITY") &&
			(strings.Contains(upper, "SPECIFICATION") || strings.Contains(upper, "PREVAILING")) {
			return layoutPrevailing
		}

		if strings.Contains(upper, "PREVAILING") && strings.Contains(upper, "RETAIL") {
			return layoutPrevailing
		}
	}
	return layoutUnknown
}
