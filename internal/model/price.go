package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical date format used across the store and API.
const DateLayout = "2006-01-02"

// DefaultUnit is the publisher's default pricing unit. Layouts that carry an
// explicit unit column override it per row.
const DefaultUnit = "PHP/kg"

// PriceRecord is the canonical unit of the dataset: one commodity price
// observed on one date. A nil Price means "not available that day", which is
// a valid state, not an error.
type PriceRecord struct {
	Date          time.Time        `json:"-"`
	Category      string           `json:"category"`
	Commodity     string           `json:"commodity"`
	Specification string           `json:"specification,omitempty"`
	Unit          string           `json:"unit"`
	Price         *decimal.Decimal `json:"price"`
}

// IdentityKey uniquely identifies a price record. Specification is part of
// the key because the same commodity appears with multiple specifications on
// the same day (e.g. "Well-milled" vs "Regular-milled" rice).
type IdentityKey struct {
	Date          string
	Commodity     string
	Specification string
}

// Key returns the record's identity key.
func (r PriceRecord) Key() IdentityKey {
	return IdentityKey{
		Date:          r.Date.Format(DateLayout),
		Commodity:     r.Commodity,
		Specification: r.Specification,
	}
}

// PriceEqual reports whether two nullable prices are equal. Two nil prices
// are equal; nil never equals a concrete value.
func PriceEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// RejectReason classifies why a row failed normalization.
type RejectReason string

const (
	RejectUnparseablePrice RejectReason = "unparseable_price"
	RejectUnknownLayout    RejectReason = "unknown_layout"
	RejectMalformedRow     RejectReason = "malformed_row"
)

// RowRejected records a single row that could not be normalized. Rejections
// are per-row diagnostics; they never abort the surrounding report.
type RowRejected struct {
	Row    RawTableRow  `json:"row"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// RowResult is the per-row output of the normalizer: either a record or a
// rejection, never both.
type RowResult struct {
	Record   *PriceRecord
	Rejected *RowRejected
}

// Commodity is the derived view of one distinct (name, category,
// specification, unit) combination observed across all records.
type Commodity struct {
	Name          string `json:"name"`
	Category      string `json:"category,omitempty"`
	Specification string `json:"specification,omitempty"`
	Unit          string `json:"unit"`
	PriceCount    int    `json:"price_count"`
	FirstDate     string `json:"first_date,omitempty"`
	LastDate      string `json:"last_date,omitempty"`
}

// CategorySummary aggregates per-category counts for the categories endpoint.
type CategorySummary struct {
	Category       string `json:"category"`
	CommodityCount int    `json:"commodity_count"`
	PriceCount     int    `json:"price_count"`
	FirstDate      string `json:"first_date,omitempty"`
	LastDate       string `json:"last_date,omitempty"`
}

// Stats summarizes the persisted dataset.
type Stats struct {
	TotalRecords     int    `json:"total_records"`
	TotalCommodities int    `json:"total_commodities"`
	TotalCategories  int    `json:"total_categories"`
	TotalDates       int    `json:"total_dates"`
	FirstDate        string `json:"first_date,omitempty"`
	LastDate         string `json:"last_date,omitempty"`
	LastUpdate       string `json:"last_update,omitempty"`
}
