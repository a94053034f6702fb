package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Conflict records an incoming record whose value differs from the persisted
// record sharing its identity key. Conflicts are surfaced for manual review,
// never resolved automatically.
type Conflict struct {
	Date          string           `json:"date"`
	Commodity     string           `json:"commodity"`
	Specification string           `json:"specification,omitempty"`
	StoredPrice   *decimal.Decimal `json:"stored_price"`
	IncomingPrice *decimal.Decimal `json:"incoming_price"`
	ReportRef     string           `json:"report_ref"`
	SeenAt        time.Time        `json:"seen_at"`
}
