// Package fetcher downloads report PDFs with retry, rate limiting, and an
// on-disk byte cache keyed by report date/URL.
package fetcher

import (
	"context"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// Fetcher retrieves report bytes, serving from cache when possible.
type Fetcher interface {
	// Fetch returns the report's PDF bytes. Cached bytes are returned
	// without a network round trip.
	Fetch(ctx context.Context, ref model.ReportRef) (model.Report, error)
}
