// Package store persists price records, scrape logs, and merge conflicts.
// Two backends implement the same interface: an embedded SQLite database
// (the default) and Postgres for shared deployments.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// CommodityFilter specifies criteria for listing commodities.
type CommodityFilter struct {
	Category string
	Page     int
	Limit    int
}

// Store defines the persistence interface for the ingestion pipeline and the
// read API. Persisted price records are immutable: the pipeline only ever
// inserts, skips, or flags conflicts.
type Store interface {
	// Ingestion
	ExistingKeys(ctx context.Context, dateFrom, dateTo string) (map[model.IdentityKey]*decimal.Decimal, error)
	InsertPrices(ctx context.Context, records []model.PriceRecord, sourceRef string) error
	RecordConflict(ctx context.Context, conflict model.Conflict) error
	AppendScrapeLog(ctx context.Context, entry model.ScrapeLogEntry) error
	ListScrapeLog(ctx context.Context, limit int) ([]model.ScrapeLogEntry, error)
	ListConflicts(ctx context.Context, limit int) ([]model.Conflict, error)

	// Queries
	LatestDate(ctx context.Context) (string, error)
	Dates(ctx context.Context) ([]string, error)
	PricesForDate(ctx context.Context, date string, page, limit int) ([]model.PriceRecord, int, error)
	PricesForRange(ctx context.Context, from, to, commodity string) ([]model.PriceRecord, error)
	History(ctx context.Context, commodity, from, to string) ([]model.PriceRecord, error)
	ListCommodities(ctx context.Context, filter CommodityFilter) ([]model.Commodity, int, error)
	SearchCommodities(ctx context.Context, query, date string, limit, offset int) ([]model.Commodity, error)
	Categories(ctx context.Context) ([]model.CategorySummary, error)
	ExportAll(ctx context.Context) ([]model.PriceRecord, error)
	Stats(ctx context.Context) (model.Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
