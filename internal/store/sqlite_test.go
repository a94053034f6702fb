package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palengke-labs/pricewatch/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func record(date, category, name, spec string, p *decimal.Decimal) model.PriceRecord {
	t, _ := time.Parse(model.DateLayout, date)
	return model.PriceRecord{
		Date:          t,
		Category:      category,
		Commodity:     name,
		Specification: spec,
		Unit:          model.DefaultUnit,
		Price:         p,
	}
}

func seed(t *testing.T, st *SQLiteStore) {
	t.Helper()
	require.NoError(t, st.InsertPrices(context.Background(), []model.PriceRecord{
		record("2026-02-07", "FISH PRODUCTS", "Tilapia", "", price("138.00")),
		record("2026-02-08", "FISH PRODUCTS", "Tilapia", "", price("140.00")),
		record("2026-02-08", "FISH PRODUCTS", "Bangus", "Medium", price("185.00")),
		record("2026-02-08", "IMPORTED COMMERCIAL RICE", "Well Milled Rice", "", price("48.00")),
		record("2026-02-08", "VEGETABLES", "Ampalaya", "", nil),
	}, "https://example.com/02082026-PRICE.pdf"))
}

func TestInsertAndQueryPrices(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	latest, err := st.LatestDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", latest)

	records, total, err := st.PricesForDate(ctx, "2026-02-08", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, records, 4)
	// Ordered by category, commodity.
	assert.Equal(t, "Bangus", records[0].Commodity)
	assert.Equal(t, "Tilapia", records[1].Commodity)
	assert.Equal(t, "Well Milled Rice", records[2].Commodity)
	assert.Equal(t, "Ampalaya", records[3].Commodity)
	assert.Nil(t, records[3].Price, "unavailable prices round-trip as nil")
	require.NotNil(t, records[1].Price)
	assert.True(t, records[1].Price.Equal(decimal.RequireFromString("140.00")))
}

func TestInsertDuplicateKeyIsNoOp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := record("2026-02-08", "FISH PRODUCTS", "Tilapia", "", price("140.00"))
	require.NoError(t, st.InsertPrices(ctx, []model.PriceRecord{first}, "ref-a"))

	// Same identity key, different price: the stored row wins.
	second := record("2026-02-08", "FISH PRODUCTS", "Tilapia", "", price("999.00"))
	require.NoError(t, st.InsertPrices(ctx, []model.PriceRecord{second}, "ref-b"))

	records, total, err := st.PricesForDate(ctx, "2026-02-08", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.True(t, records[0].Price.Equal(decimal.RequireFromString("140.00")))

	// Different specification is a different key.
	third := record("2026-02-08", "FISH PRODUCTS", "Tilapia", "Large", price("155.00"))
	require.NoError(t, st.InsertPrices(ctx, []model.PriceRecord{third}, "ref-b"))
	_, total, err = st.PricesForDate(ctx, "2026-02-08", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestExistingKeys(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)

	keys, err := st.ExistingKeys(context.Background(), "2026-02-08", "2026-02-08")
	require.NoError(t, err)
	require.Len(t, keys, 4)

	stored, ok := keys[model.IdentityKey{Date: "2026-02-08", Commodity: "Tilapia", Specification: ""}]
	require.True(t, ok)
	require.NotNil(t, stored)
	assert.True(t, stored.Equal(decimal.RequireFromString("140.00")))

	stored, ok = keys[model.IdentityKey{Date: "2026-02-08", Commodity: "Ampalaya", Specification: ""}]
	require.True(t, ok)
	assert.Nil(t, stored)

	_, ok = keys[model.IdentityKey{Date: "2026-02-07", Commodity: "Tilapia", Specification: ""}]
	assert.False(t, ok, "range filter excludes other dates")
}

func TestPricesForRangeAndHistory(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	records, err := st.PricesForRange(ctx, "2026-02-07", "2026-02-08", "tilapia")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2026-02-07", records[0].Date.Format(model.DateLayout), "range results ascend by date")

	history, err := st.History(ctx, "Tilapia", "", "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-02-07", history[0].Date.Format(model.DateLayout))

	history, err = st.History(ctx, "Tilapia", "2026-02-08", "")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestListCommoditiesAndCategories(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	commodities, total, err := st.ListCommodities(ctx, CommodityFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total, "Tilapia on two dates is one commodity")
	require.Len(t, commodities, 4)

	fish, total, err := st.ListCommodities(ctx, CommodityFilter{Category: "FISH PRODUCTS"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, c := range fish {
		assert.Equal(t, "FISH PRODUCTS", c.Category)
	}

	tilapia := findCommodity(t, commodities, "Tilapia")
	assert.Equal(t, 2, tilapia.PriceCount)
	assert.Equal(t, "2026-02-07", tilapia.FirstDate)
	assert.Equal(t, "2026-02-08", tilapia.LastDate)

	categories, err := st.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 3)
	assert.Equal(t, "FISH PRODUCTS", categories[0].Category)
	assert.Equal(t, 2, categories[0].CommodityCount)
	assert.Equal(t, 3, categories[0].PriceCount)
}

func findCommodity(t *testing.T, list []model.Commodity, name string) model.Commodity {
	t.Helper()
	for _, c := range list {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("commodity %s not found", name)
	return model.Commodity{}
}

func TestSearchCommodities(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)

	matches, err := st.SearchCommodities(context.Background(), "tila", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Tilapia", matches[0].Name)

	matches, err = st.SearchCommodities(context.Background(), "rice", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1, "category text matches too")
}

func TestExportAllOrdering(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)

	records, err := st.ExportAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "2026-02-07", records[0].Date.Format(model.DateLayout))
	assert.Equal(t, "Bangus", records[1].Commodity, "within a date, category then commodity order")
}

func TestStatsAndDates(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalRecords)
	assert.Equal(t, 4, stats.TotalCommodities)
	assert.Equal(t, 3, stats.TotalCategories)
	assert.Equal(t, 2, stats.TotalDates)
	assert.Equal(t, "2026-02-07", stats.FirstDate)
	assert.Equal(t, "2026-02-08", stats.LastDate)
	assert.NotEmpty(t, stats.LastUpdate)

	dates, err := st.Dates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-08", "2026-02-07"}, dates)
}

func TestScrapeLogAndConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entry := model.ScrapeLogEntry{
		RunID:        "run-1",
		ReportRef:    "https://example.com/a.pdf",
		ReportDate:   "2026-02-08",
		RunTimestamp: time.Now().UTC(),
		Outcome:      model.OutcomePartial,
		RecordCount:  120,
		Diagnostic:   "3 rows rejected",
	}
	require.NoError(t, st.AppendScrapeLog(ctx, entry))

	entries, err := st.ListScrapeLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutcomePartial, entries[0].Outcome)
	assert.Equal(t, 120, entries[0].RecordCount)

	conflict := model.Conflict{
		Date:          "2026-02-08",
		Commodity:     "Tilapia",
		StoredPrice:   price("140.00"),
		IncomingPrice: price("145.00"),
		ReportRef:     "https://example.com/b.pdf",
		SeenAt:        time.Now().UTC(),
	}
	require.NoError(t, st.RecordConflict(ctx, conflict))

	conflicts, err := st.ListConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Tilapia", conflicts[0].Commodity)
	require.NotNil(t, conflicts[0].StoredPrice)
	assert.True(t, conflicts[0].StoredPrice.Equal(decimal.RequireFromString("140.00")))
}

func TestEmptyStore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	latest, err := st.LatestDate(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecords)

	_, total, err := st.PricesForDate(ctx, "2026-02-08", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}
