package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palengke-labs/pricewatch/internal/model"
	"github.com/palengke-labs/pricewatch/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, 0), st
}

func requireDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	mk := func(date, category, name, spec, priceStr string) model.PriceRecord {
		d, err := time.Parse(model.DateLayout, date)
		require.NoError(t, err)
		r := model.PriceRecord{Date: d, Category: category, Commodity: name, Specification: spec, Unit: model.DefaultUnit}
		if priceStr != "" {
			p := requireDecimal(t, priceStr)
			r.Price = &p
		}
		return r
	}
	require.NoError(t, st.InsertPrices(context.Background(), []model.PriceRecord{
		mk("2026-02-07", "FISH PRODUCTS", "Tilapia", "", "138.00"),
		mk("2026-02-08", "FISH PRODUCTS", "Tilapia", "", "140.00"),
		mk("2026-02-08", "FISH PRODUCTS", "Bangus", "Medium", "185.00"),
		mk("2026-02-08", "VEGETABLES", "Ampalaya", "", ""),
	}, "ref"))
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestPricesLatest(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/prices/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "2026-02-08", body["date"])
	assert.EqualValues(t, 3, body["total"])

	prices := body["prices"].([]any)
	require.Len(t, prices, 3)
	first := prices[0].(map[string]any)
	assert.Equal(t, "Bangus", first["commodity"])
	assert.EqualValues(t, 185.00, first["price"], "prices serialize as JSON numbers")
}

func TestPricesLatestEmptyStore(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv, "/api/prices/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPricesForDateValidation(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/prices/not-a-date").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/prices/2026-13-40").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/prices/2020-01-01").Code)

	rec := get(t, srv, "/api/prices/2026-02-07")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["total"])
}

func TestPricesRange(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/prices/range?from=2026-02-07&to=2026-02-08&commodity=tilapia")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/prices/range?from=2026-02-08").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/prices/range?from=2026-02-09&to=2026-02-08").Code)
}

func TestCommoditiesAndHistory(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/commodities?category=FISH+PRODUCTS")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["total"])

	rec = get(t, srv, "/api/commodities/Tilapia/history")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])
	history := body["history"].([]any)
	assert.Equal(t, "2026-02-07", history[0].(map[string]any)["date"], "history ascends by date")

	rec = get(t, srv, "/api/commodities/Tilapia/history?from=2026-02-08")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/commodities/Durian/history").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/commodities/Tilapia/history?from=bogus").Code)
}

func TestCategories(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])
}

func TestSearch(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/search?q=tilapia")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])

	// Misspelled query falls back to fuzzy matching.
	rec = get(t, srv, "/api/search?q=tilpia")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	require.EqualValues(t, 1, body["count"])
	results := body["results"].([]any)
	assert.Equal(t, "Tilapia", results[0].(map[string]any)["name"])

	// The fallback honors the date filter: Bangus only traded on the 8th.
	rec = get(t, srv, "/api/search?q=bangs&date=2026-02-08")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	require.EqualValues(t, 1, body["count"])
	results = body["results"].([]any)
	assert.Equal(t, "Bangus", results[0].(map[string]any)["name"])

	rec = get(t, srv, "/api/search?q=bangs&date=2026-02-07")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["count"])

	// And the offset, matching the prefilter path's pagination.
	rec = get(t, srv, "/api/search?q=tilpia&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/search").Code)
}

func TestExportCSV(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/export/csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	header := strings.SplitN(rec.Body.String(), "\n", 2)[0]
	assert.Equal(t, "date,category,commodity,specification,unit,price", strings.TrimSpace(header))

	var rows []csvPrice
	require.NoError(t, gocsv.UnmarshalString(rec.Body.String(), &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, "2026-02-07", rows[0].Date)
	assert.Equal(t, "138.00", rows[0].Price)

	last := rows[len(rows)-1]
	assert.Equal(t, "Ampalaya", last.Commodity)
	assert.Empty(t, last.Price, "nil price exports as an empty cell")
}

func TestExportJSON(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/export/json")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 4, body["count"])
}

func TestStatsAndDates(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	rec := get(t, srv, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 4, body["total_records"])
	assert.Equal(t, "2026-02-08", body["last_date"])

	rec = get(t, srv, "/api/dates")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])
	dates := body["dates"].([]any)
	assert.Equal(t, "2026-02-08", dates[0], "newest first")
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}
