package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"github.com/palengke-labs/pricewatch/internal/model"
	"github.com/palengke-labs/pricewatch/internal/store"
)

// apiPrice is the wire shape of a price record; Date is carried as a string
// alongside the embedded record.
type apiPrice struct {
	Date string `json:"date"`
	model.PriceRecord
}

func toAPIPrices(records []model.PriceRecord) []apiPrice {
	out := make([]apiPrice, len(records))
	for i, r := range records {
		out[i] = apiPrice{Date: r.Date.Format(model.DateLayout), PriceRecord: r}
	}
	return out
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	zap.L().Error("store query", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "storage unavailable")
}

func parseDateParam(raw string) (string, bool) {
	t, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return "", false
	}
	return t.Format(model.DateLayout), true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "pricewatch",
		"endpoints": []string{
			"/api/prices/latest",
			"/api/prices/range",
			"/api/prices/{date}",
			"/api/commodities",
			"/api/commodities/{name}/history",
			"/api/categories",
			"/api/search",
			"/api/dashboard",
			"/api/export/csv",
			"/api/export/json",
			"/api/stats",
			"/api/dates",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.LatestDate(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pricesResponse struct {
	Date   string     `json:"date"`
	Total  int        `json:"total"`
	Page   int        `json:"page"`
	Limit  int        `json:"limit"`
	Prices []apiPrice `json:"prices"`
}

func (s *Server) handlePricesLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.LatestDate(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if latest == "" {
		writeError(w, http.StatusNotFound, "no price data available")
		return
	}
	s.servePricesForDate(w, r, latest)
}

func (s *Server) handlePricesForDate(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(chi.URLParam(r, "date"))
	if !ok {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	s.servePricesForDate(w, r, date)
}

func (s *Server) servePricesForDate(w http.ResponseWriter, r *http.Request, date string) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}

	records, total, err := s.store.PricesForDate(r.Context(), date, page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if total == 0 {
		writeError(w, http.StatusNotFound, "no prices recorded for "+date)
		return
	}
	writeJSON(w, http.StatusOK, pricesResponse{
		Date:   date,
		Total:  total,
		Page:   page,
		Limit:  limit,
		Prices: toAPIPrices(records),
	})
}

func (s *Server) handlePricesRange(w http.ResponseWriter, r *http.Request) {
	from, okFrom := parseDateParam(r.URL.Query().Get("from"))
	to, okTo := parseDateParam(r.URL.Query().Get("to"))
	if !okFrom || !okTo {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}
	if from > to {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	records, err := s.store.PricesForRange(r.Context(), from, to, r.URL.Query().Get("commodity"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":   from,
		"to":     to,
		"count":  len(records),
		"prices": toAPIPrices(records),
	})
}

func (s *Server) handleCommodities(w http.ResponseWriter, r *http.Request) {
	filter := store.CommodityFilter{
		Category: r.URL.Query().Get("category"),
		Page:     queryInt(r, "page", 1),
		Limit:    queryInt(r, "limit", 50),
	}
	commodities, total, err := s.store.ListCommodities(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       total,
		"page":        filter.Page,
		"limit":       filter.Limit,
		"commodities": commodities,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "commodity name required")
		return
	}

	var from, to string
	if raw := r.URL.Query().Get("from"); raw != "" {
		d, ok := parseDateParam(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = d
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		d, ok := parseDateParam(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		to = d
	}
	// days is a shorthand for from = today minus N days.
	if days := queryInt(r, "days", 0); days > 0 && from == "" {
		from = time.Now().UTC().AddDate(0, 0, -days).Format(model.DateLayout)
	}

	records, err := s.store.History(r.Context(), name, from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no history for commodity "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commodity": name,
		"count":     len(records),
		"history":   toAPIPrices(records),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.Categories(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if categories == nil {
		categories = []model.CategorySummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(categories),
		"categories": categories,
	})
}

// handleSearch combines a substring prefilter in the store with fuzzy
// ranking, so "tilpia" still finds "Tilapia".
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q required")
		return
	}
	var date string
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, ok := parseDateParam(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	matches, err := s.store.SearchCommodities(r.Context(), query, date, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(matches) == 0 {
		matches, err = s.fuzzyFallback(r, query, date, limit, offset)
		if err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if matches == nil {
		matches = []model.Commodity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(matches),
		"results": matches,
	})
}

// fuzzyFallback ranks all commodity names against the query when the
// substring prefilter finds nothing. It honors the same date filter and
// offset as the prefilter path.
func (s *Server) fuzzyFallback(r *http.Request, query, date string, limit, offset int) ([]model.Commodity, error) {
	all, _, err := s.store.ListCommodities(r.Context(), store.CommodityFilter{Limit: 10000})
	if err != nil {
		return nil, err
	}

	var onDate map[string]struct{}
	if date != "" {
		records, _, err := s.store.PricesForDate(r.Context(), date, 1, 10000)
		if err != nil {
			return nil, err
		}
		onDate = make(map[string]struct{}, len(records))
		for _, rec := range records {
			onDate[rec.Commodity] = struct{}{}
		}
	}

	type ranked struct {
		commodity model.Commodity
		distance  int
	}
	var hits []ranked
	for _, c := range all {
		if onDate != nil {
			if _, ok := onDate[c.Name]; !ok {
				continue
			}
		}
		rank := fuzzy.RankMatchNormalizedFold(query, c.Name)
		if rank < 0 {
			continue
		}
		hits = append(hits, ranked{commodity: c, distance: rank})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	if offset >= len(hits) {
		return nil, nil
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]model.Commodity, len(hits))
	for i, h := range hits {
		out[i] = h.commodity
	}
	return out, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.store.Dates(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(dates),
		"dates": dates,
	})
}
