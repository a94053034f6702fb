package server

import (
	"net/http"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// csvPrice is the flat CSV row shape for dataset export. An empty price
// column means the commodity was listed without a price that day.
type csvPrice struct {
	Date          string `csv:"date"`
	Category      string `csv:"category"`
	Commodity     string `csv:"commodity"`
	Specification string `csv:"specification"`
	Unit          string `csv:"unit"`
	Price         string `csv:"price"`
}

func toCSVPrices(records []model.PriceRecord) []csvPrice {
	out := make([]csvPrice, len(records))
	for i, r := range records {
		row := csvPrice{
			Date:          r.Date.Format(model.DateLayout),
			Category:      r.Category,
			Commodity:     r.Commodity,
			Specification: r.Specification,
			Unit:          r.Unit,
		}
		if r.Price != nil {
			row.Price = r.Price.String()
		}
		out[i] = row
	}
	return out
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ExportAll(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="prices.csv"`)
	if err := gocsv.Marshal(toCSVPrices(records), w); err != nil {
		zap.L().Error("csv export", zap.Error(err))
	}
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ExportAll(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(records),
		"prices": toAPIPrices(records),
	})
}
