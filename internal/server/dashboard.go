package server

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// dashboardTTL bounds how stale the pre-computed payload may get. The
// dataset changes at most once per publication day, so an hour is plenty.
const dashboardTTL = time.Hour

// sparklinePoints caps the per-commodity series sent to clients.
const sparklinePoints = 30

var (
	muraBelow  = decimal.NewFromInt(-5)
	mahalAbove = decimal.NewFromInt(10)
	hundred    = decimal.NewFromInt(100)
)

type dashboardItem struct {
	Name          string            `json:"name"`
	DisplayName   string            `json:"displayName"`
	Category      string            `json:"category"`
	Specification string            `json:"specification"`
	Unit          string            `json:"unit"`
	Price         decimal.Decimal   `json:"price"`
	Avg           decimal.Decimal   `json:"avg"`
	ChangePct     decimal.Decimal   `json:"changePct"`
	Signal        string            `json:"signal"`
	Sparkline     []decimal.Decimal `json:"sparkline"`
}

type dashboardPeriod struct {
	Items            []dashboardItem `json:"items"`
	BestDeals        []dashboardItem `json:"bestDeals"`
	GettingExpensive []dashboardItem `json:"gettingExpensive"`
}

type dashboardPayload struct {
	Stats       model.Stats                `json:"stats"`
	LatestDate  string                     `json:"latestDate"`
	PriceCount  int                        `json:"priceCount"`
	Periods     map[string]dashboardPeriod `json:"periods"`
	GeneratedAt string                     `json:"generatedAt"`
}

// handleDashboard serves the pre-computed consumer dashboard: latest prices
// with MURA/MAHAL/STABLE change signals, best deals, and sparklines over
// 30d/90d/1y windows, all in one call. The payload is cached server-side and
// the response is marked cacheable downstream for the same hour.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.dashMu.Lock()
	cached := s.dashboard
	fresh := cached != nil && time.Since(s.dashBuiltAt) < dashboardTTL
	s.dashMu.Unlock()

	if !fresh {
		payload, err := s.buildDashboard(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if payload == nil {
			writeError(w, http.StatusNotFound, "no price data available")
			return
		}
		s.dashMu.Lock()
		s.dashboard = payload
		s.dashBuiltAt = time.Now()
		s.dashMu.Unlock()
		cached = payload
	}

	w.Header().Set("Cache-Control", "public, max-age=3600, s-maxage=3600")
	writeJSON(w, http.StatusOK, cached)
}

func (s *Server) buildDashboard(ctx context.Context) (*dashboardPayload, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestDate(ctx)
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, nil
	}
	latestDay, err := time.Parse(model.DateLayout, latest)
	if err != nil {
		return nil, err
	}

	latestPrices, _, err := s.store.PricesForDate(ctx, latest, 1, 10000)
	if err != nil {
		return nil, err
	}

	windows := []struct {
		label string
		days  int
	}{
		{"30d", 30}, {"90d", 90}, {"1y", 365},
	}
	periods := make(map[string]dashboardPeriod, len(windows))
	for _, win := range windows {
		from := latestDay.AddDate(0, 0, -win.days).Format(model.DateLayout)
		history, err := s.store.PricesForRange(ctx, from, latest, "")
		if err != nil {
			return nil, err
		}
		periods[win.label] = buildPeriod(latestPrices, history)
	}

	return &dashboardPayload{
		Stats:       stats,
		LatestDate:  latest,
		PriceCount:  len(latestPrices),
		Periods:     periods,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

type seriesKey struct {
	name string
	spec string
}

// buildPeriod computes per-commodity change signals against the window's
// average. History is keyed by name plus specification so two cuts of the
// same commodity never mix into one series.
func buildPeriod(latest, history []model.PriceRecord) dashboardPeriod {
	series := make(map[seriesKey][]decimal.Decimal)
	for _, rec := range history {
		if rec.Price == nil {
			continue
		}
		k := seriesKey{name: rec.Commodity, spec: rec.Specification}
		series[k] = append(series[k], *rec.Price)
	}

	items := []dashboardItem{}
	for _, rec := range latest {
		// A commodity without a current price carries no signal.
		if rec.Price == nil {
			continue
		}
		prices := series[seriesKey{name: rec.Commodity, spec: rec.Specification}]

		avg := *rec.Price
		if len(prices) > 0 {
			avg = decimal.Avg(prices[0], prices[1:]...)
		}
		changePct := decimal.Zero
		if !avg.IsZero() {
			changePct = rec.Price.Sub(avg).Div(avg).Mul(hundred).Round(2)
		}

		signal := "STABLE"
		switch {
		case changePct.LessThan(muraBelow):
			signal = "MURA"
		case changePct.GreaterThan(mahalAbove):
			signal = "MAHAL"
		}

		items = append(items, dashboardItem{
			Name:          rec.Commodity,
			DisplayName:   displayName(rec.Commodity, rec.Specification),
			Category:      rec.Category,
			Specification: rec.Specification,
			Unit:          rec.Unit,
			Price:         *rec.Price,
			Avg:           avg.Round(2),
			ChangePct:     changePct,
			Signal:        signal,
			Sparkline:     sparkline(prices),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ChangePct.LessThan(items[j].ChangePct)
	})

	period := dashboardPeriod{
		Items:            items,
		BestDeals:        []dashboardItem{},
		GettingExpensive: []dashboardItem{},
	}
	for _, it := range items {
		if it.Signal == "MURA" && len(period.BestDeals) < 5 {
			period.BestDeals = append(period.BestDeals, it)
		}
	}
	for i := len(items) - 1; i >= 0 && len(period.GettingExpensive) < 5; i-- {
		if items[i].Signal == "MAHAL" {
			period.GettingExpensive = append(period.GettingExpensive, items[i])
		}
	}
	return period
}

// sparkline downsamples a chronological price series to at most
// sparklinePoints entries.
func sparkline(prices []decimal.Decimal) []decimal.Decimal {
	picked := prices
	if len(prices) > sparklinePoints {
		step := float64(len(prices)) / sparklinePoints
		picked = make([]decimal.Decimal, sparklinePoints)
		for i := range picked {
			picked[i] = prices[int(float64(i)*step)]
		}
	}
	out := make([]decimal.Decimal, len(picked))
	for i, p := range picked {
		out[i] = p.Round(2)
	}
	return out
}

func displayName(name, spec string) string {
	clean := strings.TrimRight(name, ", ")
	if spec != "" && spec != clean {
		return clean + " (" + spec + ")"
	}
	return clean
}
