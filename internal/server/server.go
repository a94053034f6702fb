// Package server exposes the read API over the persisted price dataset.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/palengke-labs/pricewatch/internal/store"
)

func init() {
	// Prices serialize as bare JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Server serves the price API.
type Server struct {
	store store.Store
	http  *http.Server

	dashMu      sync.Mutex
	dashboard   *dashboardPayload
	dashBuiltAt time.Time
}

// New builds a server listening on the given port.
func New(st store.Store, port int) *Server {
	s := &Server{store: st}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the route table. Exposed separately for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/prices/latest", s.handlePricesLatest)
		r.Get("/prices/range", s.handlePricesRange)
		r.Get("/prices/{date}", s.handlePricesForDate)
		r.Get("/commodities", s.handleCommodities)
		r.Get("/commodities/{name}/history", s.handleHistory)
		r.Get("/categories", s.handleCategories)
		r.Get("/search", s.handleSearch)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/export/csv", s.handleExportCSV)
		r.Get("/export/json", s.handleExportJSON)
		r.Get("/stats", s.handleStats)
		r.Get("/dates", s.handleDates)
	})

	return r
}

// ListenAndServe blocks until the context is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
