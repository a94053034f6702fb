package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/palengke-labs/pricewatch/internal/crawler"
	"github.com/palengke-labs/pricewatch/internal/extract"
	"github.com/palengke-labs/pricewatch/internal/fetcher"
	"github.com/palengke-labs/pricewatch/internal/ingest"
	"github.com/palengke-labs/pricewatch/internal/merge"
	"github.com/palengke-labs/pricewatch/internal/model"
	"github.com/palengke-labs/pricewatch/internal/normalize"
	"github.com/palengke-labs/pricewatch/internal/store"
)

var (
	scrapeLimit       int
	scrapeSince       string
	scrapeConcurrency int
	scrapeDryRun      bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Discover, download, and ingest daily price reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var since *time.Time
		if scrapeSince != "" {
			t, err := time.Parse(model.DateLayout, scrapeSince)
			if err != nil {
				return eris.Wrapf(err, "scrape: --since must be YYYY-MM-DD, got %q", scrapeSince)
			}
			since = &t
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cr := crawler.New(crawler.Options{
			IndexURL:  cfg.Crawler.IndexURL,
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   time.Duration(cfg.Crawler.TimeoutSecs) * time.Second,
		})
		refs, err := cr.ListReports(ctx, since)
		if err != nil {
			return err
		}

		var daily []model.ReportRef
		for _, ref := range refs {
			if ref.Type == model.ReportTypeDaily {
				daily = append(daily, ref)
			}
		}
		if scrapeLimit > 0 && len(daily) > scrapeLimit {
			daily = daily[:scrapeLimit]
		}
		if len(daily) == 0 {
			fmt.Println("no daily reports to process")
			return nil
		}

		f := fetcher.New(fetcher.Options{
			CacheDir:   cfg.Fetch.CacheDir,
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
			RatePerSec: cfg.Fetch.RatePerSec,
			Burst:      cfg.Fetch.Burst,
		})

		canon := normalize.NewCanonicalizer(cfg.Normalize.Aliases)
		norm := normalize.New(canon, cfg.Normalize.ExtraCategories)
		runner := ingest.New(f, extract.New(), norm, merge.New(st), st)

		concurrency := scrapeConcurrency
		if concurrency == 0 {
			concurrency = cfg.Ingest.Concurrency
		}

		report, err := runner.RunBatch(ctx, daily, ingest.Options{
			Concurrency:      concurrency,
			DryRun:           scrapeDryRun,
			RejectThreshold:  cfg.Ingest.RejectThreshold,
			FailureThreshold: cfg.Ingest.FailureThreshold,
		})
		if err != nil && ctx.Err() != nil {
			zap.L().Warn("batch interrupted", zap.Error(err))
			err = nil
		}

		if candidates := norm.Candidates(); len(candidates) > 0 {
			zap.L().Info("commodity names seen without alias entries",
				zap.Strings("candidates", candidates))
		}

		if perr := printBatchReport(report); perr != nil {
			return perr
		}
		return err
	},
}

func printBatchReport(report model.BatchReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// scrapeOne ingests a single report URL, used by the `scrape url` subcommand
// for reprocessing a known PDF without touching the index.
var scrapeURLCmd = &cobra.Command{
	Use:   "url <pdf-url>",
	Short: "Ingest a single report by URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return scrapeSingle(ctx, args[0])
	},
}

func scrapeSingle(ctx context.Context, url string) error {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	f := fetcher.New(fetcher.Options{
		CacheDir:   cfg.Fetch.CacheDir,
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
		RatePerSec: cfg.Fetch.RatePerSec,
		Burst:      cfg.Fetch.Burst,
	})

	canon := normalize.NewCanonicalizer(cfg.Normalize.Aliases)
	norm := normalize.New(canon, cfg.Normalize.ExtraCategories)
	runner := ingest.New(f, extract.New(), norm, merge.New(st), st)

	ref := model.ReportRef{URL: url, Type: model.ReportTypeDaily}
	report, err := runner.RunBatch(ctx, []model.ReportRef{ref}, ingest.Options{
		DryRun:           scrapeDryRun,
		RejectThreshold:  cfg.Ingest.RejectThreshold,
		FailureThreshold: cfg.Ingest.FailureThreshold,
	})
	if perr := printBatchReport(report); perr != nil {
		return perr
	}
	return err
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapeLimit, "limit", 0, "max reports to process (0 = all)")
	scrapeCmd.Flags().StringVar(&scrapeSince, "since", "", "only reports dated on or after YYYY-MM-DD")
	scrapeCmd.Flags().IntVar(&scrapeConcurrency, "concurrency", 0, "parallel downloads (default from config)")
	scrapeCmd.PersistentFlags().BoolVar(&scrapeDryRun, "dry-run", false, "process reports without writing to the store")
	scrapeCmd.AddCommand(scrapeURLCmd)
	rootCmd.AddCommand(scrapeCmd)
}
