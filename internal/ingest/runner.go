// Package ingest drives batch ingestion: for each discovered report it
// fetches the PDF, extracts table rows, normalizes them into price records,
// and merges the records into the store. Reports are isolated from each
// other; one failure never aborts the batch.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/palengke-labs/pricewatch/internal/fetcher"
	"github.com/palengke-labs/pricewatch/internal/model"
	"github.com/palengke-labs/pricewatch/internal/store"
)

// Extractor produces table rows from a fetched report.
type Extractor interface {
	Extract(report model.Report) model.ExtractionResult
}

// Normalizer converts raw rows into per-row results.
type Normalizer interface {
	Normalize(rows []model.RawTableRow, reportDate time.Time) []model.RowResult
}

// Merger applies records to the store.
type Merger interface {
	Merge(ctx context.Context, records []model.PriceRecord, sourceRef string) (model.MergeResult, error)
}

// Options tune one batch run.
type Options struct {
	// Concurrency bounds parallel fetch/extract work. <= 1 runs sequentially.
	Concurrency int
	// DryRun processes reports but skips the merge and the scrape log.
	DryRun bool
	// RejectThreshold is the rejected-row fraction at or above which a
	// report that still produced records is demoted from partial to failed.
	// The default 1.0 fails only fully rejected reports.
	RejectThreshold float64
	// FailureThreshold is the failed-report fraction at or above which the
	// batch as a whole returns an error. The default 1.0 errors only when
	// every report failed.
	FailureThreshold float64
}

// Runner wires the pipeline stages together.
type Runner struct {
	fetcher    fetcher.Fetcher
	extractor  Extractor
	normalizer Normalizer
	merger     Merger
	store      store.Store
}

func New(f fetcher.Fetcher, ex Extractor, n Normalizer, m Merger, st store.Store) *Runner {
	return &Runner{fetcher: f, extractor: ex, normalizer: n, merger: m, store: st}
}

type reportResult struct {
	entry    model.ScrapeLogEntry
	merge    model.MergeResult
	rejected int
}

// RunBatch processes the given reports and returns the batch summary.
// Fetch, extract, and normalize run concurrently up to opts.Concurrency;
// merges are serialized so duplicate detection sees a consistent store.
func (r *Runner) RunBatch(ctx context.Context, refs []model.ReportRef, opts Options) (model.BatchReport, error) {
	if opts.RejectThreshold <= 0 {
		opts.RejectThreshold = 1.0
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 1.0
	}

	report := model.BatchReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Reports:   len(refs),
	}

	results := make([]*reportResult, len(refs))
	var mergeMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, ref := range refs {
		g.Go(func() error {
			// Cancellation stops before the next report starts, never
			// mid-report: once a report is underway it runs to completion
			// and its scrape log entry is written.
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.processReport(context.WithoutCancel(gctx), ref, report.RunID, opts, &mergeMu)
			return nil
		})
	}

	err := g.Wait()

	for _, res := range results {
		if res == nil {
			continue
		}
		report.Entries = append(report.Entries, res.entry)
		report.Merge.Add(res.merge)
		report.RowsRejected += res.rejected
		switch res.entry.Outcome {
		case model.OutcomeSuccess:
			report.Succeeded++
		case model.OutcomePartial:
			report.Partial++
		case model.OutcomeImageFlagged:
			report.ImageFlagged++
		default:
			report.Failed++
		}
	}

	if err == nil && report.Failed > 0 {
		if ratio := float64(report.Failed) / float64(report.Reports); ratio >= opts.FailureThreshold {
			err = eris.Errorf("ingest: %d of %d reports failed", report.Failed, report.Reports)
		}
	}

	report.FinishedAt = time.Now().UTC()
	zap.L().Info("batch complete",
		zap.String("run_id", report.RunID),
		zap.Int("reports", report.Reports),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("partial", report.Partial),
		zap.Int("failed", report.Failed),
		zap.Int("image_flagged", report.ImageFlagged),
		zap.Int("inserted", report.Merge.Inserted),
		zap.Int("conflicting", report.Merge.Conflicting),
	)
	return report, err
}

// processReport runs one report through the whole pipeline. Errors become
// the report's outcome; they are never propagated to the batch.
func (r *Runner) processReport(ctx context.Context, ref model.ReportRef, runID string, opts Options, mergeMu *sync.Mutex) *reportResult {
	res := &reportResult{entry: model.ScrapeLogEntry{
		RunID:        runID,
		ReportRef:    ref.URL,
		ReportDate:   ref.DateString(),
		RunTimestamp: time.Now().UTC(),
	}}

	fail := func(diag string) *reportResult {
		res.entry.Outcome = model.OutcomeFailed
		res.entry.Diagnostic = diag
		r.appendLog(ctx, opts, res.entry)
		return res
	}

	rep, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		zap.L().Warn("fetch failed", zap.String("url", ref.URL), zap.Error(err))
		return fail(fmt.Sprintf("fetch: %v", err))
	}

	extracted := r.extractor.Extract(rep)
	switch extracted.Kind {
	case model.ExtractionKindImage:
		res.entry.Outcome = model.OutcomeImageFlagged
		res.entry.Diagnostic = fmt.Sprintf("image-based document, %d pages, no extractable text", extracted.PageCount)
		r.appendLog(ctx, opts, res.entry)
		return res
	case model.ExtractionKindFailed:
		return fail("extract: " + extracted.Reason)
	}

	reportDate := ref.Date
	if reportDate == nil {
		reportDate = extracted.DocumentDate
	}
	if reportDate == nil {
		return fail("no report date from index entry, URL, or document text")
	}
	res.entry.ReportDate = reportDate.Format(model.DateLayout)

	rowResults := r.normalizer.Normalize(extracted.Rows, *reportDate)
	var records []model.PriceRecord
	for _, rr := range rowResults {
		if rr.Record != nil {
			records = append(records, *rr.Record)
		} else if rr.Rejected != nil {
			res.rejected++
		}
	}
	res.entry.RecordCount = len(records)

	if len(records) == 0 {
		return fail(fmt.Sprintf("no records parsed, %d rows rejected", res.rejected))
	}

	total := len(records) + res.rejected
	rejectRatio := float64(res.rejected) / float64(total)
	if rejectRatio >= opts.RejectThreshold {
		return fail(fmt.Sprintf("rejected %d of %d rows", res.rejected, total))
	}

	if !opts.DryRun {
		mergeMu.Lock()
		mergeRes, mergeErr := r.merger.Merge(ctx, records, ref.URL)
		mergeMu.Unlock()
		if mergeErr != nil {
			return fail(fmt.Sprintf("merge: %v", mergeErr))
		}
		res.merge = mergeRes
	}

	if res.rejected > 0 {
		res.entry.Outcome = model.OutcomePartial
		res.entry.Diagnostic = fmt.Sprintf("%d rows rejected", res.rejected)
	} else {
		res.entry.Outcome = model.OutcomeSuccess
	}
	r.appendLog(ctx, opts, res.entry)

	zap.L().Info("report processed",
		zap.String("url", ref.URL),
		zap.String("date", res.entry.ReportDate),
		zap.String("outcome", string(res.entry.Outcome)),
		zap.Int("records", res.entry.RecordCount),
		zap.Int("rejected", res.rejected),
		zap.Bool("from_cache", rep.FromCache),
	)
	return res
}

func (r *Runner) appendLog(ctx context.Context, opts Options, entry model.ScrapeLogEntry) {
	if opts.DryRun {
		return
	}
	if err := r.store.AppendScrapeLog(ctx, entry); err != nil {
		zap.L().Error("append scrape log", zap.String("report", entry.ReportRef), zap.Error(err))
	}
}
