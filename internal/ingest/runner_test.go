package ingest

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palengke-labs/pricewatch/internal/merge"
	"github.com/palengke-labs/pricewatch/internal/model"
	"github.com/palengke-labs/pricewatch/internal/store"
)

type fakeFetcher struct {
	fail map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref model.ReportRef) (model.Report, error) {
	if err, ok := f.fail[ref.URL]; ok {
		return model.Report{Ref: ref}, err
	}
	return model.Report{Ref: ref, Content: []byte("pdf"), Status: model.ExtractionPending}, nil
}

type fakeExtractor struct {
	results map[string]model.ExtractionResult
}

func (f *fakeExtractor) Extract(report model.Report) model.ExtractionResult {
	if res, ok := f.results[report.Ref.URL]; ok {
		return res
	}
	return model.ExtractionResult{
		Kind: model.ExtractionKindText,
		Rows: []model.RawTableRow{{Page: 1, Line: 1, Text: report.Ref.URL}},
	}
}

type fakeNormalizer struct {
	results map[string][]model.RowResult
}

func (f *fakeNormalizer) Normalize(rows []model.RawTableRow, reportDate time.Time) []model.RowResult {
	if len(rows) == 0 {
		return nil
	}
	return f.results[rows[0].Text]
}

func goodRecord(date time.Time, name string) model.RowResult {
	p := decimal.RequireFromString("100.00")
	return model.RowResult{Record: &model.PriceRecord{
		Date:      date,
		Category:  "FISH PRODUCTS",
		Commodity: name,
		Unit:      model.DefaultUnit,
		Price:     &p,
	}}
}

func rejectedRow(text string) model.RowResult {
	return model.RowResult{Rejected: &model.RowRejected{
		Row:    model.RawTableRow{Page: 1, Line: 1, Text: text},
		Reason: model.RejectUnparseablePrice,
	}}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func datedRef(url string, day int) model.ReportRef {
	d := time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC)
	return model.ReportRef{URL: url, Type: model.ReportTypeDaily, Date: &d}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	st := newTestStore(t)

	refs := []model.ReportRef{
		datedRef("r1", 1), datedRef("r2", 2), datedRef("r3", 3),
		datedRef("r4", 4), datedRef("r5", 5),
	}

	norm := &fakeNormalizer{results: map[string][]model.RowResult{}}
	for i, ref := range refs {
		norm.results[ref.URL] = []model.RowResult{goodRecord(*refs[i].Date, "Tilapia")}
	}

	runner := New(
		&fakeFetcher{fail: map[string]error{"r3": eris.New("connection reset")}},
		&fakeExtractor{},
		norm,
		merge.New(st),
		st,
	)

	report, err := runner.RunBatch(context.Background(), refs, Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Reports)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 4, report.Merge.Inserted)
	require.Len(t, report.Entries, 5)

	entries, err := st.ListScrapeLog(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "every report gets a scrape log entry, failures included")

	var failed *model.ScrapeLogEntry
	for i := range entries {
		if entries[i].Outcome == model.OutcomeFailed {
			failed = &entries[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "r3", failed.ReportRef)
	assert.Contains(t, failed.Diagnostic, "connection reset")
}

func TestRunBatchImageFlagged(t *testing.T) {
	st := newTestStore(t)

	ref := datedRef("scan", 8)
	runner := New(
		&fakeFetcher{},
		&fakeExtractor{results: map[string]model.ExtractionResult{
			"scan": {Kind: model.ExtractionKindImage, PageCount: 3},
		}},
		&fakeNormalizer{},
		merge.New(st),
		st,
	)

	report, err := runner.RunBatch(context.Background(), []model.ReportRef{ref}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ImageFlagged)
	assert.Zero(t, report.Merge.Inserted)

	entries, err := st.ListScrapeLog(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutcomeImageFlagged, entries[0].Outcome)
	assert.Contains(t, entries[0].Diagnostic, "3 pages")
}

func TestRunBatchPartialAndThreshold(t *testing.T) {
	st := newTestStore(t)
	ref := datedRef("mixed", 8)

	norm := &fakeNormalizer{results: map[string][]model.RowResult{
		"mixed": {
			goodRecord(*ref.Date, "Tilapia"),
			goodRecord(*ref.Date, "Bangus"),
			rejectedRow("garbled line"),
		},
	}}
	runner := New(&fakeFetcher{}, &fakeExtractor{}, norm, merge.New(st), st)

	report, err := runner.RunBatch(context.Background(), []model.ReportRef{ref}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Partial)
	assert.Equal(t, 2, report.Merge.Inserted)
	assert.Equal(t, 1, report.RowsRejected)

	// A tight threshold turns the same report into a failure, which in a
	// single-report batch also fails the batch.
	st2 := newTestStore(t)
	runner2 := New(&fakeFetcher{}, &fakeExtractor{}, norm, merge.New(st2), st2)
	report2, err := runner2.RunBatch(context.Background(), []model.ReportRef{ref}, Options{RejectThreshold: 0.2})
	assert.Error(t, err)
	assert.Equal(t, 1, report2.Failed)
	assert.Zero(t, report2.Merge.Inserted, "failed reports are not merged")
}

func TestRunBatchFailureThreshold(t *testing.T) {
	st := newTestStore(t)

	refs := []model.ReportRef{datedRef("ok", 1), datedRef("down", 2)}
	norm := &fakeNormalizer{results: map[string][]model.RowResult{
		"ok": {goodRecord(*refs[0].Date, "Tilapia")},
	}}
	fetch := &fakeFetcher{fail: map[string]error{"down": eris.New("connection reset")}}

	// Default policy: the batch errors only when every report failed.
	runner := New(fetch, &fakeExtractor{}, norm, merge.New(st), st)
	report, err := runner.RunBatch(context.Background(), refs, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	// A majority policy fails the same batch.
	st2 := newTestStore(t)
	runner2 := New(fetch, &fakeExtractor{}, norm, merge.New(st2), st2)
	report2, err := runner2.RunBatch(context.Background(), refs, Options{FailureThreshold: 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 reports failed")
	assert.Equal(t, 1, report2.Succeeded, "successful reports are still merged and logged")

	entries, err2 := st2.ListScrapeLog(context.Background(), 10)
	require.NoError(t, err2)
	assert.Len(t, entries, 2)
}

func TestRunBatchDateFromDocument(t *testing.T) {
	st := newTestStore(t)

	docDate := time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)
	ref := model.ReportRef{URL: "undated", Type: model.ReportTypeDaily}

	runner := New(
		&fakeFetcher{},
		&fakeExtractor{results: map[string]model.ExtractionResult{
			"undated": {
				Kind:         model.ExtractionKindText,
				Rows:         []model.RawTableRow{{Page: 1, Line: 1, Text: "undated"}},
				DocumentDate: &docDate,
			},
		}},
		&fakeNormalizer{results: map[string][]model.RowResult{
			"undated": {goodRecord(docDate, "Tilapia")},
		}},
		merge.New(st),
		st,
	)

	report, err := runner.RunBatch(context.Background(), []model.ReportRef{ref}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "2026-02-08", report.Entries[0].ReportDate)
}

func TestRunBatchNoDateFails(t *testing.T) {
	st := newTestStore(t)
	ref := model.ReportRef{URL: "nodate", Type: model.ReportTypeDaily}

	runner := New(&fakeFetcher{}, &fakeExtractor{}, &fakeNormalizer{}, merge.New(st), st)
	report, err := runner.RunBatch(context.Background(), []model.ReportRef{ref}, Options{})
	assert.Error(t, err, "the batch's only report failed")
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Entries[0].Diagnostic, "no report date")
}

func TestRunBatchDryRun(t *testing.T) {
	st := newTestStore(t)
	ref := datedRef("dry", 8)

	norm := &fakeNormalizer{results: map[string][]model.RowResult{
		"dry": {goodRecord(*ref.Date, "Tilapia")},
	}}
	runner := New(&fakeFetcher{}, &fakeExtractor{}, norm, merge.New(st), st)

	report, err := runner.RunBatch(context.Background(), []model.ReportRef{ref}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, report.Merge.Inserted)

	_, total, err := st.PricesForDate(context.Background(), "2026-02-08", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total, "dry run writes nothing")

	entries, err := st.ListScrapeLog(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run skips the scrape log too")
}

func TestRunBatchConcurrent(t *testing.T) {
	st := newTestStore(t)

	var refs []model.ReportRef
	norm := &fakeNormalizer{results: map[string][]model.RowResult{}}
	for day := 1; day <= 8; day++ {
		ref := datedRef(string(rune('a'+day)), day)
		refs = append(refs, ref)
		norm.results[ref.URL] = []model.RowResult{goodRecord(*ref.Date, "Tilapia")}
	}

	runner := New(&fakeFetcher{}, &fakeExtractor{}, norm, merge.New(st), st)
	report, err := runner.RunBatch(context.Background(), refs, Options{Concurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, 8, report.Succeeded)
	assert.Equal(t, 8, report.Merge.Inserted)
}

// blockingFetcher parks every fetch until released, so a test can cancel the
// batch while a report is in flight.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *blockingFetcher) Fetch(ctx context.Context, ref model.ReportRef) (model.Report, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	<-f.release
	return model.Report{Ref: ref, Content: []byte("pdf"), Status: model.ExtractionPending}, nil
}

func TestRunBatchCancelFinishesCurrentReport(t *testing.T) {
	st := newTestStore(t)

	refs := []model.ReportRef{datedRef("c1", 1), datedRef("c2", 2), datedRef("c3", 3)}
	norm := &fakeNormalizer{results: map[string][]model.RowResult{}}
	for _, ref := range refs {
		norm.results[ref.URL] = []model.RowResult{goodRecord(*ref.Date, "Tilapia")}
	}

	fetch := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	runner := New(fetch, &fakeExtractor{}, norm, merge.New(st), st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var report model.BatchReport
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, err = runner.RunBatch(ctx, refs, Options{})
	}()

	<-fetch.started
	cancel()
	close(fetch.release)
	<-done

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Succeeded, "the in-flight report runs to completion")
	assert.Zero(t, report.Failed)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, model.OutcomeSuccess, report.Entries[0].Outcome)
	assert.EqualValues(t, 1, fetch.calls.Load(), "later reports never start after cancellation")

	entries, logErr := st.ListScrapeLog(context.Background(), 10)
	require.NoError(t, logErr)
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutcomeSuccess, entries[0].Outcome)

	_, total, qErr := st.PricesForDate(context.Background(), "2026-02-01", 1, 10)
	require.NoError(t, qErr)
	assert.Equal(t, 1, total, "the finished report's records are merged")
}
