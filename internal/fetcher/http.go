package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/palengke-labs/pricewatch/internal/model"
)

// Options configures the HTTP fetcher.
type Options struct {
	CacheDir   string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RatePerSec float64
	Burst      int
}

// HTTPFetcher implements Fetcher using net/http with retry and a politeness
// rate limiter toward the publisher.
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// New creates an HTTPFetcher with the given options.
func New(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pricewatch/1.0"
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 2
	}
	if opts.Burst == 0 {
		opts.Burst = 2
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
	}
}

// Fetch returns the report bytes, from cache when a complete cached copy
// exists. Downloads are written to a temp file and renamed into place so a
// crash mid-download never leaves a partial cache entry behind.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref model.ReportRef) (model.Report, error) {
	report := model.Report{Ref: ref, Status: model.ExtractionPending}

	path := f.cachePath(ref)
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		report.Content = data
		report.FromCache = true
		return report, nil
	}

	data, err := f.download(ctx, ref.URL)
	if err != nil {
		return report, err
	}

	if err := f.writeCache(path, data); err != nil {
		// A cache write failure is an infrastructure problem worth
		// surfacing; the download itself succeeded.
		return report, err
	}

	report.Content = data
	return report, nil
}

// cachePath returns the canonical cache location for a report: date-keyed
// for dated dailies, sanitized URL basename otherwise.
func (f *HTTPFetcher) cachePath(ref model.ReportRef) string {
	if d := ref.DateString(); d != "" {
		return filepath.Join(f.opts.CacheDir, "daily-"+d+".pdf")
	}
	base := filepath.Base(ref.URL)
	sanitized := make([]rune, 0, len(base))
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sanitized = append(sanitized, r)
		default:
			sanitized = append(sanitized, '-')
		}
	}
	return filepath.Join(f.opts.CacheDir, string(sanitized))
}

func (f *HTTPFetcher) writeCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "fetcher: create cache dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "fetcher: create temp cache file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "fetcher: write cache")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "fetcher: close cache file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "fetcher: commit cache file")
	}
	return nil
}

func (f *HTTPFetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("download failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			return nil, eris.Wrapf(model.ErrNotFound, "404 from %s", rawURL)
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, rawURL)
			zap.L().Warn("unexpected status, retrying",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.backoff(ctx, attempt)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			f.backoff(ctx, attempt)
			continue
		}
		return data, nil
	}

	return nil, eris.Wrapf(model.ErrDownloadFailed, "all retries exhausted: %v", lastErr)
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
