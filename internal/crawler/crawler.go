// Package crawler discovers published report PDFs on the publisher's price
// monitoring index page.
package crawler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/palengke-labs/pricewatch/internal/dates"
	"github.com/palengke-labs/pricewatch/internal/model"
)

// Options configures a Crawler.
type Options struct {
	IndexURL  string
	UserAgent string
	Timeout   time.Duration
}

// Crawler lists report references from the publisher index.
type Crawler struct {
	opts   Options
	client *http.Client
}

// New creates a Crawler with the given options.
func New(opts Options) *Crawler {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pricewatch/1.0"
	}
	return &Crawler{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// ListReports fetches the index page and returns daily report references,
// newest first as published, optionally filtered to dates after since.
// Weekly and unclassifiable links are discovered but not returned; they are
// logged for visibility.
func (c *Crawler) ListReports(ctx context.Context, since *time.Time) ([]model.ReportRef, error) {
	links, err := c.fetchIndexLinks(ctx)
	if err != nil {
		return nil, err
	}

	var daily []model.ReportRef
	var weekly, other int
	for _, link := range links {
		ref := classify(link)
		switch ref.Type {
		case model.ReportTypeDaily:
			if since != nil && ref.Date != nil && ref.Date.Before(*since) {
				continue
			}
			daily = append(daily, ref)
		case model.ReportTypeWeekly:
			weekly++
		default:
			other++
		}
	}

	zap.L().Info("crawled publisher index",
		zap.Int("daily", len(daily)),
		zap.Int("weekly", weekly),
		zap.Int("other", other),
	)

	return daily, nil
}

type pdfLink struct {
	href string
	text string
}

func (c *Crawler) fetchIndexLinks(ctx context.Context) ([]pdfLink, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.IndexURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: create index request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(model.ErrIndexUnavailable, err.Error())
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(model.ErrIndexUnavailable, "index returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, eris.Wrap(model.ErrIndexUnavailable, err.Error())
	}

	base, err := url.Parse(c.opts.IndexURL)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: parse index url")
	}

	var links []pdfLink
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := attr(n, "href"); ok && strings.HasSuffix(strings.ToLower(href), ".pdf") {
				resolved := href
				if u, err := url.Parse(href); err == nil {
					resolved = base.ResolveReference(u).String()
				}
				links = append(links, pdfLink{href: resolved, text: nodeText(n)})
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if len(links) == 0 {
		return nil, eris.Wrap(model.ErrIndexUnavailable, "no pdf links found on index page")
	}

	return links, nil
}

// classify buckets a PDF link into daily/weekly/other and resolves its date.
// Links without a type keyword still count as daily when a date can be
// recovered from their text or URL.
func classify(link pdfLink) model.ReportRef {
	ref := model.ReportRef{URL: link.href, Title: strings.TrimSpace(link.text)}

	urlLower := strings.ToLower(link.href)
	textLower := strings.ToLower(link.text)

	switch {
	case strings.Contains(urlLower, "weekly") || strings.Contains(textLower, "weekly"):
		ref.Type = model.ReportTypeWeekly
	case strings.Contains(urlLower, "cigarette") || strings.Contains(textLower, "cigarette"):
		ref.Type = model.ReportTypeOther
	case strings.Contains(urlLower, "daily") || strings.Contains(urlLower, "dpi") ||
		strings.Contains(urlLower, "price-monitoring"):
		ref.Type = model.ReportTypeDaily
		ref.Date = resolveDate(link)
	default:
		if d := resolveDate(link); d != nil {
			ref.Type = model.ReportTypeDaily
			ref.Date = d
		} else {
			ref.Type = model.ReportTypeOther
		}
	}

	if ref.Type == model.ReportTypeDaily && ref.Date == nil {
		ref.Date = resolveDate(link)
	}

	return ref
}

func resolveDate(link pdfLink) *time.Time {
	if d := dates.FromLinkText(link.text); d != nil {
		return d
	}
	return dates.FromURL(link.href)
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
