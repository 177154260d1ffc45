// Package scraper fetches candidate documents from configured agency
// sources: listing pages are parsed for relevant links, and each linked
// document is fetched and reduced to clean text.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"medreg-notifier/config"
	"medreg-notifier/pkg/medreg"
)

// Documents shorter than this after cleanup are treated as stubs and
// skipped.
const minContentLength = 100

// Fetcher retrieves candidate documents from one source.
type Fetcher interface {
	Name() string
	FetchCandidates(ctx context.Context) ([]*medreg.RawDocument, error)
}

// HTTPStatusError indicates a non-OK response that should not be retried
// blindly.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsForbidden checks if an error is an HTTP 403 response.
func IsForbidden(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden
}

// NewRegistry builds one fetcher per configured source. An unknown source
// kind is a configuration error. maxPerPath bounds how many candidate
// links are followed from each listing page (0 means unbounded).
// renderClient carries the longer timeout rendering proxies need; when
// nil, rendered sources fall back to client.
func NewRegistry(sources []config.SourceConfig, maxPerPath int, client, renderClient *http.Client, logger *slog.Logger) ([]Fetcher, error) {
	if renderClient == nil {
		renderClient = client
	}
	fetchers := make([]Fetcher, 0, len(sources))
	for _, src := range sources {
		switch src.Kind {
		case "html", "":
			fetchers = append(fetchers, newHTMLFetcher(src, maxPerPath, client, logger))
		case "rendered":
			if src.RenderProxyURL == "" {
				logger.Warn("Rendered source has no render_proxy_url, fetching directly", "source", src.Name)
				fetchers = append(fetchers, newHTMLFetcher(src, maxPerPath, client, logger))
				continue
			}
			fetchers = append(fetchers, newRenderedFetcher(src, maxPerPath, renderClient, logger))
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
		}
	}
	return fetchers, nil
}

// loader fetches one page and returns its parsed document.
type loader func(ctx context.Context, pageURL string) (*goquery.Document, error)

type htmlFetcher struct {
	load          loader
	logger        *slog.Logger
	name          string
	baseURL       string
	paths         []string
	linkKeywords  []string
	maxCandidates int
}

func newHTMLFetcher(src config.SourceConfig, maxPerPath int, client *http.Client, logger *slog.Logger) *htmlFetcher {
	f := &htmlFetcher{
		logger:        logger,
		name:          src.Name,
		baseURL:       src.BaseURL,
		paths:         src.Paths,
		linkKeywords:  src.LinkKeywords,
		maxCandidates: maxPerPath,
	}
	f.load = func(ctx context.Context, pageURL string) (*goquery.Document, error) {
		return fetchDocument(ctx, client, pageURL, logger)
	}
	return f
}

// newRenderedFetcher routes every page load through a rendering proxy so
// that script-built pages arrive as finished HTML.
func newRenderedFetcher(src config.SourceConfig, maxPerPath int, client *http.Client, logger *slog.Logger) *htmlFetcher {
	f := newHTMLFetcher(src, maxPerPath, client, logger)
	proxy := src.RenderProxyURL
	f.load = func(ctx context.Context, pageURL string) (*goquery.Document, error) {
		rendered := proxy + "?url=" + url.QueryEscape(pageURL)
		return fetchDocument(ctx, client, rendered, logger)
	}
	return f
}

func (f *htmlFetcher) Name() string { return f.name }

// FetchCandidates walks each configured listing path, collects links whose
// text or target matches a configured keyword, and fetches the linked
// documents. A failing path is logged and skipped; an error is returned
// only when every path fails.
func (f *htmlFetcher) FetchCandidates(ctx context.Context) ([]*medreg.RawDocument, error) {
	var docs []*medreg.RawDocument
	seen := make(map[string]bool)
	failures := 0

	for _, path := range f.paths {
		listingURL := f.baseURL + path
		candidates, err := f.discoverLinks(ctx, listingURL)
		if err != nil {
			f.logger.Warn("Listing page fetch failed",
				"source", f.name,
				"url", listingURL,
				"error", err)
			failures++
			continue
		}

		f.logger.Info("Listing page scanned",
			"source", f.name,
			"url", listingURL,
			"candidates", len(candidates))

		for _, cand := range candidates {
			if seen[cand.url] {
				continue
			}
			seen[cand.url] = true

			doc, err := f.fetchDocumentText(ctx, cand)
			if err != nil {
				f.logger.Warn("Candidate fetch failed",
					"source", f.name,
					"url", cand.url,
					"error", err)
				continue
			}
			if doc == nil {
				continue
			}
			docs = append(docs, doc)
		}
	}

	if failures == len(f.paths) && len(f.paths) > 0 {
		return nil, fmt.Errorf("source %s: all %d listing paths failed", f.name, failures)
	}

	return docs, nil
}

type candidate struct {
	url   string
	title string
}

func (f *htmlFetcher) discoverLinks(ctx context.Context, listingURL string) ([]candidate, error) {
	doc, err := f.load(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing URL: %w", err)
	}

	var candidates []candidate
	seen := make(map[string]bool)

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if f.maxCandidates > 0 && len(candidates) >= f.maxCandidates {
			return false
		}

		href, _ := sel.Attr("href")
		text := strings.TrimSpace(sel.Text())
		if href == "" || !f.matchesKeywords(text, href) {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		resolved.Fragment = ""

		link := resolved.String()
		if seen[link] {
			return true
		}
		seen[link] = true

		candidates = append(candidates, candidate{url: link, title: text})
		return true
	})

	return candidates, nil
}

// matchesKeywords reports whether a link looks like a regulatory document.
// With no keywords configured, every link on the listing page qualifies.
func (f *htmlFetcher) matchesKeywords(text, href string) bool {
	if len(f.linkKeywords) == 0 {
		return true
	}
	textLower := strings.ToLower(text)
	hrefLower := strings.ToLower(href)
	for _, kw := range f.linkKeywords {
		kwLower := strings.ToLower(kw)
		if strings.Contains(textLower, kwLower) || strings.Contains(hrefLower, kwLower) {
			return true
		}
	}
	return false
}

func (f *htmlFetcher) fetchDocumentText(ctx context.Context, cand candidate) (*medreg.RawDocument, error) {
	doc, err := f.load(ctx, cand.url)
	if err != nil {
		return nil, err
	}

	content := CleanText(doc)
	if len(content) < minContentLength {
		f.logger.Debug("Skipping stub document",
			"source", f.name,
			"url", cand.url,
			"length", len(content))
		return nil, nil
	}

	title := cand.title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	return &medreg.RawDocument{
		Source:    f.name,
		URL:       cand.url,
		Title:     title,
		Content:   content,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// CleanText reduces a parsed page to whitespace-normalized body text,
// dropping script, style and navigation chrome.
func CleanText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	body := doc.Find("body")
	var text string
	if body.Length() > 0 {
		text = body.Text()
	} else {
		text = doc.Text()
	}

	return strings.Join(strings.Fields(text), " ")
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string, logger *slog.Logger) (*goquery.Document, error) {
	var doc *goquery.Document

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			// Chrome-like headers to avoid getting blocked
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.8")
			req.Header.Set("Sec-Fetch-Dest", "document")
			req.Header.Set("Sec-Fetch-Mode", "navigate")
			req.Header.Set("Sec-Fetch-Site", "none")
			req.Header.Set("Upgrade-Insecure-Requests", "1")
			req.Header.Set("Cache-Control", "max-age=0")

			startTime := time.Now()
			resp, err := client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			logger.Debug("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
				return &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			parsed, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 10<<20))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse HTML: %w", err))
			}
			doc = parsed
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var statusErr *HTTPStatusError
			return !errors.As(err, &statusErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return doc, nil
}
