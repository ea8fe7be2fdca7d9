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
)

// DefaultUserAgent is sent when a request does not carry its own.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PageSentry/1.0; +https://github.com/pagesentry/pagesentry)"

const maxBodyBytes = 10 << 20

// ErrRobotsDisallowed is returned when robots.txt forbids fetching the URL.
var ErrRobotsDisallowed = errors.New("fetch disallowed by robots.txt")

// Request represents a single page fetch.
type Request struct {
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
	UserAgent string
}

// Page is the raw result of fetching a URL.
type Page struct {
	URL      string
	FinalURL string
	HTML     string
	Title    string
	Status   int
	Engine   string
}

// BaseURL is the URL relative links on the page resolve against: the
// final URL after redirects when known.
func (p *Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// Fetcher retrieves HTML for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Page, error)
}

// FetchError reports a network failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizeURL parses raw and defaults the scheme to https. Only http and
// https URLs with a host are accepted.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	return u, nil
}

// HTTPFetcher is a plain net/http implementation of Fetcher.
type HTTPFetcher struct {
	client        *http.Client
	userAgent     string
	respectRobots bool
	logger        *slog.Logger
}

func NewHTTPFetcher(timeout time.Duration, userAgent string, respectRobots bool, logger *slog.Logger) *HTTPFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client:        &http.Client{Timeout: timeout},
		userAgent:     userAgent,
		respectRobots: respectRobots,
		logger:        logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	u, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Err: err}
	}

	ua := req.UserAgent
	if ua == "" {
		ua = f.userAgent
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if f.respectRobots {
		if !f.allowedByRobots(ctx, u, ua) {
			return nil, &FetchError{URL: u.String(), Err: ErrRobotsDisallowed}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("User-Agent", ua)

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}

	page := &Page{
		URL:      u.String(),
		FinalURL: resp.Request.URL.String(),
		HTML:     string(body),
		Status:   resp.StatusCode,
		Engine:   "http",
		Title:    titleOf(string(body)),
	}
	f.logger.Debug("page fetched", "url", page.URL, "status", page.Status, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())
	return page, nil
}

func titleOf(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
