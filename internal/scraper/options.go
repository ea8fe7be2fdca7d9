package scraper

import (
	"strings"
	"time"

	"pagesentry/internal/config"
)

// RequestOptions is a higher-level set of options used to construct a
// Request consistently across the inspector, the scrape runner and the
// worker.
type RequestOptions struct {
	URL       string
	Headers   map[string]string
	TimeoutMs int
	UserAgent string
	Languages []string
}

// BuildRequestFromOptions builds a Request from RequestOptions, deriving
// Accept-Language from Languages.
func BuildRequestFromOptions(opts RequestOptions) Request {
	headers := map[string]string{}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	if len(opts.Languages) > 0 {
		headers["Accept-Language"] = strings.Join(opts.Languages, ",")
	} else if _, ok := headers["Accept-Language"]; !ok {
		headers["Accept-Language"] = "en-US,en;q=0.9"
	}

	var timeout time.Duration
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}

	return Request{
		URL:       opts.URL,
		Headers:   headers,
		Timeout:   timeout,
		UserAgent: opts.UserAgent,
	}
}

// NewFetcherFromConfig returns the browser fetcher when rod is enabled,
// otherwise the plain HTTP fetcher.
func NewFetcherFromConfig(cfg *config.Config, timeoutMs int) Fetcher {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if cfg.Rod.Enabled {
		return NewRodFetcher(cfg.Rod.BrowserURL, timeout, cfg.Scraper.UserAgent)
	}
	return NewHTTPFetcher(timeout, cfg.Scraper.UserAgent, cfg.Scraper.RespectRobots, nil)
}
