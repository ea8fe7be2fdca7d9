package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RodFetcher uses a real browser (via rod) to render script-heavy pages
// before harvesting their HTML.
type RodFetcher struct {
	BrowserURL string
	Timeout    time.Duration
	UserAgent  string
}

func NewRodFetcher(browserURL string, timeout time.Duration, userAgent string) *RodFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &RodFetcher{BrowserURL: browserURL, Timeout: timeout, UserAgent: userAgent}
}

func (r *RodFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	u, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Err: err}
	}

	timeout := r.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	browser := rod.New().Context(ctx).Timeout(timeout)
	if r.BrowserURL != "" {
		browser = browser.ControlURL(r.BrowserURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	defer page.MustClose()

	ua := req.UserAgent
	if ua == "" {
		ua = r.UserAgent
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}

	// Arm the idle waiter before navigating so early requests are counted.
	waitIdle := page.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	if err := page.Navigate(u.String()); err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	if err := page.WaitLoad(); err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}
	waitIdle()

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, &FetchError{URL: u.String(), Err: err}
	}

	finalURL := u.String()
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &Page{
		URL:      u.String(),
		FinalURL: finalURL,
		HTML:     htmlStr,
		Title:    strings.TrimSpace(titleOf(htmlStr)),
		Status:   200,
		Engine:   "browser",
	}, nil
}
