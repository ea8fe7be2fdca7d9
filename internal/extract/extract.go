// Package extract executes an extraction schema against a page and turns
// every container match into a ScrapeResult.
package extract

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"pagesentry/internal/model"
	"pagesentry/internal/schema"
	"pagesentry/internal/scraper"
	"pagesentry/internal/scrapeutil"
)

const (
	MaxResults             = 50
	titleFallbackLen       = 100
	descriptionFallbackLen = 200
)

// ErrNoContainers means the container selector matched nothing. It almost
// always points at a stale or wrong schema, so it is an error rather than
// an empty result.
var ErrNoContainers = errors.New("container selector matched no elements")

// Runner fetches a page and applies a schema to it.
type Runner struct {
	fetcher scraper.Fetcher
	timeout time.Duration
	policy  *bluemonday.Policy
	logger  *slog.Logger
}

func NewRunner(fetcher scraper.Fetcher, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		fetcher: fetcher,
		timeout: timeout,
		policy:  bluemonday.StrictPolicy(),
		logger:  logger,
	}
}

// Run fetches url and applies s to it.
func (r *Runner) Run(ctx context.Context, url string, s model.ExtractionSchema) ([]model.ScrapeResult, error) {
	if err := schema.Validate(&s); err != nil {
		return nil, err
	}
	page, err := r.fetcher.Fetch(ctx, scraper.BuildRequestFromOptions(scraper.RequestOptions{
		URL:       url,
		TimeoutMs: int(r.timeout / time.Millisecond),
	}))
	if err != nil {
		return nil, err
	}
	results, err := r.Apply(page.HTML, page.BaseURL(), s)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("schema applied", "url", page.URL, "results", len(results))
	return results, nil
}

// Apply runs s against already fetched html. It does no network access.
func (r *Runner) Apply(rawHTML, pageURL string, s model.ExtractionSchema) ([]model.ScrapeResult, error) {
	container := s.Container()
	if container == nil || container.Selector == "" {
		return nil, &schema.ShapeError{Reason: "container selector (selectors[0]) is empty"}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	matches := doc.Find(container.Selector)
	if matches.Length() == 0 {
		return nil, ErrNoContainers
	}

	results := make([]model.ScrapeResult, 0, min(matches.Length(), MaxResults))
	matches.EachWithBreak(func(_ int, node *goquery.Selection) bool {
		metadata := make(map[string]any, len(s.Fields()))
		for _, f := range s.Fields() {
			target := node
			if f.Selector != container.Selector {
				target = node.Find(f.Selector).First()
			}
			if target.Length() == 0 {
				continue
			}
			metadata[f.Field] = r.valueOf(target, f)
		}

		if !passesFilters(metadata, s.Filters) {
			return true
		}

		results = append(results, r.buildResult(node, metadata, pageURL))
		return len(results) < MaxResults
	})
	return results, nil
}

func (r *Runner) valueOf(node *goquery.Selection, f model.Selector) string {
	var raw string
	if f.Attribute != "" {
		raw = node.AttrOr(f.Attribute, "")
	} else {
		raw = node.Text()
	}
	return r.sanitize(raw)
}

// sanitize strips markup the value may contain and decodes entities.
func (r *Runner) sanitize(s string) string {
	return scrapeutil.CollapseWhitespace(html.UnescapeString(r.policy.Sanitize(s)))
}

func (r *Runner) buildResult(node *goquery.Selection, metadata map[string]any, pageURL string) model.ScrapeResult {
	text := r.sanitize(node.Text())

	title := firstString(metadata, "title", "name")
	if title == "" {
		title = scrapeutil.Truncate(text, titleFallbackLen)
	}

	description := firstString(metadata, "description")
	if description == "" {
		description = scrapeutil.Truncate(text, descriptionFallbackLen)
	}

	link := firstString(metadata, "link", "url")
	if link == "" {
		link = strings.TrimSpace(node.Find("a[href]").First().AttrOr("href", ""))
	}
	if link == "" && goquery.NodeName(node) == "a" {
		link = strings.TrimSpace(node.AttrOr("href", ""))
	}
	link = scrapeutil.ResolveURL(pageURL, link)

	return model.ScrapeResult{
		Title:       title,
		Description: description,
		URL:         link,
		Metadata:    metadata,
	}
}

func firstString(metadata map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := scrapeutil.ToString(metadata[k]); v != "" {
			return v
		}
	}
	return ""
}

// passesFilters keeps a record only when every filter holds. A field that
// is missing or has no numeric token fails its filter.
func passesFilters(metadata map[string]any, filters []model.Filter) bool {
	for _, f := range filters {
		raw, ok := lookupField(metadata, f.Field)
		if !ok {
			return false
		}
		n, ok := scrapeutil.ParseNumber(scrapeutil.ToString(raw))
		if !ok || !f.Operator.Compare(n, f.Value) {
			return false
		}
	}
	return true
}

func lookupField(metadata map[string]any, field string) (any, bool) {
	if v, ok := metadata[field]; ok {
		return v, true
	}
	for k, v := range metadata {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	return nil, false
}
