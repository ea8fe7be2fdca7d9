// Package inspector fetches pages and extracts the structural signals the
// schema generator feeds to the model.
package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"pagesentry/internal/scraper"
	"pagesentry/internal/scrapeutil"
	"pagesentry/internal/selector"
)

const (
	MaxSnippetChars   = 15000
	maxOutlineChars   = 3000
	maxAttrValues     = 50
	maxRepeatClasses  = 30
	minClassFrequency = 3
	maxCandidates     = 5
)

// SemanticTags are counted on every inspected page.
var SemanticTags = []string{"article", "section", "main", "aside", "nav", "header", "footer"}

// ClassCount is a class name and the number of elements carrying it.
type ClassCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PagePatterns holds the structural signals found on one page.
type PagePatterns struct {
	DataTest            []string       `json:"dataTest"`
	DataTestID          []string       `json:"dataTestId"`
	RepeatingClasses    []ClassCount   `json:"repeatingClasses"`
	SemanticTags        map[string]int `json:"semanticTags"`
	CandidateContainers []string       `json:"candidateContainers"`
}

// Result is the output of one inspection.
type Result struct {
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	HTML        string       `json:"-"`
	HTMLSnippet string       `json:"htmlSnippet"`
	Outline     string       `json:"outline,omitempty"`
	Patterns    PagePatterns `json:"patterns"`
	Engine      string       `json:"engine"`
}

// Inspector fetches and analyses a page.
type Inspector interface {
	Inspect(ctx context.Context, rawURL string) (*Result, error)
}

// FetchInspector is an Inspector over any scraper.Fetcher. The HTTP and
// browser variants differ only in the fetcher they wrap.
type FetchInspector struct {
	fetcher scraper.Fetcher
	timeout time.Duration
	logger  *slog.Logger
}

func New(fetcher scraper.Fetcher, timeout time.Duration, logger *slog.Logger) *FetchInspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchInspector{fetcher: fetcher, timeout: timeout, logger: logger}
}

// NewHTTPInspector inspects pages with a plain HTTP fetch.
func NewHTTPInspector(timeout time.Duration, userAgent string, respectRobots bool, logger *slog.Logger) *FetchInspector {
	return New(scraper.NewHTTPFetcher(timeout, userAgent, respectRobots, logger), timeout, logger)
}

// NewRodInspector renders pages in a browser and waits for network idle
// before harvesting them.
func NewRodInspector(browserURL string, timeout time.Duration, userAgent string, logger *slog.Logger) *FetchInspector {
	return New(scraper.NewRodFetcher(browserURL, timeout, userAgent), timeout, logger)
}

func (i *FetchInspector) Inspect(ctx context.Context, rawURL string) (*Result, error) {
	page, err := i.fetcher.Fetch(ctx, scraper.BuildRequestFromOptions(scraper.RequestOptions{
		URL:       rawURL,
		TimeoutMs: int(i.timeout / time.Millisecond),
	}))
	if err != nil {
		return nil, err
	}

	res, err := Analyze(page.HTML, page.BaseURL())
	if err != nil {
		return nil, err
	}
	res.Engine = page.Engine
	if res.Title == "" {
		res.Title = page.Title
	}

	i.logger.Debug("page inspected",
		"url", res.URL,
		"engine", page.Engine,
		"repeating_classes", len(res.Patterns.RepeatingClasses),
		"candidates", len(res.Patterns.CandidateContainers),
	)
	return res, nil
}

// Analyze extracts patterns, a cleaned snippet and a markdown outline from
// html without any network access.
func Analyze(html, pageURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, template, iframe, svg").Remove()

	res := &Result{
		URL:   pageURL,
		HTML:  html,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Patterns: PagePatterns{
			DataTest:            attrValues(doc, "data-test"),
			DataTestID:          attrValues(doc, "data-testid"),
			RepeatingClasses:    repeatingClasses(doc),
			SemanticTags:        semanticCounts(doc),
			CandidateContainers: selector.CandidateContainers(doc, maxCandidates),
		},
	}

	cleaned, err := doc.Html()
	if err != nil {
		cleaned = html
	}
	res.HTMLSnippet = truncateBytes(cleaned, MaxSnippetChars)
	res.Outline = outline(cleaned, pageURL)
	return res, nil
}

func attrValues(doc *goquery.Document, attr string) []string {
	seen := map[string]bool{}
	out := []string{}
	doc.Find("[" + attr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v := strings.TrimSpace(s.AttrOr(attr, ""))
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
		return len(out) < maxAttrValues
	})
	return out
}

func repeatingClasses(doc *goquery.Document) []ClassCount {
	counts := map[string]int{}
	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		seen := map[string]bool{}
		for _, c := range strings.Fields(s.AttrOr("class", "")) {
			if !seen[c] {
				seen[c] = true
				counts[c]++
			}
		}
	})

	out := []ClassCount{}
	for name, n := range counts {
		if n >= minClassFrequency {
			out = append(out, ClassCount{Name: name, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > maxRepeatClasses {
		out = out[:maxRepeatClasses]
	}
	return out
}

func semanticCounts(doc *goquery.Document) map[string]int {
	counts := make(map[string]int, len(SemanticTags))
	for _, tag := range SemanticTags {
		counts[tag] = doc.Find(tag).Length()
	}
	return counts
}

func outline(html, pageURL string) string {
	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Hostname()
	}
	converter := htmlmd.NewConverter(domain, true, nil)
	md, err := converter.ConvertString(html)
	if err != nil {
		return ""
	}
	return scrapeutil.Truncate(strings.TrimSpace(md), maxOutlineChars)
}

// truncateBytes cuts s to at most max bytes without splitting a rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
