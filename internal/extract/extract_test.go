package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pagesentry/internal/model"
	"pagesentry/internal/scraper"
)

func newRunner() *Runner {
	return NewRunner(scraper.NewHTTPFetcher(5*time.Second, "", false, nil), 5*time.Second, nil)
}

const votesPage = `<html><body>
<div class="post"><a class="title" href="/p/1">First &amp; best</a> <span class="votes">1,234 votes</span></div>
</body></html>`

func votesSchema(threshold float64) model.ExtractionSchema {
	return model.ExtractionSchema{
		Selectors: []model.Selector{
			{Field: "container", Selector: "div.post"},
			{Field: "title", Selector: "a.title"},
			{Field: "votes", Selector: "span.votes"},
		},
		Filters: []model.Filter{{Field: "votes", Operator: model.OpGreater, Value: threshold}},
	}
}

func TestApply_FilterRoundTrip(t *testing.T) {
	r := newRunner()

	kept, err := r.Apply(votesPage, "https://news.test/", votesSchema(1000))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("expected record with 1,234 votes to pass >1000, got %d", len(kept))
	}
	if kept[0].Metadata["votes"] != "1,234 votes" {
		t.Fatalf("unexpected votes metadata %v", kept[0].Metadata["votes"])
	}

	dropped, err := r.Apply(votesPage, "https://news.test/", votesSchema(2000))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if len(dropped) != 0 {
		t.Fatalf("expected record to be dropped by >2000, got %d", len(dropped))
	}
}

func TestApply_DerivesResultFields(t *testing.T) {
	r := newRunner()
	results, err := r.Apply(votesPage, "https://news.test/list", votesSchema(0))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	got := results[0]
	if got.Title != "First & best" {
		t.Fatalf("expected decoded title, got %q", got.Title)
	}
	if got.URL != "https://news.test/p/1" {
		t.Fatalf("expected first anchor resolved, got %q", got.URL)
	}
	if got.Description != "First & best 1,234 votes" {
		t.Fatalf("expected container text as description, got %q", got.Description)
	}
}

func TestApply_NoContainersIsError(t *testing.T) {
	r := newRunner()
	_, err := r.Apply(votesPage, "https://news.test/", model.ExtractionSchema{
		Selectors: []model.Selector{{Field: "container", Selector: "article.missing"}},
	})
	if !errors.Is(err, ErrNoContainers) {
		t.Fatalf("expected ErrNoContainers, got %v", err)
	}
}

func TestApply_ContainerSelfAndFallbacks(t *testing.T) {
	page := `<html><body>
	<a class="card" href="https://ext.test/a" data-score="7">  Alpha   card text </a>
	<a class="card" href="/b" data-score="3">Beta</a>
	</body></html>`
	r := newRunner()
	results, err := r.Apply(page, "https://site.test/", model.ExtractionSchema{
		Selectors: []model.Selector{
			{Field: "container", Selector: "a.card"},
			{Field: "score", Selector: "a.card", Attribute: "data-score"},
		},
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Metadata["score"] != "7" {
		t.Fatalf("expected attribute read from container itself, got %v", results[0].Metadata["score"])
	}
	if results[0].Title != "Alpha card text" {
		t.Fatalf("expected container text title fallback, got %q", results[0].Title)
	}
	if results[0].URL != "https://ext.test/a" || results[1].URL != "https://site.test/b" {
		t.Fatalf("unexpected urls %q %q", results[0].URL, results[1].URL)
	}
}

func TestApply_CapsResults(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<ul>")
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "<li>item %d</li>", i)
	}
	sb.WriteString("</ul>")

	results, err := newRunner().Apply(sb.String(), "https://x.test/", model.ExtractionSchema{
		Selectors: []model.Selector{{Field: "container", Selector: "li"}},
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if len(results) != MaxResults {
		t.Fatalf("expected %d results, got %d", MaxResults, len(results))
	}
}

func TestApply_MissingFilterFieldDrops(t *testing.T) {
	s := votesSchema(0)
	s.Filters = []model.Filter{{Field: "price", Operator: model.OpLess, Value: 10}}
	results, err := newRunner().Apply(votesPage, "https://news.test/", s)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected record without price to fail the filter")
	}
}

func TestRun_FetchesAndValidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(votesPage))
	}))
	defer srv.Close()

	r := newRunner()
	results, err := r.Run(context.Background(), srv.URL, votesSchema(100))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 1 || !strings.HasPrefix(results[0].URL, srv.URL) {
		t.Fatalf("unexpected results %+v", results)
	}

	if _, err := r.Run(context.Background(), srv.URL, model.ExtractionSchema{}); err == nil {
		t.Fatalf("expected shape error for empty schema")
	}
}

func TestRun_ResolvesLinksAgainstRedirectTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new/list/", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte(`<html><body><div class="post"><a class="title" href="item/1">One</a></div></body></html>`))
	}))
	defer srv.Close()

	schema := model.ExtractionSchema{Selectors: []model.Selector{
		{Field: "container", Selector: "div.post"},
		{Field: "title", Selector: "a.title"},
	}}
	results, err := newRunner().Run(context.Background(), srv.URL+"/old", schema)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 1 || results[0].URL != srv.URL+"/new/list/item/1" {
		t.Fatalf("expected link resolved against redirect target, got %+v", results)
	}
}
