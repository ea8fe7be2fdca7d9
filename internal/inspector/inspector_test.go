package inspector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pagesentry/internal/scraper"
)

func listingHTML(n int) string {
	var sb strings.Builder
	sb.WriteString(`<html><head><title>Listing</title><style>.x{color:red}</style></head><body><header>h</header><main><section>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, `<article class="card" data-testid="card-%d"><h2 class="card-title">Item %d</h2><a href="/i/%d">more</a></article>`, i%2, i, i)
	}
	sb.WriteString(`</section></main><script>window.evil = 1</script><footer>f</footer></body></html>`)
	return sb.String()
}

func TestAnalyze_ExtractsPatterns(t *testing.T) {
	res, err := Analyze(listingHTML(4), "https://example.com/list")
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if res.Title != "Listing" {
		t.Fatalf("unexpected title %q", res.Title)
	}
	if got := strings.Join(res.Patterns.DataTestID, ","); got != "card-0,card-1" {
		t.Fatalf("unexpected data-testid values %q", got)
	}
	if len(res.Patterns.RepeatingClasses) != 2 || res.Patterns.RepeatingClasses[0].Count != 4 {
		t.Fatalf("unexpected repeating classes %+v", res.Patterns.RepeatingClasses)
	}
	if res.Patterns.SemanticTags["article"] != 4 || res.Patterns.SemanticTags["main"] != 1 || res.Patterns.SemanticTags["nav"] != 0 {
		t.Fatalf("unexpected semantic counts %v", res.Patterns.SemanticTags)
	}
	if len(res.Patterns.CandidateContainers) == 0 || res.Patterns.CandidateContainers[0] != "body > main > section > article" {
		t.Fatalf("unexpected candidates %v", res.Patterns.CandidateContainers)
	}
	if strings.Contains(res.HTMLSnippet, "window.evil") || strings.Contains(res.HTMLSnippet, "color:red") {
		t.Fatalf("expected scripts and styles to be stripped from snippet")
	}
	if !strings.Contains(res.Outline, "Item 1") {
		t.Fatalf("expected markdown outline to contain item text, got %q", res.Outline)
	}
}

func TestAnalyze_SnippetIsBounded(t *testing.T) {
	res, err := Analyze(listingHTML(2000), "https://example.com")
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if len(res.HTMLSnippet) > MaxSnippetChars {
		t.Fatalf("snippet too long: %d", len(res.HTMLSnippet))
	}
}

func TestHTTPInspector_Inspect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		_, _ = w.Write([]byte(listingHTML(3)))
	}))
	defer srv.Close()

	insp := NewHTTPInspector(5*time.Second, "", false, nil)
	res, err := insp.Inspect(context.Background(), srv.URL+"/list")
	if err != nil {
		t.Fatalf("Inspect error: %v", err)
	}
	if res.Engine != "http" || res.Patterns.SemanticTags["article"] != 3 {
		t.Fatalf("unexpected inspection %+v", res)
	}

	_, err = insp.Inspect(context.Background(), srv.URL+"/gone")
	var fe *scraper.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusGone {
		t.Fatalf("expected FetchError with 410, got %v", err)
	}
}

func TestHTTPInspector_UsesRedirectTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new/list", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte(listingHTML(3)))
	}))
	defer srv.Close()

	res, err := NewHTTPInspector(5*time.Second, "", false, nil).Inspect(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Inspect error: %v", err)
	}
	if res.URL != srv.URL+"/new/list" {
		t.Fatalf("expected result url to be the redirect target, got %q", res.URL)
	}
}
