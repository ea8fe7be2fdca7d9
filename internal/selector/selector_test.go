package selector

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"pagesentry/internal/model"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func productPage(n int) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><nav><a href="/">Home</a></nav><ul class="products">`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, `<li class="product"><img src="/img/%d.png"><a href="/p/%d">Product %d</a><span class="price">$%d.99</span></li>`, i, i, i, i)
	}
	sb.WriteString(`</ul></body></html>`)
	return sb.String()
}

func TestGenerate_PriorityOrder(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<div id="main"><p class="intro">a</p><p class="intro">b</p></div>
		<button class="cta hover-glow">Go</button>
		<input name="email"><input name="phone">
		<section><span>x</span><span>y</span></section>
	</body></html>`)

	cases := []struct {
		find string
		want string
	}{
		{"#main", "#main"},
		{"button", "button.cta"},
		{`input[name="phone"]`, `[name="phone"]`},
		{"p:nth-of-type(2)", "#main > p:nth-of-type(2)"},
		{"section span:nth-of-type(2)", "body > section > span:nth-of-type(2)"},
	}
	for _, tc := range cases {
		got := Generate(doc, doc.Find(tc.find))
		if got != tc.want {
			t.Fatalf("Generate(%s) = %q, want %q", tc.find, got, tc.want)
		}
		if n := doc.Find(got).Length(); n != 1 {
			t.Fatalf("selector %q matched %d elements", got, n)
		}
	}
}

func TestGeneratePattern_RepeatingItems(t *testing.T) {
	doc := mustDoc(t, productPage(4))
	got := GeneratePattern(doc, doc.Find("li.product"))
	if got != "ul.products li.product" {
		t.Fatalf("unexpected pattern %q", got)
	}
	if doc.Find(got).Length() != 4 {
		t.Fatalf("pattern should match all items")
	}
}

func TestScoreGroup(t *testing.T) {
	if got := ScoreGroup(25, 500, true, false); got != 250 {
		t.Fatalf("expected capped count score 250, got %d", got)
	}
	if got := ScoreGroup(5, 10, false, true); got != -50 {
		t.Fatalf("expected body penalty, got %d", got)
	}
}

func TestAutoDetect_FindsProductFields(t *testing.T) {
	doc := mustDoc(t, productPage(6))
	det, ok := AutoDetect(doc)
	if !ok {
		t.Fatalf("expected a detection")
	}
	if det.ItemSelector != "ul.products > li" || det.Count != 6 {
		t.Fatalf("unexpected group %q (%d)", det.ItemSelector, det.Count)
	}
	if det.Pattern != "ul.products li.product" {
		t.Fatalf("unexpected pattern selector %q", det.Pattern)
	}

	var fields []string
	for _, f := range det.Fields {
		fields = append(fields, f.Field)
	}
	if strings.Join(fields, ",") != "image,link,title,price" {
		t.Fatalf("unexpected field order %v", fields)
	}
}

func TestAutoDetect_NoRepeatingGroup(t *testing.T) {
	doc := mustDoc(t, `<html><body><p>only one</p></body></html>`)
	if _, ok := AutoDetect(doc); ok {
		t.Fatalf("expected no detection")
	}
}

func TestExtract_UsesContainerRelativeSelectors(t *testing.T) {
	doc := mustDoc(t, productPage(3))
	det, _ := AutoDetect(doc)

	records := Extract(doc, "https://shop.test/list", det.Fields)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	first := records[0]
	if first["link"] != "https://shop.test/p/1" {
		t.Fatalf("expected resolved href, got %v", first["link"])
	}
	if first["image"] != "https://shop.test/img/1.png" {
		t.Fatalf("expected resolved src, got %v", first["image"])
	}
	if first["title"] != "Product 1" {
		t.Fatalf("expected anchor text for title, got %v", first["title"])
	}
	if first["price"] != 1.99 {
		t.Fatalf("expected numeric price, got %#v", first["price"])
	}
}

func TestExtract_SingleItemFallback(t *testing.T) {
	doc := mustDoc(t, `<html><body><h1>Headline</h1><span class="count">42</span></body></html>`)
	records := Extract(doc, "https://x.test", []model.Selector{
		{Field: "title", Selector: "h1"},
		{Field: "count", Selector: "span.count"},
	})
	if len(records) != 1 {
		t.Fatalf("expected single record, got %d", len(records))
	}
	if records[0]["title"] != "Headline" || records[0]["count"] != float64(42) {
		t.Fatalf("unexpected record %v", records[0])
	}
}

func TestCleanData_IsIdempotent(t *testing.T) {
	in := []Record{
		{"title": "  A   thing ", "price": 3.5},
		{"title": "A thing", "price": 3.5},
		{"title": "B\n\tthing"},
		{"title": "B thing"},
		{"title": "C", "tags": "x  y"},
	}
	once := CleanData(in)
	twice := CleanData(once)
	if len(once) != 3 {
		t.Fatalf("expected 3 unique records, got %d: %v", len(once), once)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("CleanData not idempotent:\n%v\n%v", once, twice)
	}
	if once[0]["title"] != "A thing" {
		t.Fatalf("expected normalised whitespace, got %q", once[0]["title"])
	}
}

func TestSplitLast(t *testing.T) {
	cases := map[string][2]string{
		"ul.products > li a":            {"ul.products > li", "a"},
		"ul > li > span.price":          {"ul > li", "span.price"},
		`div[data-x="a b"] img`:         {`div[data-x="a b"]`, "img"},
		"h1":                            {"", "h1"},
		"li:nth-of-type(2) a:not(.x y)": {"li:nth-of-type(2)", "a:not(.x y)"},
	}
	for in, want := range cases {
		base, last := splitLast(in)
		if base != want[0] || last != want[1] {
			t.Fatalf("splitLast(%q) = (%q, %q), want (%q, %q)", in, base, last, want[0], want[1])
		}
	}
}

func TestDetectionSchema_ContainerFirst(t *testing.T) {
	doc := mustDoc(t, productPage(3))
	det, _ := AutoDetect(doc)
	schema := det.Schema()
	if schema.Container().Selector != "ul.products > li" {
		t.Fatalf("unexpected container %q", schema.Container().Selector)
	}
	if doc.Find(schema.Container().Selector).Length() != 3 {
		t.Fatalf("container should match every item")
	}
	if !schema.HasField("price") {
		t.Fatalf("expected price field in schema")
	}
}
