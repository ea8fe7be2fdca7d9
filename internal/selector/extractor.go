package selector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pagesentry/internal/model"
	"pagesentry/internal/scrapeutil"
)

// Record is one extracted item keyed by field name.
type Record map[string]any

var bareNumberRe = regexp.MustCompile(`^[$€£¥]?\s?-?\d[\d,]*(?:\.\d+)?$`)

// textFields always yield text even when they point at an anchor.
var textFields = map[string]bool{"title": true, "name": true, "description": true}

// Extract applies field selectors to doc. The container selector is the
// first field's selector minus its last segment; every field is resolved
// inside each container by its last segment only. When no container
// matches, a single record is built from the selectors verbatim.
func Extract(doc *goquery.Document, pageURL string, fields []model.Selector) []Record {
	if len(fields) == 0 {
		return nil
	}

	base, _ := splitLast(fields[0].Selector)
	var items *goquery.Selection
	if base != "" {
		items = doc.Find(base)
	}

	if items == nil || items.Length() == 0 {
		rec := Record{}
		for _, f := range fields {
			node := doc.Find(f.Selector).First()
			if node.Length() == 0 {
				continue
			}
			rec[f.Field] = valueOf(node, f, pageURL)
		}
		if len(rec) == 0 {
			return nil
		}
		return []Record{rec}
	}

	records := make([]Record, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		rec := Record{}
		for _, f := range fields {
			_, last := splitLast(f.Selector)
			node := item.Find(last).First()
			if node.Length() == 0 {
				continue
			}
			rec[f.Field] = valueOf(node, f, pageURL)
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	})
	return records
}

func valueOf(node *goquery.Selection, f model.Selector, pageURL string) any {
	if f.Attribute != "" {
		v := strings.TrimSpace(node.AttrOr(f.Attribute, ""))
		if v != "" && (f.Attribute == "href" || f.Attribute == "src") {
			v = scrapeutil.ResolveURL(pageURL, v)
		}
		return v
	}

	if !textFields[strings.ToLower(f.Field)] {
		switch goquery.NodeName(node) {
		case "a":
			if href := strings.TrimSpace(node.AttrOr("href", "")); href != "" {
				return scrapeutil.ResolveURL(pageURL, href)
			}
		case "img":
			if src := strings.TrimSpace(node.AttrOr("src", "")); src != "" {
				return scrapeutil.ResolveURL(pageURL, src)
			}
		}
	}

	text := scrapeutil.CollapseWhitespace(node.Text())
	if n, ok := coerceNumber(text); ok {
		return n
	}
	return text
}

// coerceNumber converts bare numbers and simple currency amounts.
func coerceNumber(s string) (float64, bool) {
	if !bareNumberRe.MatchString(s) {
		return 0, false
	}
	s = strings.TrimLeft(s, "$€£¥ ")
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CleanData normalises whitespace in every string value and drops records
// that are structurally equal to an earlier one.
func CleanData(records []Record) []Record {
	seen := map[string]bool{}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		norm := make(Record, len(rec))
		for k, v := range rec {
			if s, ok := v.(string); ok {
				v = scrapeutil.CollapseWhitespace(s)
			}
			norm[k] = v
		}
		key := recordHash(norm)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, norm)
	}
	return out
}

func recordHash(rec Record) string {
	// encoding/json writes map keys sorted, giving a canonical form.
	b, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// splitLast separates a selector into everything before its last compound
// segment and that segment, ignoring separators inside brackets, parens
// and quotes.
func splitLast(sel string) (base, last string) {
	sel = strings.TrimSpace(sel)
	depth := 0
	var quote rune
	cut := -1
	for i, r := range sel {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case depth == 0 && (r == ' ' || r == '\t' || r == '\n' || r == '>' || r == '+' || r == '~'):
			cut = i
		}
	}
	if cut == -1 {
		return "", sel
	}
	last = strings.TrimSpace(sel[cut+1:])
	base = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sel[:cut]), ">+~ "))
	return base, last
}
