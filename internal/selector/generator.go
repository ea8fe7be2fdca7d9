// Package selector generates CSS selectors for DOM elements, discovers
// repeating record containers and extracts records from them.
package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// stableAttributes are tried in order when id and classes are not unique.
var stableAttributes = []string{"data-testid", "data-id", "name", "type", "role"}

var statePrefixes = []string{"hover", "active", "focus", "selected"}

var identRe = regexp.MustCompile(`^-?[A-Za-z_][A-Za-z0-9_-]*$`)

// Generate returns a selector for the first element of sel. The candidates,
// each used only when it matches exactly one element of doc, are the id,
// tag plus stable classes and a stable attribute. Otherwise a
// tag:nth-of-type path from the nearest ancestor with an id (or body) is
// returned.
func Generate(doc *goquery.Document, sel *goquery.Selection) string {
	el := sel.First()
	if el.Length() == 0 {
		return ""
	}
	tag := goquery.NodeName(el)

	if id, ok := el.Attr("id"); ok && identRe.MatchString(id) {
		if candidate := "#" + id; unique(doc, candidate) {
			return candidate
		}
	}

	if classes := stableClasses(el); len(classes) > 0 {
		if candidate := tag + "." + strings.Join(classes, "."); unique(doc, candidate) {
			return candidate
		}
	}

	for _, attr := range stableAttributes {
		v, ok := el.Attr(attr)
		if !ok || v == "" {
			continue
		}
		candidate := fmt.Sprintf(`[%s="%s"]`, attr, escapeAttr(v))
		if unique(doc, candidate) {
			return candidate
		}
	}

	return pathTo(el)
}

// GeneratePattern infers a selector matching all of elems: the nearest
// common ancestor's selector followed by the shared tag and class
// intersection. When that combination matches fewer elements than were
// given, a single-element selector for the first element is returned.
func GeneratePattern(doc *goquery.Document, elems *goquery.Selection) string {
	switch elems.Length() {
	case 0:
		return ""
	case 1:
		return Generate(doc, elems)
	}

	ancestor := commonAncestor(elems)
	descendant := sharedSegment(elems)
	if ancestor == nil || descendant == "" {
		return Generate(doc, elems)
	}

	candidate := Generate(doc, ancestor) + " " + descendant
	if doc.Find(candidate).Length() >= elems.Length() {
		return candidate
	}
	return Generate(doc, elems)
}

func unique(doc *goquery.Document, selector string) bool {
	return doc.Find(selector).Length() == 1
}

// stableClasses returns the element's classes minus state classes and any
// class that is not a plain CSS identifier.
func stableClasses(el *goquery.Selection) []string {
	raw, _ := el.Attr("class")
	var out []string
	for _, c := range strings.Fields(raw) {
		if !identRe.MatchString(c) || isStateClass(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isStateClass(c string) bool {
	lc := strings.ToLower(c)
	for _, p := range statePrefixes {
		if strings.HasPrefix(lc, p) {
			return true
		}
	}
	return false
}

func escapeAttr(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// pathTo walks ancestors up to body, emitting tag[:nth-of-type(n)]
// segments. It stops early at an ancestor carrying an id.
func pathTo(el *goquery.Selection) string {
	var segments []string
	for cur := el; cur.Length() > 0; cur = cur.Parent() {
		tag := goquery.NodeName(cur)
		if tag == "body" || tag == "html" {
			segments = append(segments, "body")
			break
		}
		if cur != el {
			if id, ok := cur.Attr("id"); ok && identRe.MatchString(id) {
				segments = append(segments, "#"+id)
				break
			}
		}
		segments = append(segments, nthSegment(cur, tag))
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}

func nthSegment(el *goquery.Selection, tag string) string {
	if el.Parent().Children().Filter(tag).Length() <= 1 {
		return tag
	}
	return fmt.Sprintf("%s:nth-of-type(%d)", tag, el.PrevAllFiltered(tag).Length()+1)
}

func commonAncestor(elems *goquery.Selection) *goquery.Selection {
	first := elems.First()
	for anc := first.Parent(); anc.Length() > 0; anc = anc.Parent() {
		containsAll := true
		elems.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if !anc.Contains(s.Nodes[0]) {
				containsAll = false
			}
			return containsAll
		})
		if containsAll {
			return anc
		}
	}
	return nil
}

// sharedSegment builds tag.classA.classB from what every element has in
// common. The tag is dropped when the elements differ in tag.
func sharedSegment(elems *goquery.Selection) string {
	tag := goquery.NodeName(elems.First())
	common := map[string]bool{}
	order := stableClasses(elems.First())
	for _, c := range order {
		common[c] = true
	}

	elems.Each(func(i int, s *goquery.Selection) {
		if i == 0 {
			return
		}
		if goquery.NodeName(s) != tag {
			tag = ""
		}
		have := map[string]bool{}
		for _, c := range stableClasses(s) {
			have[c] = true
		}
		for c := range common {
			if !have[c] {
				delete(common, c)
			}
		}
	})

	var classes []string
	for _, c := range order {
		if common[c] {
			classes = append(classes, c)
		}
	}
	if tag == "" && len(classes) == 0 {
		return ""
	}
	if len(classes) == 0 {
		return tag
	}
	return tag + "." + strings.Join(classes, ".")
}
