package selector

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pagesentry/internal/model"
)

const (
	minGroupSize        = 3
	maxClassDisagreeing = 0.2
)

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "meta": true,
	"link": true, "br": true, "hr": true, "option": true, "head": true, "path": true,
}

var listishTags = map[string]bool{
	"ul": true, "ol": true, "tbody": true, "table": true, "dl": true,
	"li": true, "tr": true, "article": true,
}

var priceRe = regexp.MustCompile(`(?i)[$€£¥]\s?\d|\d[\d.,]*\s?(?:usd|eur|gbp)\b`)

// Group is a run of same-tag siblings under one container element.
type Group struct {
	Container *goquery.Selection
	ChildTag  string
	Count     int
	Score     int
	// ItemSelector matches every member of the group.
	ItemSelector string
}

// ScoreGroup weighs a candidate repeating group. Larger groups score higher
// up to 20 members, long text and list-like markup add a bonus, and groups
// directly under body are penalised.
func ScoreGroup(count, textLength int, listish, underBody bool) int {
	score := min(count, 20) * 10
	if textLength > 100 {
		score += 20
	}
	if listish {
		score += 30
	}
	if underBody {
		score -= 100
	}
	return score
}

// FindGroups scans every element of doc and returns the repeating child
// groups ordered by descending score. Ties keep document order.
func FindGroups(doc *goquery.Document) []Group {
	var groups []Group
	doc.Find("body *, body").Each(func(_ int, container *goquery.Selection) {
		ctag := goquery.NodeName(container)
		if skippedTags[ctag] {
			return
		}

		byTag := map[string][]*goquery.Selection{}
		var order []string
		container.Children().Each(func(_ int, child *goquery.Selection) {
			tag := goquery.NodeName(child)
			if skippedTags[tag] {
				return
			}
			if _, seen := byTag[tag]; !seen {
				order = append(order, tag)
			}
			byTag[tag] = append(byTag[tag], child)
		})

		for _, tag := range order {
			members := byTag[tag]
			if len(members) < minGroupSize || !similarClassLists(members) {
				continue
			}
			textLen := len(strings.TrimSpace(container.Text()))
			listish := listishTags[ctag] || listishTags[tag]
			groups = append(groups, Group{
				Container: container,
				ChildTag:  tag,
				Count:     len(members),
				Score:     ScoreGroup(len(members), textLen, listish, ctag == "body"),
			})
		}
	})

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Score > groups[j].Score })
	for i := range groups {
		groups[i].ItemSelector = Generate(doc, groups[i].Container) + " > " + groups[i].ChildTag
	}
	return groups
}

// similarClassLists rejects groups whose members disagree with the first
// member's class count more than 20% of the time.
func similarClassLists(members []*goquery.Selection) bool {
	ref := len(strings.Fields(members[0].AttrOr("class", "")))
	disagree := 0
	for _, m := range members[1:] {
		if len(strings.Fields(m.AttrOr("class", ""))) != ref {
			disagree++
		}
	}
	return float64(disagree)/float64(len(members)) <= maxClassDisagreeing
}

// CandidateContainers returns the item selectors of the best n groups.
func CandidateContainers(doc *goquery.Document, n int) []string {
	groups := FindGroups(doc)
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		if len(out) >= n {
			break
		}
		if seen[g.ItemSelector] {
			continue
		}
		seen[g.ItemSelector] = true
		out = append(out, g.ItemSelector)
	}
	return out
}

// Detection is the outcome of AutoDetect: the chosen group and the field
// selectors found inside its first member, in discovery order.
type Detection struct {
	ItemSelector string
	// Pattern matches the same members by their shared tag and classes.
	Pattern string
	Count   int
	Fields  []model.Selector
}

// Schema converts the detection into an extraction schema whose container
// is the item selector and whose fields are relative to it.
func (d *Detection) Schema() model.ExtractionSchema {
	schema := model.ExtractionSchema{
		Selectors: []model.Selector{{Field: "container", Selector: d.ItemSelector}},
	}
	for _, f := range d.Fields {
		_, last := splitLast(f.Selector)
		schema.Selectors = append(schema.Selectors, model.Selector{Field: f.Field, Selector: last, Attribute: f.Attribute})
	}
	return schema
}

// AutoDetect picks the highest scoring repeating group and locates the
// image, link, title and price fields inside its first member. It returns
// false when the page has no repeating group or no field could be found.
func AutoDetect(doc *goquery.Document) (*Detection, bool) {
	groups := FindGroups(doc)
	if len(groups) == 0 {
		return nil, false
	}
	best := groups[0]
	item := doc.Find(best.ItemSelector).First()
	if item.Length() == 0 {
		return nil, false
	}

	det := &Detection{
		ItemSelector: best.ItemSelector,
		Pattern:      GeneratePattern(doc, best.Container.ChildrenFiltered(best.ChildTag)),
		Count:        best.Count,
	}
	add := func(field, segment, attr string) {
		det.Fields = append(det.Fields, model.Selector{
			Field:     field,
			Selector:  best.ItemSelector + " " + segment,
			Attribute: attr,
		})
	}

	titled := false
	if img := item.Find("img").First(); img.Length() > 0 {
		add("image", "img", "src")
	}
	if a := item.Find("a[href]").First(); a.Length() > 0 {
		add("link", "a", "href")
		if strings.TrimSpace(a.Text()) != "" {
			add("title", "a", "")
			titled = true
		}
	}
	if price := findPrice(item); price != nil {
		add("price", segmentFor(price), "")
	}
	if !titled {
		if h := item.Find("h1, h2, h3, h4, h5, h6, b, strong").First(); h.Length() > 0 {
			add("title", goquery.NodeName(h), "")
		}
	}

	if len(det.Fields) == 0 {
		return nil, false
	}
	return det, true
}

func findPrice(item *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	item.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		if priceRe.MatchString(strings.TrimSpace(s.Text())) {
			found = s
			return false
		}
		return true
	})
	return found
}

// segmentFor is a short relative selector for el: its tag plus its first
// stable class.
func segmentFor(el *goquery.Selection) string {
	tag := goquery.NodeName(el)
	if classes := stableClasses(el); len(classes) > 0 {
		return tag + "." + classes[0]
	}
	return tag
}
