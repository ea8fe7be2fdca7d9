// Package instruction turns a free-text monitoring instruction into a
// structured intent using keyword and regex heuristics.
package instruction

import (
	"regexp"
	"strconv"
	"strings"

	"pagesentry/internal/model"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// DefaultFields are used when the instruction names no known field.
var DefaultFields = []string{"title", "description", "link"}

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// InstructionFilter is a numeric condition named in the instruction. Field
// is the word the user wrote, not a canonical field name.
type InstructionFilter struct {
	Field    string         `json:"field"`
	Operator model.Operator `json:"operator"`
	Value    float64        `json:"value"`
}

type Sorting struct {
	Order    SortOrder `json:"order,omitempty"`
	Keywords []string  `json:"keywords"`
}

type Clarity struct {
	Score              int      `json:"score"`
	IsVague            bool     `json:"isVague"`
	MissingSuggestions []string `json:"missingSuggestions"`
}

// ParsedInstruction is the structured intent derived from one instruction.
type ParsedInstruction struct {
	ResultLimit       int                 `json:"resultLimit"`
	HasExplicitLimit  bool                `json:"hasExplicitLimit"`
	RequestedFields   []string            `json:"requestedFields"`
	HasExplicitFields bool                `json:"hasExplicitFields"`
	Filters           []InstructionFilter `json:"filters"`
	Sorting           Sorting             `json:"sorting"`
	Clarity           Clarity             `json:"clarity"`
}

// Parse derives a ParsedInstruction from text. It is a pure function.
func Parse(text string) ParsedInstruction {
	lower := strings.ToLower(strings.TrimSpace(text))

	limit, explicit := extractLimit(lower)
	fields := extractFields(lower)
	explicitFields := len(fields) > 0
	if !explicitFields {
		fields = append([]string(nil), DefaultFields...)
	}
	filters := extractFilters(lower)

	p := ParsedInstruction{
		ResultLimit:       limit,
		HasExplicitLimit:  explicit,
		RequestedFields:   fields,
		HasExplicitFields: explicitFields,
		Filters:           filters,
		Sorting:           extractSorting(lower),
	}
	p.Clarity = ScoreClarity(strings.TrimSpace(text), explicitFields, hasActionVerb(lower), len(filters) > 0)
	return p
}

var limitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:top|first|latest|get|fetch)\s+(\d+)\b`),
	regexp.MustCompile(`\b(\d+)\s+(?:items?|results?|posts?|articles?|products?|entries|entry|stories|story|projects?|jobs?|listings?|links?|repos?|repositories|videos?)\b`),
	regexp.MustCompile(`\blimit(?:\s+to)?\s+(\d+)\b`),
}

// extractLimit returns the first matched limit clamped to [1, MaxLimit].
func extractLimit(lower string) (int, bool) {
	for _, re := range limitPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		if n < 1 {
			n = 1
		}
		return n, true
	}
	return DefaultLimit, false
}

// fieldVocabulary maps canonical field names to the words that name them.
var fieldVocabulary = []struct {
	field    string
	synonyms []string
}{
	{"title", []string{"title", "titles", "name", "names", "heading", "headings", "headline", "headlines"}},
	{"description", []string{"description", "descriptions", "summary", "summaries", "excerpt"}},
	{"price", []string{"price", "prices", "cost", "costs"}},
	{"rating", []string{"rating", "ratings", "score", "scores", "stars"}},
	{"author", []string{"author", "authors", "writer", "writers"}},
	{"date", []string{"date", "dates", "time", "published", "posted"}},
	{"link", []string{"link", "links", "url", "urls", "href"}},
	{"image", []string{"image", "images", "photo", "photos", "picture", "thumbnail"}},
	{"votes", []string{"votes", "upvotes", "points", "likes"}},
	{"comments", []string{"comments", "comment count", "replies"}},
	{"category", []string{"category", "categories", "tag", "tags"}},
	{"location", []string{"location", "city", "address"}},
	{"company", []string{"company", "employer"}},
	{"salary", []string{"salary", "pay", "compensation"}},
	{"stock", []string{"stock", "availability", "in stock"}},
	{"views", []string{"views", "view count"}},
}

var fieldMatchers = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(fieldVocabulary))
	for i, f := range fieldVocabulary {
		quoted := make([]string, len(f.synonyms))
		for j, s := range f.synonyms {
			quoted[j] = regexp.QuoteMeta(s)
		}
		out[i] = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return out
}()

func extractFields(lower string) []string {
	var fields []string
	for i, re := range fieldMatchers {
		if re.MatchString(lower) {
			fields = append(fields, fieldVocabulary[i].field)
		}
	}
	return fields
}

const numberPattern = `[$€£¥]?\s*(\d[\d,]*(?:\.\d+)?)`

var filterPatterns = []struct {
	re       *regexp.Regexp
	operator model.Operator
	// fieldFirst reports whether group 1 is the field and group 2 the value.
	fieldFirst bool
}{
	{regexp.MustCompile(`\b([a-z]+)\s+(?:above|over|greater than|more than|>)\s*` + numberPattern), model.OpGreater, true},
	{regexp.MustCompile(`\b([a-z]+)\s+(?:below|under|less than|fewer than|<)\s*` + numberPattern), model.OpLess, true},
	{regexp.MustCompile(`\b([a-z]+)\s+(?:equals|equal to|is|=)\s*` + numberPattern + `\b`), model.OpEqual, true},
	{regexp.MustCompile(`\bwith\s+` + numberPattern + `\+\s*([a-z]+)\b`), model.OpGreaterEqual, false},
	{regexp.MustCompile(`(?:^|\s)>\s*` + numberPattern + `\s+([a-z]+)\b`), model.OpGreater, false},
	{regexp.MustCompile(`(?:^|\s)<\s*` + numberPattern + `\s+([a-z]+)\b`), model.OpLess, false},
	{regexp.MustCompile(`\b(?:more than|over|above|at least)\s+` + numberPattern + `\s+([a-z]+)\b`), model.OpGreater, false},
	{regexp.MustCompile(`\b(?:less than|under|below|fewer than)\s+` + numberPattern + `\s+([a-z]+)\b`), model.OpLess, false},
}

// fillerWords are never accepted as a filter field.
var fillerWords = map[string]bool{
	"with": true, "and": true, "the": true, "that": true, "than": true, "are": true,
	"of": true, "is": true, "it": true, "a": true, "an": true, "top": true, "first": true,
	"get": true, "fetch": true, "items": true, "results": true, "posts": true, "products": true,
	"projects": true, "articles": true, "stories": true, "jobs": true, "entries": true, "listings": true,
}

func extractFilters(lower string) []InstructionFilter {
	out := []InstructionFilter{}
	seen := map[string]bool{}
	for _, p := range filterPatterns {
		for _, m := range p.re.FindAllStringSubmatch(lower, -1) {
			field, num := m[1], m[2]
			if !p.fieldFirst {
				field, num = m[2], m[1]
			}
			if fillerWords[field] {
				continue
			}
			value, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
			if err != nil {
				continue
			}
			op := p.operator
			if strings.Contains(m[0], "at least") {
				op = model.OpGreaterEqual
			}
			key := field + string(op) + num
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, InstructionFilter{Field: field, Operator: op, Value: value})
		}
	}
	return out
}

var (
	wordRe       = regexp.MustCompile(`[a-z]+`)
	descKeywords = []string{"latest", "newest", "recent", "top", "best", "trending", "popular", "highest", "most"}
	ascKeywords  = []string{"oldest", "earliest", "first", "lowest", "cheapest", "least"}
)

// extractSorting scans descending keywords first, then ascending; the last
// category with a hit decides the order.
func extractSorting(lower string) Sorting {
	s := Sorting{Keywords: []string{}}
	words := map[string]bool{}
	for _, w := range wordRe.FindAllString(lower, -1) {
		words[w] = true
	}
	for _, kw := range descKeywords {
		if words[kw] {
			s.Order = SortDesc
			s.Keywords = append(s.Keywords, kw)
		}
	}
	for _, kw := range ascKeywords {
		if words[kw] {
			s.Order = SortAsc
			s.Keywords = append(s.Keywords, kw)
		}
	}
	return s
}

var actionVerbRe = regexp.MustCompile(`\b(?:fetch|get|extract|scrape|collect|find|retrieve)\b`)

func hasActionVerb(lower string) bool { return actionVerbRe.MatchString(lower) }
