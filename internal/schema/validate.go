package schema

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/tidwall/gjson"

	"pagesentry/internal/llm"
	"pagesentry/internal/model"
)

// operatorAliases maps spelled-out operators some models emit to symbols.
var operatorAliases = map[string]model.Operator{
	">": model.OpGreater, "gt": model.OpGreater, "greater than": model.OpGreater,
	"<": model.OpLess, "lt": model.OpLess, "less than": model.OpLess,
	">=": model.OpGreaterEqual, "gte": model.OpGreaterEqual,
	"<=": model.OpLessEqual, "lte": model.OpLessEqual,
	"=": model.OpEqual, "==": model.OpEqual, "eq": model.OpEqual, "equals": model.OpEqual,
}

// ParseResponse decodes a model reply into a schema. Numeric filter values
// given as strings are accepted; filters that cannot be read are dropped.
// A reply that carries no JSON object yields ErrMalformedResponse.
func ParseResponse(content string) (model.ExtractionSchema, error) {
	var out model.ExtractionSchema

	js, err := llm.ExtractJSONObject(content)
	if err != nil {
		return out, ErrMalformedResponse
	}
	doc := gjson.Parse(js)

	for _, s := range doc.Get("selectors").Array() {
		out.Selectors = append(out.Selectors, model.Selector{
			Field:     strings.TrimSpace(s.Get("field").String()),
			Selector:  strings.TrimSpace(s.Get("selector").String()),
			Attribute: strings.TrimSpace(s.Get("attribute").String()),
		})
	}

	for _, f := range doc.Get("filters").Array() {
		op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(f.Get("operator").String()))]
		if !ok {
			continue
		}
		v := f.Get("value")
		if !v.Exists() || (v.Type == gjson.String && !gjson.Valid(v.Str)) {
			continue
		}
		field := strings.TrimSpace(f.Get("field").String())
		if field == "" {
			continue
		}
		out.Filters = append(out.Filters, model.Filter{Field: field, Operator: op, Value: v.Float()})
	}

	out.SummarizePrompt = strings.TrimSpace(doc.Get("summarize_prompt").String())
	return out, nil
}

// Validate checks that s can be executed: a non-empty selector list whose
// first entry is a container, every selector a compilable CSS selector,
// and every filter a known operator on a named field.
func Validate(s *model.ExtractionSchema) error {
	if s == nil || len(s.Selectors) == 0 {
		return shapeErrorf("selectors is missing or empty")
	}
	if s.Selectors[0].Selector == "" {
		return shapeErrorf("container selector (selectors[0]) is empty")
	}
	for i, sel := range s.Selectors {
		if sel.Selector == "" {
			return shapeErrorf("selector %d (%s) is empty", i, sel.Field)
		}
		if i > 0 && sel.Field == "" {
			return shapeErrorf("selector %d has no field name", i)
		}
		if _, err := cascadia.ParseGroup(sel.Selector); err != nil {
			return shapeErrorf("selector %d (%s) is not valid CSS: %v", i, sel.Field, err)
		}
	}
	for i, f := range s.Filters {
		if f.Field == "" || !f.Operator.Valid() {
			return shapeErrorf("filter %d is incomplete", i)
		}
	}
	return nil
}
