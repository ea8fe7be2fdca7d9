package model

import "strings"

// Operator is a filter comparison operator.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
)

// Valid reports whether op is one of the supported comparison operators.
func (op Operator) Valid() bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual:
		return true
	}
	return false
}

// Compare applies the operator to (value op threshold).
func (op Operator) Compare(value, threshold float64) bool {
	switch op {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	}
	return false
}

// Selector maps a field to a CSS selector. An empty Attribute means the
// trimmed text content is extracted.
type Selector struct {
	Field     string `json:"field"`
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

// Filter is a numeric post-extraction predicate on a field.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// ExtractionSchema is the declarative field->selector mapping executed by
// the scrape runner. Selectors[0] is the container selector; every other
// selector is resolved relative to each container match.
type ExtractionSchema struct {
	Selectors       []Selector `json:"selectors"`
	Filters         []Filter   `json:"filters,omitempty"`
	SummarizePrompt string     `json:"summarize_prompt,omitempty"`
}

// Container returns the container selector, or nil for an empty schema.
func (s *ExtractionSchema) Container() *Selector {
	if s == nil || len(s.Selectors) == 0 {
		return nil
	}
	return &s.Selectors[0]
}

// Fields returns the non-container selectors.
func (s *ExtractionSchema) Fields() []Selector {
	if s == nil || len(s.Selectors) < 2 {
		return nil
	}
	return s.Selectors[1:]
}

// HasField reports whether any non-container selector targets name.
func (s *ExtractionSchema) HasField(name string) bool {
	for _, sel := range s.Fields() {
		if strings.EqualFold(sel.Field, name) {
			return true
		}
	}
	return false
}

// ScrapeResult is one record produced from one matched container.
type ScrapeResult struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url"`
	Metadata    map[string]any `json:"metadata"`
}
