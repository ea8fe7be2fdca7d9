package instruction

import "unicode/utf8"

// Clarity weights. Tune here; ScoreClarity is the only consumer.
const (
	clarityBase       = 50
	clarityTooShort   = -30
	clarityTooLong    = -10
	clarityGoodLength = 10
	clarityHasFields  = 20
	clarityHasVerb    = 10
	clarityHasFilter  = 10
	clarityVagueBelow = 60
	clarityMinLength  = 10
	clarityMaxLength  = 200
	clarityMaxScore   = 100
)

const (
	suggestFields      = "Name the fields you want, for example title, price or rating."
	suggestActionVerb  = "Start with an action such as fetch, get or extract."
	suggestMoreContext = "Describe what to monitor in a little more detail."
)

// ScoreClarity rates how well specified an instruction is on a 0-100 scale
// and lists what is missing.
func ScoreClarity(text string, hasFields, hasVerb, hasFilter bool) Clarity {
	c := Clarity{Score: clarityBase, MissingSuggestions: []string{}}

	switch n := utf8.RuneCountInString(text); {
	case n < clarityMinLength:
		c.Score += clarityTooShort
		c.MissingSuggestions = append(c.MissingSuggestions, suggestMoreContext)
	case n > clarityMaxLength:
		c.Score += clarityTooLong
	default:
		c.Score += clarityGoodLength
	}

	if hasFields {
		c.Score += clarityHasFields
	} else {
		c.MissingSuggestions = append(c.MissingSuggestions, suggestFields)
	}

	if hasVerb {
		c.Score += clarityHasVerb
	} else {
		c.MissingSuggestions = append(c.MissingSuggestions, suggestActionVerb)
	}

	if hasFilter {
		c.Score += clarityHasFilter
	}

	c.Score = max(0, min(c.Score, clarityMaxScore))
	c.IsVague = c.Score < clarityVagueBelow
	return c
}
