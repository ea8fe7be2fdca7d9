package schema

import (
	"fmt"
	"strings"

	"pagesentry/internal/inspector"
	"pagesentry/internal/instruction"
)

// MaxPromptHTML bounds the HTML embedded in a prompt.
const MaxPromptHTML = 2500

// MaxPromptOutline bounds the text outline embedded in a prompt.
const MaxPromptOutline = 1500

const systemPrompt = `You generate CSS extraction schemas for web pages.
Reply with a single JSON object and nothing else, shaped as:
{"selectors":[{"field":"container","selector":"..."},{"field":"title","selector":"..."},{"field":"link","selector":"a","attribute":"href"}],
 "filters":[{"field":"votes","operator":">","value":50}],
 "summarize_prompt":"..."}
Rules:
- selectors[0] is the container: it must match every repeating record on the page.
- Every other selector is relative to one container match.
- Omit "attribute" to extract text; set it (href, src, datetime, ...) to read an attribute.
- operator is one of >, <, >=, <=, = and value is a number.
- Prefer stable attributes (data-testid, ids, semantic tags) over layout classes.`

func buildHTMLPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", in.URL)
	fmt.Fprintf(&b, "Instruction: %s\n", in.Instruction)
	if in.Parsed != nil {
		writeIntent(&b, in.Parsed)
	}

	p := in.Patterns
	b.WriteString("\nPage structure:\n")
	if len(p.CandidateContainers) > 0 {
		fmt.Fprintf(&b, "- Likely repeating containers: %s\n", strings.Join(p.CandidateContainers, " | "))
	}
	if len(p.DataTestID) > 0 {
		fmt.Fprintf(&b, "- data-testid values: %s\n", strings.Join(limit(p.DataTestID, 20), ", "))
	}
	if len(p.DataTest) > 0 {
		fmt.Fprintf(&b, "- data-test values: %s\n", strings.Join(limit(p.DataTest, 20), ", "))
	}
	if len(p.RepeatingClasses) > 0 {
		names := make([]string, 0, len(p.RepeatingClasses))
		for _, c := range p.RepeatingClasses {
			names = append(names, fmt.Sprintf("%s(%d)", c.Name, c.Count))
		}
		fmt.Fprintf(&b, "- Repeating classes: %s\n", strings.Join(names, ", "))
	}
	var tags []string
	for _, tag := range inspector.SemanticTags {
		if n := p.SemanticTags[tag]; n > 0 {
			tags = append(tags, fmt.Sprintf("%s=%d", tag, n))
		}
	}
	if len(tags) > 0 {
		fmt.Fprintf(&b, "- Semantic tags: %s\n", strings.Join(tags, ", "))
	}

	if outline := strings.TrimSpace(in.Outline); outline != "" {
		fmt.Fprintf(&b, "\nText outline:\n%s\n", truncateAt(outline, MaxPromptOutline))
	}
	fmt.Fprintf(&b, "\nHTML (truncated):\n%s\n", truncateHTML(in.HTMLSnippet))
	b.WriteString("\nReturn the JSON schema now.")
	return b.String()
}

func buildInstructionPrompt(url, text string, parsed *instruction.ParsedInstruction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", url)
	fmt.Fprintf(&b, "Instruction: %s\n", text)
	if parsed != nil {
		writeIntent(&b, parsed)
	}
	b.WriteString("\nThe page HTML is not available. Infer the most likely markup for this site and return the JSON schema now.")
	return b.String()
}

func writeIntent(b *strings.Builder, p *instruction.ParsedInstruction) {
	fmt.Fprintf(b, "Requested fields: %s\n", strings.Join(p.RequestedFields, ", "))
	for _, f := range p.Filters {
		fmt.Fprintf(b, "Filter: %s %s %g\n", f.Field, f.Operator, f.Value)
	}
	if p.Sorting.Order != "" {
		fmt.Fprintf(b, "Sort order: %s\n", p.Sorting.Order)
	}
}

func truncateHTML(s string) string {
	return truncateAt(s, MaxPromptHTML)
}

// truncateAt cuts s to at most n bytes without splitting a rune.
func truncateAt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

func limit(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}
