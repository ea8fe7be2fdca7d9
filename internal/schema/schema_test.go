package schema

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pagesentry/internal/cache"
	"pagesentry/internal/inspector"
	"pagesentry/internal/llm"
	"pagesentry/internal/model"
)

type fakeAI struct {
	replies []string
	errs    []error
	prompts []llm.Request
}

func (f *fakeAI) GenerateWithFallback(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.prompts = append(f.prompts, req)
	i := len(f.prompts) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := f.replies[len(f.replies)-1]
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &llm.Result{Content: reply, ProviderName: "fake"}, nil
}

const goodReply = "```json\n" + `{"selectors":[{"field":"container","selector":"div.item"},{"field":"title","selector":"h2"},{"field":"link","selector":"a","attribute":"href"}],"filters":[{"field":"votes","operator":"gt","value":"50"},{"field":"bad","operator":"~","value":1}],"summarize_prompt":"Summarise new items"}` + "\n```"

func sampleInput() Input {
	return Input{
		URL:         "https://example.com/list",
		Instruction: "get titles",
		HTMLSnippet: strings.Repeat("<div class=\"item\"><h2>t</h2></div>", 200),
		Patterns: inspector.PagePatterns{
			CandidateContainers: []string{"body > div"},
			RepeatingClasses:    []inspector.ClassCount{{Name: "item", Count: 200}},
			SemanticTags:        map[string]int{"main": 1},
		},
	}
}

func TestFromHTML_ParsesAndCaches(t *testing.T) {
	ai := &fakeAI{replies: []string{goodReply}}
	c := cache.NewMemoryCache(cache.DefaultTTL)
	g := NewGenerator(ai, c, Options{MaxRetries: 0}, nil)

	out, err := g.FromHTML(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("FromHTML error: %v", err)
	}
	if out.ProviderName != "fake" || out.Cached {
		t.Fatalf("unexpected output meta %+v", out)
	}
	s := out.Schema
	if s.Container().Selector != "div.item" || len(s.Fields()) != 2 || s.Fields()[1].Attribute != "href" {
		t.Fatalf("unexpected selectors %+v", s.Selectors)
	}
	if len(s.Filters) != 1 || s.Filters[0].Operator != model.OpGreater || s.Filters[0].Value != 50 {
		t.Fatalf("unexpected filters %+v", s.Filters)
	}
	if s.SummarizePrompt != "Summarise new items" {
		t.Fatalf("unexpected summarize prompt %q", s.SummarizePrompt)
	}

	prompt := ai.prompts[0].Prompt
	if !strings.Contains(prompt, "body > div") || !strings.Contains(prompt, "item(200)") {
		t.Fatalf("prompt is missing page patterns:\n%s", prompt)
	}
	if idx := strings.Index(prompt, "HTML (truncated):\n"); idx < 0 || len(prompt)-idx > MaxPromptHTML+100 {
		t.Fatalf("expected html to be truncated in prompt")
	}

	again, err := g.FromHTML(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("FromHTML (cached) error: %v", err)
	}
	if !again.Cached || len(ai.prompts) != 1 {
		t.Fatalf("expected cache hit without a second AI call")
	}
}

func TestFromHTML_MalformedResponse(t *testing.T) {
	ai := &fakeAI{replies: []string{"I cannot help with that."}}
	c := cache.NewMemoryCache(cache.DefaultTTL)
	g := NewGenerator(ai, c, Options{}, nil)

	_, err := g.FromHTML(context.Background(), sampleInput())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed generations must not be cached")
	}
}

func TestFromHTML_RetriesRateLimits(t *testing.T) {
	rl := llm.Classify(errors.New("too many requests"), "fake", 429)
	ai := &fakeAI{replies: []string{goodReply}, errs: []error{rl, rl}}
	g := NewGenerator(ai, nil, Options{MaxRetries: 3, InitialDelay: time.Millisecond}, nil)

	if _, err := g.FromHTML(context.Background(), sampleInput()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(ai.prompts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(ai.prompts))
	}
}

func TestFromHTML_ProviderFailurePropagates(t *testing.T) {
	ai := &fakeAI{replies: []string{goodReply}, errs: []error{llm.ErrNoProviders}}
	g := NewGenerator(ai, nil, Options{MaxRetries: 3, InitialDelay: time.Millisecond}, nil)

	_, err := g.FromHTML(context.Background(), sampleInput())
	if !errors.Is(err, llm.ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if len(ai.prompts) != 1 {
		t.Fatalf("non rate-limit errors must not be retried")
	}
}

func TestFromInstruction_UsesOwnCacheKey(t *testing.T) {
	ai := &fakeAI{replies: []string{goodReply}}
	c := cache.NewMemoryCache(cache.DefaultTTL)
	g := NewGenerator(ai, c, Options{}, nil)

	if _, err := g.FromInstruction(context.Background(), "https://example.com/list", "get titles"); err != nil {
		t.Fatalf("FromInstruction error: %v", err)
	}
	if _, err := g.FromHTML(context.Background(), sampleInput()); err != nil {
		t.Fatalf("FromHTML error: %v", err)
	}
	if len(ai.prompts) != 2 {
		t.Fatalf("expected separate cache entries per variant, got %d AI calls", len(ai.prompts))
	}
	if !strings.Contains(ai.prompts[0].Prompt, "not available") {
		t.Fatalf("expected instruction-only prompt, got %q", ai.prompts[0].Prompt)
	}
}

func TestFromHTML_PromptCarriesOutline(t *testing.T) {
	ai := &fakeAI{replies: []string{goodReply}}
	g := NewGenerator(ai, nil, Options{}, nil)

	in := sampleInput()
	in.Outline = "## Top stories\n\n- [First story](https://example.com/1)\n" + strings.Repeat("x", 2*MaxPromptOutline)
	if _, err := g.FromHTML(context.Background(), in); err != nil {
		t.Fatalf("FromHTML error: %v", err)
	}
	prompt := ai.prompts[0].Prompt
	if !strings.Contains(prompt, "Text outline:\n## Top stories") {
		t.Fatalf("expected outline block in prompt, got %q", prompt)
	}
	if strings.Contains(prompt, strings.Repeat("x", MaxPromptOutline)) {
		t.Fatalf("expected outline to be truncated")
	}

	in.Outline = "  "
	if p := buildHTMLPrompt(in); strings.Contains(p, "Text outline:") {
		t.Fatalf("expected no outline block for blank outline")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		schema *model.ExtractionSchema
		ok     bool
	}{
		{"nil", nil, false},
		{"empty", &model.ExtractionSchema{}, false},
		{"empty container", &model.ExtractionSchema{Selectors: []model.Selector{{Field: "container"}}}, false},
		{"bad css", &model.ExtractionSchema{Selectors: []model.Selector{{Field: "container", Selector: "div[["}}}, false},
		{"unnamed field", &model.ExtractionSchema{Selectors: []model.Selector{{Selector: "li"}, {Selector: "a"}}}, false},
		{"bad filter", &model.ExtractionSchema{
			Selectors: []model.Selector{{Selector: "li"}},
			Filters:   []model.Filter{{Field: "x", Operator: "~"}},
		}, false},
		{"ok", &model.ExtractionSchema{
			Selectors: []model.Selector{{Field: "container", Selector: "li.item"}, {Field: "title", Selector: "h2 > a"}},
			Filters:   []model.Filter{{Field: "votes", Operator: model.OpGreaterEqual, Value: 1}},
		}, true},
	}
	for _, tc := range cases {
		err := Validate(tc.schema)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			var se *ShapeError
			if !errors.As(err, &se) {
				t.Fatalf("%s: expected ShapeError, got %v", tc.name, err)
			}
		}
	}
}
