// Package schema asks the AI orchestrator for extraction schemas and checks
// that what comes back can be executed.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pagesentry/internal/cache"
	"pagesentry/internal/inspector"
	"pagesentry/internal/instruction"
	"pagesentry/internal/llm"
	"pagesentry/internal/model"
)

const (
	cacheTypeFromHTML        = "schema_html"
	cacheTypeFromInstruction = "schema_instruction"
)

// AI is the part of llm.Orchestrator the generator needs.
type AI interface {
	GenerateWithFallback(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Options tunes generation. MaxTokens and InitialDelay default when zero;
// a negative MaxRetries selects the orchestrator default.
type Options struct {
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
	InitialDelay time.Duration
}

// Input carries an inspected page and the instruction to satisfy. Outline
// is the markdown rendering of the page text.
type Input struct {
	URL         string
	Instruction string
	HTMLSnippet string
	Outline     string
	Patterns    inspector.PagePatterns
	Parsed      *instruction.ParsedInstruction
}

// Output is a generated schema and where it came from.
type Output struct {
	Schema       model.ExtractionSchema `json:"schema"`
	ProviderName string                 `json:"providerName"`
	Cached       bool                   `json:"-"`
}

// Generator produces extraction schemas. A nil cache disables memoization.
type Generator struct {
	ai     AI
	cache  cache.Cache
	opts   Options
	logger *slog.Logger
}

func NewGenerator(ai AI, c cache.Cache, opts Options, logger *slog.Logger) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{ai: ai, cache: c, opts: opts, logger: logger}
}

// FromHTML generates a schema from an inspected page.
func (g *Generator) FromHTML(ctx context.Context, in Input) (*Output, error) {
	key := cache.GenerateKey(cache.Params{
		"type":        cacheTypeFromHTML,
		"url":         in.URL,
		"instruction": in.Instruction,
		"html":        in.HTMLSnippet,
	})
	return g.generate(ctx, key, buildHTMLPrompt(in))
}

// FromInstruction generates a schema from the URL and instruction alone,
// for pages that cannot be fetched upfront.
func (g *Generator) FromInstruction(ctx context.Context, url, text string) (*Output, error) {
	parsed := instruction.Parse(text)
	key := cache.GenerateKey(cache.Params{
		"type":        cacheTypeFromInstruction,
		"url":         url,
		"instruction": text,
	})
	return g.generate(ctx, key, buildInstructionPrompt(url, text, &parsed))
}

func (g *Generator) generate(ctx context.Context, key cache.Key, prompt string) (*Output, error) {
	if cached, ok := cache.GetJSON[Output](ctx, g.cache, key); ok {
		g.logger.Debug("schema cache hit", "key", key.String())
		cached.Cached = true
		return &cached, nil
	}

	req := llm.Request{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Temperature:  g.opts.Temperature,
		MaxTokens:    g.opts.MaxTokens,
	}

	var res *llm.Result
	err := llm.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.ai.GenerateWithFallback(ctx, req)
		return err
	}, g.opts.MaxRetries, g.opts.InitialDelay)
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}

	parsed, err := ParseResponse(res.Content)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", res.ProviderName, err)
	}

	out := &Output{Schema: parsed, ProviderName: res.ProviderName}
	// Unusable schemas are returned for diagnostics but never cached.
	if Validate(&out.Schema) == nil {
		if err := cache.SetJSON(ctx, g.cache, key, out); err != nil {
			g.logger.Warn("failed to cache schema", "error", err)
		}
	}
	return out, nil
}
