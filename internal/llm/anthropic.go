package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"pagesentry/internal/config"
)

type anthropicProvider struct {
	name    string
	apiKey  string
	model   string
	timeout time.Duration
	client  anthropic.Client
}

func newAnthropicProvider(pc config.ProviderConfig, timeout time.Duration) *anthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(pc.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		// Retries are owned by RetryWithBackoff.
		option.WithMaxRetries(0),
	}
	if pc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(pc.BaseURL))
	}

	model := pc.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &anthropicProvider{
		name:    providerName(pc),
		apiKey:  pc.APIKey,
		model:   model,
		timeout: timeout,
		client:  anthropic.NewClient(opts...),
	}
}

func (p *anthropicProvider) Name() string    { return p.name }
func (p *anthropicProvider) Available() bool { return p.apiKey != "" }

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	})
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", Classify(err, p.name, status)
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", &ProviderError{Provider: p.name, Category: CategoryBadResponse, Err: errors.New("empty response")}
}
