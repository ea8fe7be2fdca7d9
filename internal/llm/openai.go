package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"pagesentry/internal/config"
)

// openAIProvider covers OpenAI and any OpenAI-compatible endpoint
// (Groq, OpenRouter, DeepSeek, ...) selected through BaseURL.
type openAIProvider struct {
	name    string
	apiKey  string
	model   string
	timeout time.Duration
	client  *openai.Client
}

func newOpenAIProvider(pc config.ProviderConfig, timeout time.Duration) *openAIProvider {
	clientCfg := openai.DefaultConfig(pc.APIKey)
	if pc.BaseURL != "" {
		clientCfg.BaseURL = pc.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := pc.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &openAIProvider{
		name:    providerName(pc),
		apiKey:  pc.APIKey,
		model:   model,
		timeout: timeout,
		client:  openai.NewClientWithConfig(clientCfg),
	}
}

func (p *openAIProvider) Name() string    { return p.name }
func (p *openAIProvider) Available() bool { return p.apiKey != "" }

func (p *openAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		status := 0
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			status = apiErr.HTTPStatusCode
		case errors.As(err, &reqErr):
			status = reqErr.HTTPStatusCode
		}
		return "", Classify(err, p.name, status)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: p.name, Category: CategoryBadResponse, Err: errors.New("empty completion")}
	}
	return resp.Choices[0].Message.Content, nil
}
