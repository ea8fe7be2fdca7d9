package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"pagesentry/internal/config"
)

// Kind is the wire protocol a configured provider speaks.
type Kind string

const (
	KindOpenAI           Kind = "openai"
	KindOpenAICompatible Kind = "openai_compatible"
	KindAnthropic        Kind = "anthropic"
	KindGoogle           Kind = "google"
)

// NewProvidersFromConfig builds providers in configured priority order.
// Providers with an unknown kind are skipped with a warning; providers
// without credentials are kept but report Available() == false.
func NewProvidersFromConfig(cfg *config.Config, logger *slog.Logger) []Provider {
	if logger == nil {
		logger = slog.Default()
	}

	providers := make([]Provider, 0, len(cfg.AI.Providers))
	for _, pc := range cfg.AI.Providers {
		timeout := time.Duration(pc.TimeoutMs) * time.Millisecond
		switch Kind(strings.ToLower(pc.Kind)) {
		case KindOpenAI, KindOpenAICompatible:
			providers = append(providers, newOpenAIProvider(pc, timeout))
		case KindAnthropic:
			providers = append(providers, newAnthropicProvider(pc, timeout))
		case KindGoogle:
			providers = append(providers, newGoogleProvider(pc, timeout))
		default:
			logger.Warn("skipping ai provider with unsupported kind", "provider", pc.Name, "kind", pc.Kind)
		}
	}
	return providers
}

func providerName(pc config.ProviderConfig) string {
	if pc.Name != "" {
		return pc.Name
	}
	return pc.Kind
}

// ExtractJSONObject returns the JSON object contained in content. It first
// tries the whole string, then the outermost {...} block, so replies wrapped
// in prose or markdown fences still parse.
func ExtractJSONObject(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if gjson.Valid(trimmed) && gjson.Parse(trimmed).IsObject() {
		return trimmed, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return "", errors.New("no JSON object found in content")
	}

	snippet := content[start : end+1]
	if !gjson.Valid(snippet) {
		return "", fmt.Errorf("invalid JSON object in content")
	}
	return snippet, nil
}
