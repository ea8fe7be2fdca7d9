package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoProviders is returned when no backend has usable credentials.
var ErrNoProviders = errors.New("no AI providers configured")

// Error categories for provider failures.
const (
	CategoryRateLimit   = "rate_limit"
	CategoryAuth        = "auth"
	CategoryUnavailable = "unavailable"
	CategoryTimeout     = "timeout"
	CategoryBadResponse = "bad_response"
	CategoryUnknown     = "unknown"
)

// ProviderError is a classified failure of a single provider call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Category   string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Category, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned once every available provider failed. Last is
// the final provider's error.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Provider)
	}
	return fmt.Sprintf("all AI providers failed (tried %s): %v", strings.Join(names, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Classify wraps err from provider into a ProviderError, using the HTTP
// status when known and falling back to the message text.
func Classify(err error, provider string, statusCode int) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	out := &ProviderError{Provider: provider, StatusCode: statusCode, Err: err}
	switch statusCode {
	case http.StatusTooManyRequests:
		out.Category = CategoryRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		out.Category = CategoryAuth
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		out.Category = CategoryUnavailable
	default:
		out.Category = classifyMessage(strings.ToLower(err.Error()))
	}
	return out
}

func classifyMessage(msg string) string {
	switch {
	case containsRateLimitToken(msg):
		return CategoryRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "capacity"):
		return CategoryUnavailable
	case strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return CategoryAuth
	default:
		return CategoryUnknown
	}
}

func containsRateLimitToken(msg string) bool {
	for _, tok := range []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "429"} {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}

// IsRateLimit reports whether err (or the last provider error it wraps) is a
// rate-limit signal. Only these are retried by RetryWithBackoff.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Category == CategoryRateLimit {
			return true
		}
	}
	return containsRateLimitToken(strings.ToLower(err.Error()))
}
