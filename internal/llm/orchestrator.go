package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"pagesentry/internal/metrics"
)

// Request is a single text-generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Provider is one text-generation backend.
type Provider interface {
	Name() string
	// Available reports whether the provider has usable credentials.
	Available() bool
	Generate(ctx context.Context, req Request) (string, error)
}

// Outcome of one provider attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt records one provider call inside a fallback sequence.
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is a successful generation.
type Result struct {
	Content      string
	ProviderName string
	Attempts     []Attempt
}

// Orchestrator tries providers in fixed priority order, once each per call.
type Orchestrator struct {
	providers []Provider
	logger    *slog.Logger
}

func NewOrchestrator(providers []Provider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{providers: providers, logger: logger}
}

// Available returns the providers with credentials, in priority order.
func (o *Orchestrator) Available() []Provider {
	out := make([]Provider, 0, len(o.providers))
	for _, p := range o.providers {
		if p != nil && p.Available() {
			out = append(out, p)
		}
	}
	return out
}

type fallbackState int

const (
	stateAttempting fallbackState = iota
	stateSucceeded
	stateExhausted
)

// fallback is the attempting(i) -> success | advance(i+1) | exhausted
// machine behind GenerateWithFallback.
type fallback struct {
	providers []Provider
	index     int
	state     fallbackState
	attempts  []Attempt
	content   string
	winner    string
	last      error
}

func (f *fallback) step(ctx context.Context, req Request, logger *slog.Logger) {
	if err := ctx.Err(); err != nil {
		f.last = err
		f.state = stateExhausted
		return
	}

	p := f.providers[f.index]
	start := time.Now()
	content, err := p.Generate(ctx, req)
	attempt := Attempt{Provider: p.Name(), Duration: time.Since(start)}

	if err == nil {
		attempt.Outcome = OutcomeSuccess
		f.attempts = append(f.attempts, attempt)
		f.content = content
		f.winner = p.Name()
		f.state = stateSucceeded
		metrics.RecordAIAttempt(p.Name(), string(OutcomeSuccess))
		logger.Info("ai provider succeeded", "provider", p.Name(), "attempt", f.index+1, "outcome", OutcomeSuccess)
		return
	}

	attempt.Outcome = OutcomeFailed
	attempt.Error = err.Error()
	f.attempts = append(f.attempts, attempt)
	f.last = err
	metrics.RecordAIAttempt(p.Name(), string(OutcomeFailed))
	logger.Warn("ai provider failed", "provider", p.Name(), "attempt", f.index+1, "outcome", OutcomeFailed, "error", err)

	f.index++
	if f.index >= len(f.providers) {
		f.state = stateExhausted
	}
}

// GenerateWithFallback runs req against each available provider in order
// until one succeeds.
func (o *Orchestrator) GenerateWithFallback(ctx context.Context, req Request) (*Result, error) {
	providers := o.Available()
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	f := &fallback{providers: providers}
	for f.state == stateAttempting {
		f.step(ctx, req, o.logger)
	}

	if f.state == stateSucceeded {
		return &Result{Content: f.content, ProviderName: f.winner, Attempts: f.attempts}, nil
	}
	return nil, &ExhaustedError{Attempts: f.attempts, Last: f.last}
}

// Default retry policy.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
)

// RetryWithBackoff runs fn and, while it fails with a rate-limit error,
// retries it up to maxRetries times waiting initialDelay*2^attempt between
// tries. Any other error is returned immediately.
func RetryWithBackoff(ctx context.Context, fn func(context.Context) error, maxRetries int, initialDelay time.Duration) error {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}

	b := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(initialDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && IsRateLimit(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
