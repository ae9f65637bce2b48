package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"crm-backend/internal/models"
	"crm-backend/internal/tracing"
)

// Attempt budgets are fixed, not configurable.
const (
	providerFirstAttempts = 3
	fallbackAttempts      = 2
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultTimeout     = 20 * time.Second
	DefaultBackoffBase = 200 * time.Millisecond
)

// ProviderConfig configures one vendor.
type ProviderConfig struct {
	APIKey   string
	Endpoint string // base URL override
	Model    string // model name override
}

// Config is the immutable configuration of an Inferencer.
type Config struct {
	// Enabled allows the provider as a fallback for weak local results.
	Enabled bool
	// ProviderFirst asks the provider before trusting local results.
	ProviderFirst bool
	Gemini        ProviderConfig
	OpenAI        ProviderConfig
	// Timeout bounds each provider attempt.
	Timeout time.Duration
	// BackoffBase scales the wait before each retry; see Config.Backoff.
	BackoffBase time.Duration
}

// ProviderFirstActive reports whether provider-first mode is on. A Gemini
// key turns it on even without the ProviderFirst flag.
func (c Config) ProviderFirstActive() bool {
	return c.ProviderFirst || c.Gemini.APIKey != ""
}

// Backoff is the wait before the attempt with zero-based index attempt:
// BackoffBase * 2^attempt, so 400ms then 800ms with the default base. The
// first attempt does not wait.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return c.BackoffBase << uint(attempt)
}

// Outcome records which path produced a document.
type Outcome string

const (
	// OutcomeHeuristic means only local extraction ran.
	OutcomeHeuristic Outcome = "heuristic"
	// OutcomeProvider means the provider supplied the document.
	OutcomeProvider Outcome = "provider"
	// OutcomeProviderFallback means the provider was tried, failed, and the
	// local document was used.
	OutcomeProviderFallback Outcome = "provider_fallback"
)

// Result is the output of an inference call. Err carries the last provider
// error when Outcome is OutcomeProviderFallback and is informational only.
type Result struct {
	Rules   models.RuleDocument
	Outcome Outcome
	Err     error
}

// Inferencer turns free text into rule documents.
type Inferencer struct {
	cfg      Config
	provider Provider
	tracer   *tracing.Tracer
}

// New creates an Inferencer. Gemini is preferred when both vendor keys are
// set; without any key the provider stage is skipped.
func New(cfg Config) *Inferencer {
	client := &http.Client{}

	var provider Provider
	switch {
	case cfg.Gemini.APIKey != "":
		provider = NewGeminiProvider(cfg.Gemini, client)
	case cfg.OpenAI.APIKey != "":
		provider = NewOpenAIProvider(cfg.OpenAI, client)
	}

	return NewWithProvider(cfg, provider)
}

// NewWithProvider creates an Inferencer around an explicit provider, which
// may be nil.
func NewWithProvider(cfg Config, provider Provider) *Inferencer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	return &Inferencer{
		cfg:      cfg,
		provider: provider,
		tracer:   tracing.ForComponent("inference"),
	}
}

// Infer produces a rule document for the prompt. It never fails: provider
// errors degrade to the locally inferred document.
func (inf *Inferencer) Infer(ctx context.Context, prompt string) Result {
	local := InferLocal(prompt)
	if inf.provider == nil {
		return Result{Rules: local, Outcome: OutcomeHeuristic}
	}

	var lastErr error
	attempted := false

	if inf.cfg.ProviderFirstActive() {
		attempted = true
		doc, err := inf.fromProvider(ctx, prompt, providerFirstAttempts)
		if err == nil {
			return Result{Rules: doc, Outcome: OutcomeProvider}
		}
		lastErr = err
	}

	if inf.cfg.Enabled && len(local.Conditions) <= 1 {
		attempted = true
		doc, err := inf.fromProvider(ctx, prompt, fallbackAttempts)
		if err == nil {
			return Result{Rules: doc, Outcome: OutcomeProvider}
		}
		lastErr = err
	}

	if attempted {
		return Result{Rules: local, Outcome: OutcomeProviderFallback, Err: lastErr}
	}
	return Result{Rules: local, Outcome: OutcomeHeuristic}
}

// fromProvider asks the provider up to attempts times, waiting
// Config.Backoff(attempt) before each retry.
func (inf *Inferencer) fromProvider(ctx context.Context, prompt string, attempts int) (models.RuleDocument, error) {
	ctx, span := inf.tracer.StartSpan(ctx, "inference.provider",
		trace.WithAttributes(
			attribute.String("provider", inf.provider.Name()),
			attribute.Int("max_attempts", attempts),
		),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = errors.Join(lastErr, ctx.Err())
				tracing.RecordError(span, lastErr)
				return models.RuleDocument{}, lastErr
			case <-time.After(inf.cfg.Backoff(attempt)):
			}
		}

		doc, err := inf.attempt(ctx, prompt)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return doc, nil
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
		span.AddEvent("attempt failed", trace.WithAttributes(attribute.String("error", err.Error())))
	}

	tracing.RecordError(span, lastErr)
	return models.RuleDocument{}, lastErr
}

// attempt performs one bounded provider call and validates the result.
func (inf *Inferencer) attempt(ctx context.Context, prompt string) (models.RuleDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, inf.cfg.Timeout)
	defer cancel()

	body, err := inf.provider.Complete(ctx, prompt)
	if err != nil {
		return models.RuleDocument{}, err
	}

	payload, err := LocateJSON(ExtractText(body))
	if err != nil {
		return models.RuleDocument{}, err
	}

	doc, err := DecodeDocument(payload)
	if err != nil {
		return models.RuleDocument{}, err
	}
	if len(doc.Conditions) == 0 {
		return models.RuleDocument{}, ErrEmptyRules
	}

	name := inf.provider.Name()
	doc.Provider = &name
	return doc, nil
}
