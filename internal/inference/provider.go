package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Provider names used to tag provider-sourced documents.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default vendor endpoints and models.
const (
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel    = "gemini-1.5-flash"
	DefaultOpenAIEndpoint = "https://api.openai.com/v1"
	DefaultOpenAIModel    = "gpt-4o-mini"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 1 << 20

// Provider is an external text-generation service.
// Complete returns the raw response body; its shape is vendor specific.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) ([]byte, error)
}

// HTTPProvider calls a Gemini- or OpenAI-style generation endpoint.
type HTTPProvider struct {
	name       string
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewGeminiProvider creates a provider for the Gemini generateContent API.
func NewGeminiProvider(cfg ProviderConfig, client *http.Client) *HTTPProvider {
	return newHTTPProvider(ProviderGemini, cfg, DefaultGeminiEndpoint, DefaultGeminiModel, client)
}

// NewOpenAIProvider creates a provider for the OpenAI chat completions API.
func NewOpenAIProvider(cfg ProviderConfig, client *http.Client) *HTTPProvider {
	return newHTTPProvider(ProviderOpenAI, cfg, DefaultOpenAIEndpoint, DefaultOpenAIModel, client)
}

func newHTTPProvider(name string, cfg ProviderConfig, endpoint, model string, client *http.Client) *HTTPProvider {
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		name:       name,
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		apiKey:     cfg.APIKey,
		httpClient: client,
	}
}

// Name returns the provider tag.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Complete sends the prompt and returns the raw response body.
// Any non-2xx status is an error.
func (p *HTTPProvider) Complete(ctx context.Context, prompt string) ([]byte, error) {
	req, err := p.newRequest(ctx, prompt)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", p.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s request failed with status %d: %s", p.name, resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

func (p *HTTPProvider) newRequest(ctx context.Context, prompt string) (*http.Request, error) {
	var (
		url     string
		payload any
	)

	switch p.name {
	case ProviderGemini:
		url = fmt.Sprintf("%s/models/%s:generateContent", p.endpoint, p.model)
		payload = map[string]any{
			"systemInstruction": map[string]any{
				"parts": []map[string]string{{"text": instructions}},
			},
			"contents": []map[string]any{{
				"role":  "user",
				"parts": []map[string]string{{"text": prompt}},
			}},
			"generationConfig": map[string]any{
				"temperature":      0,
				"responseMimeType": "application/json",
			},
		}
	default:
		url = p.endpoint + "/chat/completions"
		payload = map[string]any{
			"model": p.model,
			"messages": []map[string]string{
				{"role": "system", "content": instructions},
				{"role": "user", "content": prompt},
			},
			"temperature": 0,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.name == ProviderGemini {
		req.Header.Set("x-goog-api-key", p.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return req, nil
}

// instructions tells the provider which document to produce.
const instructions = `You convert marketing audience descriptions into JSON rules for a CRM.
Reply with a single JSON object and nothing else, shaped as:
{"logic":"AND"|"OR","conditions":[{"field":string,"operator":string,"value":number|string}],"connectors":["AND"|"OR",...]}
Fields and operators:
- totalSpending: ">", "<", ">=", "<=" (number, currency units)
- visitCount: ">", "<" (number of visits)
- lastVisit: "before" (last visit more than N days ago) or "after" (visited within the last N days); value in days
- email: "contains" (string)
connectors is optional; when present it has one entry per pair of adjacent conditions.`

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
