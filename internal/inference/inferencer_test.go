package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRules = `{"logic":"AND","conditions":[{"field":"totalSpending","operator":">","value":750},{"field":"visitCount","operator":">","value":4}],"connectors":["AND"]}`

// scriptedProvider replays a fixed list of responses, repeating the last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	body string
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, prompt string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.responses[min(p.calls, len(p.responses)-1)]
	p.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastConfig() Config {
	return Config{Timeout: time.Second, BackoffBase: time.Millisecond}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{BackoffBase: DefaultBackoffBase}

	assert.Equal(t, time.Duration(0), cfg.Backoff(0))
	assert.Equal(t, 400*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, cfg.Backoff(2))
}

func TestInfer_NoProviderIsHeuristic(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = true
	cfg.ProviderFirst = true

	res := New(cfg).Infer(context.Background(), "customers who spent more than 500")

	assert.Equal(t, OutcomeHeuristic, res.Outcome)
	assert.NoError(t, res.Err)
	require.Len(t, res.Rules.Conditions, 1)
	assert.Equal(t, cond("totalSpending", ">", 500.0), res.Rules.Conditions[0])
	assert.Nil(t, res.Rules.Provider)
}

func TestInfer_StrongLocalSkipsProvider(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{body: validRules}}}
	cfg := fastConfig()
	cfg.Enabled = true

	res := NewWithProvider(cfg, provider).Infer(context.Background(), "spent over 500 and visited more than 3 times")

	assert.Equal(t, OutcomeHeuristic, res.Outcome)
	assert.Equal(t, 0, provider.callCount())
	assert.Len(t, res.Rules.Conditions, 2)
}

func TestInfer_DisabledNeverCallsProvider(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{body: validRules}}}

	res := NewWithProvider(fastConfig(), provider).Infer(context.Background(), "hello there")

	assert.Equal(t, OutcomeHeuristic, res.Outcome)
	assert.Equal(t, 0, provider.callCount())
	assert.Empty(t, res.Rules.Conditions)
}

func TestInfer_FallbackOnWeakLocal(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{body: "```json\n" + validRules + "\n```"}}}
	cfg := fastConfig()
	cfg.Enabled = true

	res := NewWithProvider(cfg, provider).Infer(context.Background(), "big spenders who come often")

	assert.Equal(t, OutcomeProvider, res.Outcome)
	assert.Equal(t, 1, provider.callCount())
	require.Len(t, res.Rules.Conditions, 2)
	require.NotNil(t, res.Rules.Provider)
	assert.Equal(t, "scripted", *res.Rules.Provider)
	assert.Equal(t, []string{"AND"}, res.Rules.Connectors)
}

func TestInfer_RetriesInvalidResponses(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{body: "sorry, I cannot help with that"},
		{body: validRules},
	}}
	cfg := fastConfig()
	cfg.Enabled = true

	res := NewWithProvider(cfg, provider).Infer(context.Background(), "loyal customers")

	assert.Equal(t, OutcomeProvider, res.Outcome)
	assert.Equal(t, 2, provider.callCount())
}

func TestInfer_EmptyProviderDocumentIsRejected(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{body: `{"logic":"AND","conditions":[]}`}}}
	cfg := fastConfig()
	cfg.Enabled = true

	res := NewWithProvider(cfg, provider).Infer(context.Background(), "customers who spent more than 500")

	assert.Equal(t, OutcomeProviderFallback, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrEmptyRules)
	assert.Equal(t, fallbackAttempts, provider.callCount())
	assert.Equal(t, InferLocal("customers who spent more than 500"), res.Rules)
}

func TestInfer_ProviderFirstThenFallbackBudget(t *testing.T) {
	boom := errors.New("upstream unavailable")
	provider := &scriptedProvider{responses: []scriptedResponse{{err: boom}}}
	cfg := fastConfig()
	cfg.Enabled = true
	cfg.ProviderFirst = true

	res := NewWithProvider(cfg, provider).Infer(context.Background(), "customers who spent more than 500")

	assert.Equal(t, OutcomeProviderFallback, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, providerFirstAttempts+fallbackAttempts, provider.callCount())
	assert.Nil(t, res.Rules.Provider)
}

func TestInfer_ProviderFirstOnlyWhenNotEnabled(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{err: errors.New("down")}}}
	cfg := fastConfig()
	cfg.ProviderFirst = true

	res := NewWithProvider(cfg, provider).Infer(context.Background(), "anyone")

	assert.Equal(t, OutcomeProviderFallback, res.Outcome)
	assert.Equal(t, providerFirstAttempts, provider.callCount())
}

func TestInfer_ProviderFirstWinsOverStrongLocal(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{body: `[{"field":"email","operator":"contains","value":"vip"}]`}}}
	cfg := fastConfig()
	cfg.ProviderFirst = true

	res := NewWithProvider(cfg, provider).Infer(context.Background(), "spent over 500 and visited more than 3 times")

	assert.Equal(t, OutcomeProvider, res.Outcome)
	require.Len(t, res.Rules.Conditions, 1)
	assert.Equal(t, cond("email", "contains", "vip"), res.Rules.Conditions[0])
}

func TestInfer_CancelledContextStopsRetrying(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{{err: errors.New("down")}}}
	cfg := Config{ProviderFirst: true, Timeout: time.Second, BackoffBase: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := NewWithProvider(cfg, provider).Infer(ctx, "anyone")

	assert.Equal(t, OutcomeProviderFallback, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, provider.callCount())
}

func TestInfer_GeminiOverHTTP(t *testing.T) {
	var (
		mu      sync.Mutex
		gotKey  string
		gotPath string
		gotBody map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path
		_ = json.Unmarshal(data, &gotBody)
		mu.Unlock()

		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": validRules}},
				},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.Gemini = ProviderConfig{APIKey: "test-key", Endpoint: server.URL, Model: "test-model"}

	res := New(cfg).Infer(context.Background(), "customers who spent more than 500")

	assert.Equal(t, OutcomeProvider, res.Outcome)
	require.NotNil(t, res.Rules.Provider)
	assert.Equal(t, ProviderGemini, *res.Rules.Provider)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "/models/test-model:generateContent", gotPath)
	assert.Contains(t, gotBody, "contents")
}

func TestInfer_OpenAIOverHTTPWithRetry(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)

		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		resp := map[string]any{
			"choices": []any{map[string]any{
				"message": map[string]any{"role": "assistant", "content": validRules},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.Enabled = true
	cfg.OpenAI = ProviderConfig{APIKey: "sk-test", Endpoint: server.URL}

	res := New(cfg).Infer(context.Background(), "our best customers")

	assert.Equal(t, OutcomeProvider, res.Outcome)
	assert.Equal(t, int32(2), calls.Load())
	require.NotNil(t, res.Rules.Provider)
	assert.Equal(t, ProviderOpenAI, *res.Rules.Provider)
}

func TestInfer_SlowProviderTimesOut(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cfg := Config{
		Enabled:     true,
		Gemini:      ProviderConfig{APIKey: "k", Endpoint: server.URL},
		Timeout:     25 * time.Millisecond,
		BackoffBase: time.Millisecond,
	}

	prompt := "customers who spent more than 500"
	res := New(cfg).Infer(context.Background(), prompt)

	assert.Equal(t, OutcomeProviderFallback, res.Outcome)
	assert.Error(t, res.Err)
	assert.Equal(t, InferLocal(prompt), res.Rules)
	assert.Nil(t, res.Rules.Provider)
	assert.Equal(t, int32(providerFirstAttempts+fallbackAttempts), calls.Load())
}

func TestConfig_ProviderFirstActive(t *testing.T) {
	assert.False(t, Config{}.ProviderFirstActive())
	assert.True(t, Config{ProviderFirst: true}.ProviderFirstActive())
	assert.True(t, Config{Gemini: ProviderConfig{APIKey: "k"}}.ProviderFirstActive())
	assert.False(t, Config{OpenAI: ProviderConfig{APIKey: "k"}}.ProviderFirstActive())
}
