package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/ratelimit"
	"github.com/jrmatherly/nexus/internal/telemetry"
	"github.com/jrmatherly/nexus/internal/token"

	_ "github.com/jrmatherly/nexus/internal/provider/anthropic"
	_ "github.com/jrmatherly/nexus/internal/provider/openai"
)

func seconds(n int) config.Duration {
	return config.Duration{Duration: time.Duration(n) * time.Second}
}

func upstreamResponse(modelID string) string {
	return `{
		"id": "chatcmpl-up",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "` + modelID + `",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
	}`
}

func newTestRouter(t *testing.T, cfg *config.Config) *Router {
	t.Helper()
	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Close)

	rt, err := New(&cfg.LLM, token.New(), ratelimit.NewManager(store, cfg), telemetry.NewRecorder())
	require.NoError(t, err)
	return rt
}

func singleProviderConfig(baseURL string) *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Enabled: true,
			Providers: map[string]config.LLMProvider{
				"ai": {
					Type:    "openai",
					APIKey:  "sk-test",
					BaseURL: baseURL,
					Models: map[string]config.LLMModel{
						"gpt-4":       {Rename: "smart"},
						"gpt-4o-mini": {},
					},
				},
			},
		},
	}
}

func TestCompleteRenameRoundTrip(t *testing.T) {
	var upstreamModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		upstreamModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamResponse("gpt-4")))
	}))
	defer upstream.Close()

	rt := newTestRouter(t, singleProviderConfig(upstream.URL))

	result, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/smart",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{})
	require.NoError(t, err)

	// Inbound effective id maps to the raw upstream id and back.
	assert.Equal(t, "gpt-4", upstreamModel)
	assert.Equal(t, "ai/smart", result.Model)
	assert.Equal(t, "hello", result.Choices[0].Message.Content)
}

func TestCompleteUnknownProvider(t *testing.T) {
	rt := newTestRouter(t, singleProviderConfig("http://127.0.0.1:0"))

	_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "nope/gpt-4",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{})
	assert.ErrorIs(t, err, model.ErrProviderNotFound)
}

func TestCompleteUnknownModel(t *testing.T) {
	rt := newTestRouter(t, singleProviderConfig("http://127.0.0.1:0"))

	_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/gpt-5",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{})
	assert.ErrorIs(t, err, model.ErrModelNotFound)
}

func TestCompleteInvalidModelFormat(t *testing.T) {
	rt := newTestRouter(t, singleProviderConfig("http://127.0.0.1:0"))

	for _, id := range []string{"gpt-4", "a/b/c"} {
		_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
			Model:    id,
			Messages: []model.Message{{Role: "user", Content: "hi"}},
		}, RequestContext{})
		assert.ErrorIs(t, err, model.ErrInvalidModelFormat, id)
	}
}

func TestCompleteRawModelIDRejected(t *testing.T) {
	rt := newTestRouter(t, singleProviderConfig("http://127.0.0.1:0"))

	// The raw upstream id is hidden behind the rename.
	_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/gpt-4",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{})
	assert.ErrorIs(t, err, model.ErrModelNotFound)
}

func TestCompleteConnectionError(t *testing.T) {
	rt := newTestRouter(t, singleProviderConfig("http://127.0.0.1:1"))

	_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/smart",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{})
	assert.ErrorIs(t, err, model.ErrConnection)
}

func tokenLimitedConfig(baseURL string) *config.Config {
	cfg := singleProviderConfig(baseURL)
	cfg.Server.RateLimits.Enabled = true
	cfg.Server.ClientIdentification = config.ClientIdentificationConfig{
		Enabled:  true,
		ClientID: config.IdentitySource{HTTPHeader: "X-Client-Id"},
	}

	provider := cfg.LLM.Providers["ai"]
	provider.Models["gpt-4"] = config.LLMModel{
		Rename: "smart",
		RateLimits: &config.TokenRateLimits{
			PerUser: &config.TokenQuota{
				InputTokenLimit: 100,
				Interval:        seconds(60),
				Groups: map[string]config.TokenQuota{
					"free": {InputTokenLimit: 100, Interval: seconds(60)},
				},
			},
		},
	}
	cfg.LLM.Providers["ai"] = provider
	return cfg
}

func TestCompleteTokenRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamResponse("gpt-4")))
	}))
	defer upstream.Close()

	rt := newTestRouter(t, tokenLimitedConfig(upstream.URL))

	// ~60 estimated input tokens per request against a 100-token budget.
	req := func() *model.ChatCompletionRequest {
		return &model.ChatCompletionRequest{
			Model: "ai/smart",
			Messages: []model.Message{
				{Role: "user", Content: strings.Repeat("tell me more ", 18)},
			},
		}
	}
	rc := RequestContext{Identity: model.ClientIdentity{ClientID: "u1", GroupID: "free"}}

	_, err := rt.Complete(context.Background(), req(), rc)
	require.NoError(t, err)

	_, err = rt.Complete(context.Background(), req(), rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRateLimitExceeded)

	gwErr := err.(*model.GatewayError)
	assert.Equal(t, http.StatusTooManyRequests, gwErr.StatusCode)
	assert.Contains(t, gwErr.Message, "Token rate limit exceeded")
	assert.Equal(t, "rate_limit_error", gwErr.Type)

	// A different user still has budget.
	_, err = rt.Complete(context.Background(), req(), RequestContext{
		Identity: model.ClientIdentity{ClientID: "u2", GroupID: "free"},
	})
	assert.NoError(t, err)
}

func TestForwardTokenHeader(t *testing.T) {
	var seenAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamResponse("gpt-4")))
	}))
	defer upstream.Close()

	cfg := singleProviderConfig(upstream.URL)
	provider := cfg.LLM.Providers["ai"]
	provider.ForwardToken = true
	cfg.LLM.Providers["ai"] = provider

	rt := newTestRouter(t, cfg)

	inbound := http.Header{}
	inbound.Set("X-Provider-API-Key", "sk-caller")
	_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/smart",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{Headers: inbound})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-caller", seenAuth)
}

func TestForwardTokenDisabledIgnoresHeader(t *testing.T) {
	var seenAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamResponse("gpt-4")))
	}))
	defer upstream.Close()

	rt := newTestRouter(t, singleProviderConfig(upstream.URL))

	inbound := http.Header{}
	inbound.Set("X-Provider-API-Key", "sk-caller")
	_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/smart",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{Headers: inbound})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", seenAuth)
}

func TestProviderHeaderRules(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamResponse("gpt-4")))
	}))
	defer upstream.Close()

	cfg := singleProviderConfig(upstream.URL)
	provider := cfg.LLM.Providers["ai"]
	provider.Headers = []config.HeaderRule{
		{Insert: &config.HeaderInsert{Name: "X-Org", Value: "acme"}},
		{Forward: &config.HeaderForward{Name: "X-Trace-Id"}},
	}
	cfg.LLM.Providers["ai"] = provider

	rt := newTestRouter(t, cfg)

	inbound := http.Header{}
	inbound.Set("X-Trace-Id", "t-123")
	_, err := rt.Complete(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/smart",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, RequestContext{Headers: inbound})
	require.NoError(t, err)

	assert.Equal(t, "acme", seen.Get("X-Org"))
	assert.Equal(t, "t-123", seen.Get("X-Trace-Id"))
}

func TestListModels(t *testing.T) {
	rt := newTestRouter(t, singleProviderConfig("http://127.0.0.1:0"))

	list := rt.ListModels(context.Background())
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 2)

	ids := []string{list.Data[0].ID, list.Data[1].ID}
	assert.Contains(t, ids, "ai/smart")
	assert.Contains(t, ids, "ai/gpt-4o-mini")
	for _, m := range list.Data {
		assert.Equal(t, "model", m.Object)
		assert.Equal(t, "ai", m.OwnedBy)
		assert.NotZero(t, m.Created)
	}
}

func TestListModelsCached(t *testing.T) {
	rt := newTestRouter(t, singleProviderConfig("http://127.0.0.1:0"))

	first := rt.ListModels(context.Background())
	second := rt.ListModels(context.Background())
	assert.Equal(t, first, second)
}

func TestCompleteStreamSSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"id\":\"chatcmpl-up\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hel\"},\"finish_reason\":null}]}\n\n" +
				"data: {\"id\":\"chatcmpl-up\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer upstream.Close()

	rt := newTestRouter(t, singleProviderConfig(upstream.URL))

	stream := true
	s, err := rt.CompleteStream(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/smart",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
		Stream:   &stream,
	}, RequestContext{})
	require.NoError(t, err)
	defer s.Response.Body.Close()

	assert.Equal(t, "ai/smart", s.DisplayModel)
	assert.Equal(t, http.StatusOK, s.Response.StatusCode)
}

func TestCompleteStreamUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer upstream.Close()

	rt := newTestRouter(t, singleProviderConfig(upstream.URL))

	stream := true
	_, err := rt.CompleteStream(context.Background(), &model.ChatCompletionRequest{
		Model:    "ai/smart",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
		Stream:   &stream,
	}, RequestContext{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRateLimitExceeded)
}
