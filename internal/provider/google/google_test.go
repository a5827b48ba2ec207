package google

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New("gcp", &config.LLMProvider{APIKey: "key"})
	require.NoError(t, err)
	return p
}

func strPtr(s string) *string { return &s }

func TestTransformRequestRoleMapping(t *testing.T) {
	body := transformRequestBody(&model.ChatCompletionRequest{
		Model: "gemini-pro",
		Messages: []model.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	})

	contents := body["contents"].([]map[string]any)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0]["role"])
	assert.Equal(t, "model", contents[1]["role"])
}

func TestTransformRequestSystemInstruction(t *testing.T) {
	body := transformRequestBody(&model.ChatCompletionRequest{
		Model: "gemini-pro",
		Messages: []model.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "hi"},
		},
	})

	si, ok := body["systemInstruction"].(map[string]any)
	require.True(t, ok)
	parts := si["parts"].([]map[string]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "Be terse.", parts[0]["text"])

	// System message must not appear as a content turn.
	contents := body["contents"].([]map[string]any)
	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0]["role"])
}

func TestTransformRequestFunctionRoundTrip(t *testing.T) {
	body := transformRequestBody(&model.ChatCompletionRequest{
		Model: "gemini-pro",
		Messages: []model.Message{
			{Role: "user", Content: "weather?"},
			{
				Role: "assistant",
				ToolCalls: []model.ToolCall{
					{
						ID:   "call_1",
						Type: "function",
						Function: model.ToolCallFunction{
							Name:      "get_weather",
							Arguments: `{"city":"Paris"}`,
						},
					},
				},
			},
			{Role: "tool", Content: "sunny", ToolCallID: strPtr("call_1")},
		},
	})

	contents := body["contents"].([]map[string]any)
	require.Len(t, contents, 3)

	call := contents[1]["parts"].([]map[string]any)[0]["functionCall"].(map[string]any)
	assert.Equal(t, "get_weather", call["name"])

	// The functionResponse resolves the call id back to the function name.
	response := contents[2]["parts"].([]map[string]any)[0]["functionResponse"].(map[string]any)
	assert.Equal(t, "get_weather", response["name"])
	assert.Equal(t, "user", contents[2]["role"])
}

func TestTransformRequestGenerationConfig(t *testing.T) {
	temp := 0.2
	maxTokens := 100
	body := transformRequestBody(&model.ChatCompletionRequest{
		Model:       "gemini-pro",
		Messages:    []model.Message{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})

	genConfig := body["generationConfig"].(map[string]any)
	assert.Equal(t, 0.2, genConfig["temperature"])
	assert.Equal(t, 100, genConfig["maxOutputTokens"])
}

func TestTransformRequestURLAndHeaders(t *testing.T) {
	p := newTestProvider(t)

	req, err := p.TransformRequest(context.Background(), &model.ChatCompletionRequest{
		Model:    "gemini-pro",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	}, "api-key")
	require.NoError(t, err)

	assert.Contains(t, req.URL.String(), "/models/gemini-pro:generateContent")
	assert.Equal(t, "api-key", req.Header.Get("x-goog-api-key"))
}

func TestTransformRequestStreamingURL(t *testing.T) {
	p := newTestProvider(t)
	stream := true

	req, err := p.TransformRequest(context.Background(), &model.ChatCompletionRequest{
		Model:    "gemini-pro",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
		Stream:   &stream,
	}, "api-key")
	require.NoError(t, err)

	assert.Contains(t, req.URL.String(), "streamGenerateContent")
	assert.Contains(t, req.URL.String(), "alt=sse")
}

func TestTransformResponse(t *testing.T) {
	p := newTestProvider(t)

	native := `{
		"candidates": [{
			"content": {"role": "model", "parts": [{"text": "Bonjour"}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
	}`

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(native)),
	}

	result, err := p.TransformResponse(context.Background(), resp)
	require.NoError(t, err)
	require.Len(t, result.Choices, 1)
	assert.Equal(t, "Bonjour", result.Choices[0].Message.Content)
	assert.Equal(t, "stop", *result.Choices[0].FinishReason)
	assert.Equal(t, 6, result.Usage.TotalTokens)
}

func TestTransformResponseFunctionCall(t *testing.T) {
	p := newTestProvider(t)

	native := `{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"functionCall": {"name": "get_weather", "args": {"city": "Paris"}}}
			]},
			"finishReason": "STOP"
		}]
	}`

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(native)),
	}

	result, err := p.TransformResponse(context.Background(), resp)
	require.NoError(t, err)
	require.Len(t, result.Choices, 1)

	choice := result.Choices[0]
	assert.Equal(t, "tool_calls", *choice.FinishReason)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", choice.Message.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Paris"}`, choice.Message.ToolCalls[0].Function.Arguments)
}

func TestTransformStreamChunk(t *testing.T) {
	p := newTestProvider(t)

	chunk, done, err := p.TransformStreamChunk(context.Background(), []byte(`{
		"candidates": [{"content": {"parts": [{"text": "Bon"}]}}]
	}`))
	require.NoError(t, err)
	assert.False(t, done)
	require.NotNil(t, chunk)
	assert.Equal(t, "Bon", *chunk.Choices[0].Delta.Content)

	chunk, done, err = p.TransformStreamChunk(context.Background(), []byte(`{
		"candidates": [{"content": {"parts": [{"text": "jour"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 1, "candidatesTokenCount": 2, "totalTokenCount": 3}
	}`))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "stop", *chunk.Choices[0].FinishReason)
	assert.Equal(t, 3, chunk.Usage.TotalTokens)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, "stop", mapFinishReason("STOP", false))
	assert.Equal(t, "length", mapFinishReason("MAX_TOKENS", false))
	assert.Equal(t, "content_filter", mapFinishReason("SAFETY", false))
	assert.Equal(t, "tool_calls", mapFinishReason("STOP", true))
}
