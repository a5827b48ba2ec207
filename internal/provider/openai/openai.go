// Package openai implements the OpenAI chat completions dialect. The
// translation is a near-identity passthrough.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements the OpenAI dialect.
type Provider struct {
	name    string
	baseURL string
}

// New creates an OpenAI provider bound to one configured entry.
func New(name string, cfg *config.LLMProvider) (*Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{name: name, baseURL: baseURL}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Type() string { return "openai" }

func (p *Provider) SupportsStreaming() bool { return true }

func (p *Provider) TransformRequest(ctx context.Context, req *model.ChatCompletionRequest, apiKey string) (*http.Request, error) {
	body := transformRequestBody(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}

func (p *Provider) TransformResponse(_ context.Context, resp *http.Response) (*model.ModelResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result model.ModelResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return &result, nil
}

var doneMarker = []byte("[DONE]")

func (p *Provider) TransformStreamChunk(_ context.Context, data []byte) (*model.StreamChunk, bool, error) {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, doneMarker) {
		return nil, true, nil
	}

	var chunk model.StreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, false, err
	}

	return &chunk, false, nil
}

func transformRequestBody(req *model.ChatCompletionRequest) map[string]any {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		body["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		body["presence_penalty"] = *req.PresencePenalty
	}
	if req.N != nil {
		body["n"] = *req.N
	}
	if req.Stop != nil {
		body["stop"] = req.Stop
	}
	if req.User != nil {
		body["user"] = *req.User
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}
	if req.Tools != nil {
		body["tools"] = req.Tools
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = req.ToolChoice
	}
	if req.ParallelToolCalls != nil {
		body["parallel_tool_calls"] = *req.ParallelToolCalls
	}
	if req.ResponseFormat != nil {
		body["response_format"] = req.ResponseFormat
	}
	if req.Stream != nil {
		body["stream"] = *req.Stream
	}
	if req.StreamOptions != nil {
		body["stream_options"] = req.StreamOptions
	}
	for k, v := range req.ExtraParams {
		body[k] = v
	}

	return body
}

func (p *Provider) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	msg := string(body)
	errType := "api_error"
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		errType = errResp.Error.Type
	}

	return provider.NewUpstreamError(p.name, resp.StatusCode, msg, errType)
}

func init() {
	provider.Register("openai", func(name string, cfg *config.LLMProvider) (provider.Provider, error) {
		return New(name, cfg)
	})
}
