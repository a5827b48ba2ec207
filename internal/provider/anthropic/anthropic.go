// Package anthropic implements the Anthropic Messages dialect: system
// prompt extraction, user/assistant alternation, tool_use/tool_result
// translation, and the streaming event fold.
package anthropic

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

const (
	defaultBaseURL   = "https://api.anthropic.com"
	messagesEndpoint = "/v1/messages"
	apiVersion       = "2023-06-01"

	// Anthropic requires max_tokens; requests without one get this.
	defaultMaxTokens = 4096
)

// Provider implements the Anthropic translation layer.
type Provider struct {
	name    string
	baseURL string
}

func New(name string, cfg *config.LLMProvider) (*Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{name: name, baseURL: baseURL}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Type() string { return "anthropic" }

func (p *Provider) SupportsStreaming() bool { return true }

func (p *Provider) TransformRequest(ctx context.Context, req *model.ChatCompletionRequest, apiKey string) (*http.Request, error) {
	body := transformRequestBody(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+messagesEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("x-api-key", apiKey)
	return httpReq, nil
}

func (p *Provider) TransformResponse(_ context.Context, resp *http.Response) (*model.ModelResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	return transformToOpenAI(&anthropicResp), nil
}

func (p *Provider) TransformStreamChunk(_ context.Context, data []byte) (*model.StreamChunk, bool, error) {
	return parseStreamEvent(data)
}

// transformRequestBody converts OpenAI format to Anthropic format.
func transformRequestBody(req *model.ChatCompletionRequest) map[string]any {
	// Separate system messages into the top-level system field.
	var systemParts []map[string]any
	var messages []map[string]any

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if contentStr, ok := msg.Content.(string); ok && contentStr != "" {
				systemParts = append(systemParts, map[string]any{
					"type": "text",
					"text": contentStr,
				})
			}
			continue
		}

		messages = append(messages, transformMessage(msg))
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": mergeAlternating(messages),
	}

	if len(systemParts) > 0 {
		body["system"] = systemParts
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	body["max_tokens"] = maxTokens

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.Stop != nil {
		body["stop_sequences"] = stopSequences(req.Stop)
	}
	if req.Stream != nil {
		body["stream"] = *req.Stream
	}

	if len(req.Tools) > 0 {
		body["tools"] = transformTools(req.Tools)
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = transformToolChoice(req.ToolChoice, req.ParallelToolCalls)
	}

	return body
}

func stopSequences(stop any) []string {
	switch v := stop.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// mergeAlternating collapses consecutive same-role messages so that the
// sequence strictly alternates between user and assistant, which the
// Messages API requires.
func mergeAlternating(messages []map[string]any) []map[string]any {
	var merged []map[string]any
	for _, msg := range messages {
		if len(merged) == 0 {
			merged = append(merged, msg)
			continue
		}
		last := merged[len(merged)-1]
		if last["role"] != msg["role"] {
			merged = append(merged, msg)
			continue
		}
		last["content"] = append(asParts(last["content"]), asParts(msg["content"])...)
	}
	return merged
}

// asParts normalizes string or block content to a block list for merging.
func asParts(content any) []map[string]any {
	switch v := content.(type) {
	case string:
		return []map[string]any{{"type": "text", "text": v}}
	case []map[string]any:
		return v
	default:
		return []map[string]any{{"type": "text", "text": fmt.Sprintf("%v", v)}}
	}
}

func transformMessage(msg model.Message) map[string]any {
	result := map[string]any{
		"role": msg.Role,
	}

	switch content := msg.Content.(type) {
	case string:
		result["content"] = content
	case []any:
		var parts []map[string]any
		for _, part := range content {
			if m, ok := part.(map[string]any); ok {
				parts = append(parts, transformContentPart(m))
			}
		}
		result["content"] = parts
	default:
		result["content"] = msg.Content
	}

	// Tool results arrive as role=tool messages; Anthropic wants them as
	// user-role tool_result blocks.
	if msg.ToolCallID != nil {
		result["role"] = "user"
		result["content"] = []map[string]any{
			{
				"type":        "tool_result",
				"tool_use_id": *msg.ToolCallID,
				"content":     msg.Content,
			},
		}
	}

	// Assistant tool calls become tool_use blocks.
	if len(msg.ToolCalls) > 0 {
		var content []map[string]any
		if s, ok := msg.Content.(string); ok && s != "" {
			content = append(content, map[string]any{
				"type": "text",
				"text": s,
			})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    tc.ID,
				"name":  tc.Function.Name,
				"input": input,
			})
		}
		result["content"] = content
	}

	return result
}

func transformContentPart(part map[string]any) map[string]any {
	partType, _ := part["type"].(string)
	switch partType {
	case "text":
		return part
	case "image_url":
		if imageURL, ok := part["image_url"].(map[string]any); ok {
			url, _ := imageURL["url"].(string)
			return map[string]any{
				"type": "image",
				"source": map[string]any{
					"type": "url",
					"url":  url,
				},
			}
		}
	}
	return part
}

func transformTools(tools []model.Tool) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		result = append(result, map[string]any{
			"name":         tool.Function.Name,
			"description":  tool.Function.Description,
			"input_schema": tool.Function.Parameters,
		})
	}
	return result
}

func transformToolChoice(choice any, parallel *bool) map[string]any {
	out := map[string]any{"type": "auto"}
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			out = map[string]any{"type": "auto"}
		case "required":
			out = map[string]any{"type": "any"}
		case "none":
			out = map[string]any{"type": "none"}
		}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			name, _ := fn["name"].(string)
			out = map[string]any{"type": "tool", "name": name}
		}
	}
	if parallel != nil && !*parallel && out["type"] != "none" {
		out["disable_parallel_tool_use"] = true
	}
	return out
}

// Anthropic response types

type anthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Content      []anthropicContent `json:"content"`
	Model        string             `json:"model"`
	StopReason   *string            `json:"stop_reason"`
	StopSequence *string            `json:"stop_sequence"`
	Usage        anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func transformToOpenAI(resp *anthropicResponse) *model.ModelResponse {
	var finishReason *string
	if resp.StopReason != nil {
		fr := mapStopReason(*resp.StopReason)
		finishReason = &fr
	}

	var textContent string
	var toolCalls []model.ToolCall
	toolIndex := 0

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textContent += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			idx := toolIndex
			toolCalls = append(toolCalls, model.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: model.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(args),
				},
				Index: &idx,
			})
			toolIndex++
		}
	}

	msg := &model.Message{
		Role:    "assistant",
		Content: textContent,
	}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	return &model.ModelResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []model.Choice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: finishReason,
			},
		},
		Usage: model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "stop"
	case "refusal":
		return "content_filter"
	default:
		return reason
	}
}

func (p *Provider) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
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
	provider.Register("anthropic", func(name string, cfg *config.LLMProvider) (provider.Provider, error) {
		return New(name, cfg)
	})
}
