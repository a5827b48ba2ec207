// Package google implements the Google Generative Language dialect:
// assistant→model role mapping, system messages lifted into
// systemInstruction, and functionCall/functionResponse translation.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/provider"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider implements the Google translation layer.
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

func (p *Provider) Type() string { return "google" }

func (p *Provider) SupportsStreaming() bool { return true }

func (p *Provider) TransformRequest(ctx context.Context, req *model.ChatCompletionRequest, apiKey string) (*http.Request, error) {
	body := transformRequestBody(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal google request: %w", err)
	}

	method := "generateContent"
	if req.IsStreaming() {
		method = "streamGenerateContent?alt=sse"
	}

	url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, req.Model, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create google request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)
	return httpReq, nil
}

func (p *Provider) TransformResponse(_ context.Context, resp *http.Response) (*model.ModelResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read google response: %w", err)
	}

	var googleResp googleResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, fmt.Errorf("parse google response: %w", err)
	}

	return transformToOpenAI(&googleResp), nil
}

func transformRequestBody(req *model.ChatCompletionRequest) map[string]any {
	body := map[string]any{
		"contents": transformMessages(req.Messages),
	}

	// System messages are lifted into systemInstruction rather than sent as
	// user turns.
	var systemParts []map[string]any
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if s, ok := msg.Content.(string); ok && s != "" {
				systemParts = append(systemParts, map[string]any{"text": s})
			}
		}
	}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{"parts": systemParts}
	}

	genConfig := map[string]any{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if req.Stop != nil {
		genConfig["stopSequences"] = req.Stop
	}
	if rf, ok := req.ResponseFormat.(map[string]any); ok && rf["type"] == "json_object" {
		genConfig["responseMimeType"] = "application/json"
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	if len(req.Tools) > 0 {
		body["tools"] = []map[string]any{
			{"functionDeclarations": transformTools(req.Tools)},
		}
	}
	if req.ToolChoice != nil {
		if tc := transformToolChoice(req.ToolChoice); tc != nil {
			body["toolConfig"] = tc
		}
	}

	return body
}

func transformMessages(messages []model.Message) []map[string]any {
	// Tool results reference calls by id; Google wants the function name.
	callNames := make(map[string]string)
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			callNames[tc.ID] = tc.Function.Name
		}
	}

	var contents []map[string]any
	for _, msg := range messages {
		if msg.Role == "system" {
			continue // lifted into systemInstruction
		}

		parts := transformContent(msg, callNames)
		if len(parts) > 0 {
			contents = append(contents, map[string]any{
				"role":  mapRole(msg.Role),
				"parts": parts,
			})
		}
	}

	return contents
}

func mapRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "user", "tool":
		return "user"
	default:
		return role
	}
}

func transformContent(msg model.Message, callNames map[string]string) []map[string]any {
	if msg.ToolCallID != nil {
		contentStr, _ := msg.Content.(string)
		name := callNames[*msg.ToolCallID]
		if name == "" {
			name = *msg.ToolCallID
		}
		return []map[string]any{
			{
				"functionResponse": map[string]any{
					"name": name,
					"response": map[string]any{
						"content": contentStr,
					},
				},
			},
		}
	}

	if len(msg.ToolCalls) > 0 {
		var parts []map[string]any
		if s, ok := msg.Content.(string); ok && s != "" {
			parts = append(parts, map[string]any{"text": s})
		}
		for _, tc := range msg.ToolCalls {
			var args any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{
					"name": tc.Function.Name,
					"args": args,
				},
			})
		}
		return parts
	}

	switch content := msg.Content.(type) {
	case string:
		return []map[string]any{{"text": content}}
	case []any:
		var parts []map[string]any
		for _, part := range content {
			if m, ok := part.(map[string]any); ok {
				parts = append(parts, transformContentPart(m))
			}
		}
		return parts
	case nil:
		return nil
	default:
		return []map[string]any{{"text": fmt.Sprintf("%v", content)}}
	}
}

func transformContentPart(part map[string]any) map[string]any {
	partType, _ := part["type"].(string)
	switch partType {
	case "text":
		text, _ := part["text"].(string)
		return map[string]any{"text": text}
	case "image_url":
		if imageURL, ok := part["image_url"].(map[string]any); ok {
			url, _ := imageURL["url"].(string)
			return map[string]any{
				"inlineData": map[string]any{
					"mimeType": "image/jpeg",
					"data":     url,
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
			"name":        tool.Function.Name,
			"description": tool.Function.Description,
			"parameters":  tool.Function.Parameters,
		})
	}
	return result
}

func transformToolChoice(choice any) map[string]any {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return map[string]any{"functionCallingConfig": map[string]any{"mode": "AUTO"}}
		case "required":
			return map[string]any{"functionCallingConfig": map[string]any{"mode": "ANY"}}
		case "none":
			return map[string]any{"functionCallingConfig": map[string]any{"mode": "NONE"}}
		}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			name, _ := fn["name"].(string)
			return map[string]any{
				"functionCallingConfig": map[string]any{
					"mode":                 "ANY",
					"allowedFunctionNames": []string{name},
				},
			}
		}
	}
	return nil
}

// Google response types

type googleResponse struct {
	Candidates    []googleCandidate `json:"candidates"`
	UsageMetadata *googleUsage      `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

type googleCandidate struct {
	Content      googleContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
	Role  string       `json:"role"`
}

type googlePart struct {
	Text         string          `json:"text,omitempty"`
	FunctionCall *googleFuncCall `json:"functionCall,omitempty"`
}

type googleFuncCall struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

type googleUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func transformToOpenAI(resp *googleResponse) *model.ModelResponse {
	var choices []model.Choice

	for i, candidate := range resp.Candidates {
		var textContent strings.Builder
		var toolCalls []model.ToolCall
		toolIndex := 0

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				textContent.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				idx := toolIndex
				toolCalls = append(toolCalls, model.ToolCall{
					ID:   fmt.Sprintf("call_%d", toolIndex),
					Type: "function",
					Function: model.ToolCallFunction{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
					Index: &idx,
				})
				toolIndex++
			}
		}

		finishReason := mapFinishReason(candidate.FinishReason, len(toolCalls) > 0)
		msg := &model.Message{
			Role:    "assistant",
			Content: textContent.String(),
		}
		if len(toolCalls) > 0 {
			msg.ToolCalls = toolCalls
		}

		choices = append(choices, model.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: &finishReason,
		})
	}

	result := &model.ModelResponse{
		Object:  "chat.completion",
		Model:   resp.ModelVersion,
		Choices: choices,
	}

	if resp.UsageMetadata != nil {
		result.Usage = model.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return result
}

func mapFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "content_filter"
	default:
		return "stop"
	}
}

func (p *Provider) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	msg := string(body)
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	return provider.NewUpstreamError(p.name, resp.StatusCode, msg, "api_error")
}

func init() {
	provider.Register("google", func(name string, cfg *config.LLMProvider) (provider.Provider, error) {
		return New(name, cfg)
	})
}
