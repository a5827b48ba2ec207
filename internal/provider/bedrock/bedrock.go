// Package bedrock implements the AWS Bedrock Converse dialect. Requests
// are signed with SigV4 using the standard SDK credential chain
// (environment, shared profile, IAM role).
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/provider"
)

const defaultRegion = "us-east-1"

// Provider implements the Bedrock Converse translation layer.
type Provider struct {
	name   string
	region string
	signer *requestSigner
}

func New(name string, cfg *config.LLMProvider) (*Provider, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for provider %s: %w", name, err)
	}

	return &Provider{
		name:   name,
		region: region,
		signer: newRequestSigner(awsCfg.Credentials, region),
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Type() string { return "bedrock" }

func (p *Provider) SupportsStreaming() bool { return true }

func (p *Provider) TransformRequest(ctx context.Context, req *model.ChatCompletionRequest, _ string) (*http.Request, error) {
	body := transformRequestBody(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	action := "converse"
	if req.IsStreaming() {
		action = "converse-stream"
	}
	endpoint := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/%s",
		p.region, url.PathEscape(req.Model), action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create bedrock request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if err := p.signer.sign(ctx, httpReq, data); err != nil {
		return nil, fmt.Errorf("sign bedrock request: %w", err)
	}

	return httpReq, nil
}

func (p *Provider) TransformResponse(_ context.Context, resp *http.Response) (*model.ModelResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bedrock response: %w", err)
	}

	var converseResp converseResponse
	if err := json.Unmarshal(body, &converseResp); err != nil {
		return nil, fmt.Errorf("parse bedrock response: %w", err)
	}

	return transformToOpenAI(&converseResp), nil
}

// transformRequestBody converts OpenAI format to Bedrock ConverseInput.
func transformRequestBody(req *model.ChatCompletionRequest) map[string]any {
	body := map[string]any{
		"messages": transformMessages(req.Messages),
	}

	inferenceConfig := map[string]any{}
	if req.MaxTokens != nil {
		inferenceConfig["maxTokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		inferenceConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		inferenceConfig["topP"] = *req.TopP
	}
	if req.Stop != nil {
		inferenceConfig["stopSequences"] = req.Stop
	}
	if len(inferenceConfig) > 0 {
		body["inferenceConfig"] = inferenceConfig
	}

	var systemPrompts []map[string]any
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if s, ok := msg.Content.(string); ok {
				systemPrompts = append(systemPrompts, map[string]any{
					"text": s,
				})
			}
		}
	}
	if len(systemPrompts) > 0 {
		body["system"] = systemPrompts
	}

	if len(req.Tools) > 0 {
		toolConfig := map[string]any{
			"tools": transformTools(req.Tools),
		}
		if tc := transformToolChoice(req.ToolChoice); tc != nil {
			toolConfig["toolChoice"] = tc
		}
		body["toolConfig"] = toolConfig
	}

	return body
}

func transformMessages(messages []model.Message) []map[string]any {
	var result []map[string]any

	for _, msg := range messages {
		if msg.Role == "system" {
			continue // carried in the top-level system field
		}

		converseMsg := map[string]any{
			"role": mapRole(msg.Role),
		}

		content := transformContent(msg)
		if len(content) > 0 {
			converseMsg["content"] = content
		}

		result = append(result, converseMsg)
	}

	return result
}

func mapRole(role string) string {
	switch role {
	case "assistant":
		return "assistant"
	default:
		return "user"
	}
}

func transformContent(msg model.Message) []map[string]any {
	if msg.ToolCallID != nil {
		contentStr, _ := msg.Content.(string)
		return []map[string]any{
			{
				"toolResult": map[string]any{
					"toolUseId": *msg.ToolCallID,
					"content": []map[string]any{
						{"text": contentStr},
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
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			parts = append(parts, map[string]any{
				"toolUse": map[string]any{
					"toolUseId": tc.ID,
					"name":      tc.Function.Name,
					"input":     input,
				},
			})
		}
		return parts
	}

	switch content := msg.Content.(type) {
	case string:
		return []map[string]any{{"text": content}}
	case nil:
		return nil
	default:
		return []map[string]any{{"text": fmt.Sprintf("%v", content)}}
	}
}

func transformTools(tools []model.Tool) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		result = append(result, map[string]any{
			"toolSpec": map[string]any{
				"name":        tool.Function.Name,
				"description": tool.Function.Description,
				"inputSchema": map[string]any{
					"json": tool.Function.Parameters,
				},
			},
		})
	}
	return result
}

func transformToolChoice(choice any) map[string]any {
	switch v := choice.(type) {
	case string:
		switch v {
		case "required":
			return map[string]any{"any": map[string]any{}}
		case "auto":
			return map[string]any{"auto": map[string]any{}}
		}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			name, _ := fn["name"].(string)
			return map[string]any{"tool": map[string]any{"name": name}}
		}
	}
	return nil
}

// Bedrock ConverseOutput types

type converseResponse struct {
	Output     converseOutput `json:"output"`
	StopReason string         `json:"stopReason"`
	Usage      converseUsage  `json:"usage"`
}

type converseOutput struct {
	Message converseMessage `json:"message"`
}

type converseMessage struct {
	Role    string            `json:"role"`
	Content []converseContent `json:"content"`
}

type converseContent struct {
	Text    string           `json:"text,omitempty"`
	ToolUse *converseToolUse `json:"toolUse,omitempty"`
}

type converseToolUse struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
}

type converseUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

func transformToOpenAI(resp *converseResponse) *model.ModelResponse {
	finishReason := mapStopReason(resp.StopReason)

	var textContent strings.Builder
	var toolCalls []model.ToolCall
	toolIndex := 0

	for _, block := range resp.Output.Message.Content {
		if block.Text != "" {
			textContent.WriteString(block.Text)
		}
		if block.ToolUse != nil {
			args, _ := json.Marshal(block.ToolUse.Input)
			idx := toolIndex
			toolCalls = append(toolCalls, model.ToolCall{
				ID:   block.ToolUse.ToolUseID,
				Type: "function",
				Function: model.ToolCallFunction{
					Name:      block.ToolUse.Name,
					Arguments: string(args),
				},
				Index: &idx,
			})
			toolIndex++
		}
	}

	msg := &model.Message{
		Role:    "assistant",
		Content: textContent.String(),
	}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	return &model.ModelResponse{
		Object: "chat.completion",
		Choices: []model.Choice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: &finishReason,
			},
		},
		Usage: model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
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
	case "content_filtered", "guardrail_intervened":
		return "content_filter"
	default:
		return reason
	}
}

func (p *Provider) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	msg := string(body)
	var errResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		msg = errResp.Message
	}

	return provider.NewUpstreamError(p.name, resp.StatusCode, msg, "api_error")
}

func init() {
	provider.Register("bedrock", func(name string, cfg *config.LLMProvider) (provider.Provider, error) {
		return New(name, cfg)
	})
}
