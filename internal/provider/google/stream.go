package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jrmatherly/nexus/internal/model"
)

// TransformStreamChunk parses a Google streaming response chunk. Google
// streams full generateContent payloads per SSE event; each maps to one
// OpenAI-compatible chunk.
func (p *Provider) TransformStreamChunk(_ context.Context, data []byte) (*model.StreamChunk, bool, error) {
	data = bytes.TrimSpace(data)

	if len(data) == 0 {
		return nil, false, nil
	}

	var resp googleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, err
	}

	if len(resp.Candidates) == 0 {
		return nil, false, nil
	}

	candidate := resp.Candidates[0]

	var delta model.Delta
	hasToolCalls := false

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text := part.Text
			delta.Content = &text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			idx := len(delta.ToolCalls)
			delta.ToolCalls = append(delta.ToolCalls, model.ToolCall{
				ID:   fmt.Sprintf("call_%d", idx),
				Type: "function",
				Function: model.ToolCallFunction{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
				Index: &idx,
			})
			hasToolCalls = true
		}
	}

	var finishReason *string
	if candidate.FinishReason != "" {
		fr := mapFinishReason(candidate.FinishReason, hasToolCalls)
		finishReason = &fr
	}

	chunk := &model.StreamChunk{
		Object: "chat.completion.chunk",
		Model:  resp.ModelVersion,
		Choices: []model.StreamChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
	}

	if resp.UsageMetadata != nil {
		chunk.Usage = &model.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	isDone := finishReason != nil
	return chunk, isDone, nil
}
