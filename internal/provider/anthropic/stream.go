package anthropic

import (
	"encoding/json"

	"github.com/jrmatherly/nexus/internal/model"
)

// streamEvent represents an Anthropic SSE event. Each native event maps to
// at most one OpenAI-compatible chunk.
type streamEvent struct {
	Type         string          `json:"type"`
	Message      json.RawMessage `json:"message,omitempty"`
	Index        int             `json:"index,omitempty"`
	ContentBlock json.RawMessage `json:"content_block,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	Usage        *anthropicUsage `json:"usage,omitempty"`
}

// parseStreamEvent folds one Anthropic SSE data payload into an
// OpenAI-compatible StreamChunk. Returns (chunk, isDone, error).
func parseStreamEvent(data []byte) (*model.StreamChunk, bool, error) {
	var event streamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, false, err
	}

	switch event.Type {
	case "message_start":
		return handleMessageStart(event)

	case "content_block_start":
		return handleContentBlockStart(event)

	case "content_block_delta":
		return handleContentBlockDelta(event)

	case "content_block_stop":
		return nil, false, nil

	case "message_delta":
		return handleMessageDelta(event)

	case "message_stop":
		return nil, true, nil

	case "error":
		return nil, true, nil

	default:
		// ping and future event types carry nothing for the client.
		return nil, false, nil
	}
}

func handleMessageStart(event streamEvent) (*model.StreamChunk, bool, error) {
	var msg struct {
		ID    string          `json:"id"`
		Model string          `json:"model"`
		Usage *anthropicUsage `json:"usage"`
	}
	if event.Message != nil {
		_ = json.Unmarshal(event.Message, &msg)
	}

	role := "assistant"
	return &model.StreamChunk{
		ID:     msg.ID,
		Object: "chat.completion.chunk",
		Model:  msg.Model,
		Choices: []model.StreamChoice{
			{
				Index: 0,
				Delta: model.Delta{
					Role: &role,
				},
			},
		},
	}, false, nil
}

func handleContentBlockStart(event streamEvent) (*model.StreamChunk, bool, error) {
	var block struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if event.ContentBlock != nil {
		_ = json.Unmarshal(event.ContentBlock, &block)
	}

	if block.Type == "tool_use" {
		idx := event.Index
		return &model.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []model.StreamChoice{
				{
					Index: 0,
					Delta: model.Delta{
						ToolCalls: []model.ToolCall{
							{
								ID:   block.ID,
								Type: "function",
								Function: model.ToolCallFunction{
									Name:      block.Name,
									Arguments: "",
								},
								Index: &idx,
							},
						},
					},
				},
			},
		}, false, nil
	}

	return nil, false, nil
}

func handleContentBlockDelta(event streamEvent) (*model.StreamChunk, bool, error) {
	var delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	}
	if event.Delta != nil {
		_ = json.Unmarshal(event.Delta, &delta)
	}

	switch delta.Type {
	case "text_delta":
		return &model.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []model.StreamChoice{
				{
					Index: 0,
					Delta: model.Delta{
						Content: &delta.Text,
					},
				},
			},
		}, false, nil

	case "input_json_delta":
		idx := event.Index
		return &model.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []model.StreamChoice{
				{
					Index: 0,
					Delta: model.Delta{
						ToolCalls: []model.ToolCall{
							{
								Function: model.ToolCallFunction{
									Arguments: delta.PartialJSON,
								},
								Index: &idx,
							},
						},
					},
				},
			},
		}, false, nil
	}

	return nil, false, nil
}

// handleMessageDelta carries the finish reason and usage totals; it is the
// final content-bearing chunk before message_stop.
func handleMessageDelta(event streamEvent) (*model.StreamChunk, bool, error) {
	var delta struct {
		StopReason string `json:"stop_reason"`
	}
	if event.Delta != nil {
		_ = json.Unmarshal(event.Delta, &delta)
	}

	finishReason := mapStopReason(delta.StopReason)

	chunk := &model.StreamChunk{
		Object: "chat.completion.chunk",
		Choices: []model.StreamChoice{
			{
				Index:        0,
				Delta:        model.Delta{},
				FinishReason: &finishReason,
			},
		},
	}

	if event.Usage != nil {
		chunk.Usage = &model.Usage{
			PromptTokens:     event.Usage.InputTokens,
			CompletionTokens: event.Usage.OutputTokens,
			TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
		}
	}

	return chunk, false, nil
}
