// Package token estimates input token counts for chat completion requests.
// The estimate is deterministic and pre-flight only: it covers the request's
// messages and tool schemas, never the response.
package token

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jrmatherly/nexus/internal/model"
)

// Counter provides token counting for chat completion requests.
// Caches tiktoken encoders per encoding for efficiency.
type Counter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// New creates a new token counter.
func New() *Counter {
	return &Counter{
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// Per-message overhead constants. OpenAI's documented chat format primes
// each message with role framing tokens and each reply with an assistant
// header.
const (
	tokensPerMessage = 3
	tokensPerName    = 1
	replyPrimer      = 3
)

// CountRequest estimates the input tokens of req for the given provider
// type. OpenAI-family models use tiktoken; Anthropic, Google and Bedrock
// use a length/4 estimate with the same per-message overhead, since their
// tokenizers are not distributable. The choice is recorded in DESIGN.md.
func (c *Counter) CountRequest(providerType, rawModel string, req *model.ChatCompletionRequest) int {
	enc := c.encoderFor(providerType, rawModel)

	total := 0
	for _, msg := range req.Messages {
		total += tokensPerMessage
		total += c.countText(enc, msg.Role)
		total += c.countText(enc, contentText(msg.Content))
		if msg.Name != nil {
			total += tokensPerName + c.countText(enc, *msg.Name)
		}
		for _, tc := range msg.ToolCalls {
			total += c.countText(enc, tc.Function.Name)
			total += c.countText(enc, tc.Function.Arguments)
		}
	}

	for _, tool := range req.Tools {
		total += c.countText(enc, tool.Function.Name)
		total += c.countText(enc, tool.Function.Description)
		if tool.Function.Parameters != nil {
			schema, err := json.Marshal(tool.Function.Parameters)
			if err == nil {
				total += c.countText(enc, string(schema))
			}
		}
	}

	total += replyPrimer
	return total
}

// contentText flattens string or multimodal content into counted text.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				sb.WriteString(text)
			}
		}
		return sb.String()
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

func (c *Counter) countText(enc *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Rough character heuristic for providers without a local tokenizer.
	n := (len(text) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// encoderFor returns a tiktoken encoder for OpenAI-family models, nil
// otherwise.
func (c *Counter) encoderFor(providerType, rawModel string) *tiktoken.Tiktoken {
	if providerType != "openai" {
		return nil
	}
	encoding := modelToEncoding(rawModel)
	if encoding == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[encoding]; ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil
	}

	c.encoders[encoding] = enc
	return enc
}

// modelToEncoding maps model names to tiktoken encoding names.
// Returns empty string for unsupported models.
func modelToEncoding(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-4.5"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "chatgpt-4o"):
		return "o200k_base"

	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"):
		return "cl100k_base"

	default:
		if strings.Contains(model, "gpt") {
			return "o200k_base"
		}
		return ""
	}
}
