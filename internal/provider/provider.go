// Package provider defines the translation layer between the gateway's
// OpenAI-compatible schema and each upstream LLM dialect.
package provider

import (
	"context"
	"net/http"

	"github.com/jrmatherly/nexus/internal/model"
)

// Provider is implemented once per upstream dialect. A Provider instance is
// bound to one configured provider entry (name, base URL, credentials).
type Provider interface {
	// Name returns the configured provider name (the left side of
	// "provider/model" ids).
	Name() string

	// Type returns the dialect family: openai, anthropic, google, bedrock.
	Type() string

	// TransformRequest converts an OpenAI-compatible request into a
	// provider-native HTTP request. The request's Model field must already
	// hold the raw upstream id.
	TransformRequest(ctx context.Context, req *model.ChatCompletionRequest, apiKey string) (*http.Request, error)

	// TransformResponse converts a provider-native HTTP response into an
	// OpenAI-compatible ModelResponse.
	TransformResponse(ctx context.Context, resp *http.Response) (*model.ModelResponse, error)

	// TransformStreamChunk converts a single SSE data payload from the
	// provider into an OpenAI-compatible StreamChunk. A nil chunk with no
	// error means the event carries nothing for the client.
	TransformStreamChunk(ctx context.Context, data []byte) (*model.StreamChunk, bool, error)

	// SupportsStreaming reports whether chat_completion_stream is available.
	SupportsStreaming() bool
}

// NewUpstreamError wraps a provider-native error body as a GatewayError;
// shared helper used by every adapter.
func NewUpstreamError(providerName string, status int, message, errType string) *model.GatewayError {
	return &model.GatewayError{
		StatusCode: status,
		Message:    message,
		Type:       errType,
		Provider:   providerName,
		Err:        model.MapUpstreamStatus(status),
	}
}
