// Package router dispatches OpenAI-compatible chat requests to the
// configured provider adapters: model id parsing, rename resolution, token
// budget pre-checks, header rules, and error unification.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/headers"
	"github.com/jrmatherly/nexus/internal/model"
	"github.com/jrmatherly/nexus/internal/provider"
	"github.com/jrmatherly/nexus/internal/ratelimit"
	"github.com/jrmatherly/nexus/internal/telemetry"
	"github.com/jrmatherly/nexus/internal/token"
)

// forwardedKeyHeader carries a caller-supplied upstream credential when the
// provider has forward_token enabled.
const forwardedKeyHeader = "X-Provider-API-Key"

// defaultConnectTimeout bounds dialing and TLS setup. Overall request
// deadlines come from the caller's context so long-lived streams are not
// cut off mid-flight.
const defaultConnectTimeout = 30 * time.Second

// Handle binds one configured provider entry: the adapter plus its model
// table, rename maps, header rules, and credentials.
type Handle struct {
	provider     provider.Provider
	apiKey       string
	forwardToken bool

	providerRules headers.RuleSet
	modelRules    map[string]headers.RuleSet // raw id → rules

	rawByEffective map[string]string
	effectiveByRaw map[string]string
}

// RequestContext carries the per-request inputs the router needs beyond the
// body: the caller identity and the inbound headers for rule application
// and token forwarding.
type RequestContext struct {
	Identity model.ClientIdentity
	Headers  http.Header
}

// Router owns the provider handles and the model listing cache.
type Router struct {
	handles   map[string]*Handle
	counter   *token.Counter
	limits    *ratelimit.Manager
	telemetry *telemetry.Recorder
	client    *http.Client

	models *modelCache
}

// New builds a router from the LLM config. Every configured provider gets
// an adapter instance; construction failures are startup errors.
func New(cfg *config.LLMConfig, counter *token.Counter, limits *ratelimit.Manager, recorder *telemetry.Recorder) (*Router, error) {
	handles := make(map[string]*Handle, len(cfg.Providers))

	for name, pcfg := range cfg.Providers {
		p, err := provider.New(name, &pcfg)
		if err != nil {
			return nil, fmt.Errorf("llm.providers.%s: %w", name, err)
		}

		providerRules, err := headers.Compile(pcfg.Headers)
		if err != nil {
			return nil, fmt.Errorf("llm.providers.%s: %w", name, err)
		}

		h := &Handle{
			provider:       p,
			apiKey:         pcfg.APIKey,
			forwardToken:   pcfg.ForwardToken,
			providerRules:  providerRules,
			modelRules:     make(map[string]headers.RuleSet),
			rawByEffective: make(map[string]string, len(pcfg.Models)),
			effectiveByRaw: make(map[string]string, len(pcfg.Models)),
		}

		for raw, mcfg := range pcfg.Models {
			effective := raw
			if mcfg.Rename != "" {
				effective = mcfg.Rename
			}
			h.rawByEffective[effective] = raw
			h.effectiveByRaw[raw] = effective

			if len(mcfg.Headers) > 0 {
				rules, err := headers.Compile(mcfg.Headers)
				if err != nil {
					return nil, fmt.Errorf("llm.providers.%s.models.%s: %w", name, raw, err)
				}
				h.modelRules[raw] = rules
			}
		}

		handles[name] = h
	}

	return &Router{
		handles:   handles,
		counter:   counter,
		limits:    limits,
		telemetry: recorder,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   defaultConnectTimeout,
				ResponseHeaderTimeout: defaultConnectTimeout,
			},
		},
		models: newModelCache(5 * time.Minute),
	}, nil
}

// resolve parses the inbound model id and maps it to a handle plus the raw
// upstream model id.
func (r *Router) resolve(fullModel string) (*Handle, string, error) {
	providerName, effective, err := provider.ParseModelID(fullModel)
	if err != nil {
		return nil, "", err
	}

	h, ok := r.handles[providerName]
	if !ok {
		return nil, "", &model.GatewayError{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("provider %q is not configured", providerName),
			Type:       "not_found_error",
			Err:        model.ErrProviderNotFound,
		}
	}

	raw, ok := h.rawByEffective[effective]
	if !ok {
		return nil, "", &model.GatewayError{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("model %q is not configured for provider %q", effective, providerName),
			Type:       "not_found_error",
			Provider:   providerName,
			Model:      fullModel,
			Err:        model.ErrModelNotFound,
		}
	}

	return h, raw, nil
}

// prepare runs the shared pipeline prefix: resolve, token pre-check,
// credential selection, request transformation, header rules. It returns
// the upstream request ready to send and the display model id.
func (r *Router) prepare(ctx context.Context, req *model.ChatCompletionRequest, rc RequestContext) (*Handle, *http.Request, string, error) {
	fullModel := req.Model

	h, raw, err := r.resolve(fullModel)
	if err != nil {
		return nil, nil, "", err
	}
	providerName := h.provider.Name()
	displayModel := providerName + "/" + h.effectiveByRaw[raw]

	tokens := r.counter.CountRequest(h.provider.Type(), raw, req)
	r.telemetry.RecordInputTokens(providerName, raw, tokens)
	if err := r.limits.CheckTokens(ctx, rc.Identity, providerName, raw, uint32(tokens)); err != nil {
		return nil, nil, "", &model.GatewayError{
			StatusCode: http.StatusTooManyRequests,
			Message:    "Token rate limit exceeded. Please try again later.",
			Type:       "rate_limit_error",
			Provider:   providerName,
			Model:      fullModel,
			Err:        model.ErrRateLimitExceeded,
		}
	}

	apiKey, err := h.resolveAPIKey(rc.Headers)
	if err != nil {
		return nil, nil, "", err
	}

	upstreamReq := req
	upstreamReq.Model = raw

	httpReq, err := h.provider.TransformRequest(ctx, upstreamReq, apiKey)
	if err != nil {
		log.Printf("error: transform request for %s: %v", displayModel, err)
		return nil, nil, "", internalError(providerName, fullModel)
	}

	// Header rules never apply to bedrock; config validation already
	// rejects them there.
	h.providerRules.Apply(httpReq.Header, rc.Headers)
	if rules, ok := h.modelRules[raw]; ok {
		rules.Apply(httpReq.Header, rc.Headers)
	}

	return h, httpReq, displayModel, nil
}

// Complete runs a non-streaming chat completion.
func (r *Router) Complete(ctx context.Context, req *model.ChatCompletionRequest, rc RequestContext) (*model.ModelResponse, error) {
	start := time.Now()

	h, httpReq, displayModel, err := r.prepare(ctx, req, rc)
	if err != nil {
		return nil, err
	}
	providerName := h.provider.Name()

	resp, err := r.client.Do(httpReq)
	if err != nil {
		r.telemetry.RecordRequest("chat_completions", providerName, displayModel, http.StatusBadGateway, time.Since(start))
		return nil, &model.GatewayError{
			StatusCode: http.StatusBadGateway,
			Message:    "failed to connect to upstream provider",
			Type:       "api_error",
			Provider:   providerName,
			Model:      displayModel,
			Err:        model.ErrConnection,
		}
	}

	result, err := h.provider.TransformResponse(ctx, resp)
	if err != nil {
		status := http.StatusBadGateway
		var gwErr *model.GatewayError
		if errors.As(err, &gwErr) {
			status = model.HTTPStatus(gwErr.Err)
			gwErr.Model = displayModel
		}
		r.telemetry.RecordRequest("chat_completions", providerName, displayModel, status, time.Since(start))
		return nil, err
	}

	// The caller's id space is provider/effective; never leak the raw id.
	result.Model = displayModel
	if result.Created == 0 {
		result.Created = time.Now().Unix()
	}

	r.telemetry.RecordRequest("chat_completions", providerName, displayModel, http.StatusOK, time.Since(start))
	return result, nil
}

// Stream holds an open upstream streaming response plus what the SSE
// encoder needs to fold it into OpenAI-compatible chunks.
type Stream struct {
	Provider     provider.Provider
	Response     *http.Response
	DisplayModel string
}

// CompleteStream starts a streaming chat completion. The caller owns the
// returned response body and must close it; canceling ctx cancels the
// upstream connection.
func (r *Router) CompleteStream(ctx context.Context, req *model.ChatCompletionRequest, rc RequestContext) (*Stream, error) {
	h, httpReq, displayModel, err := r.prepare(ctx, req, rc)
	if err != nil {
		return nil, err
	}
	providerName := h.provider.Name()

	if !h.provider.SupportsStreaming() {
		return nil, &model.GatewayError{
			StatusCode: http.StatusNotImplemented,
			Message:    fmt.Sprintf("provider %q does not support streaming", providerName),
			Type:       "invalid_request_error",
			Provider:   providerName,
			Model:      displayModel,
			Err:        model.ErrStreamingNotSupported,
		}
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &model.GatewayError{
			StatusCode: http.StatusBadGateway,
			Message:    "failed to connect to upstream provider",
			Type:       "api_error",
			Provider:   providerName,
			Model:      displayModel,
			Err:        model.ErrConnection,
		}
	}

	if resp.StatusCode != http.StatusOK {
		// Delegate error body parsing to the adapter.
		_, err := h.provider.TransformResponse(ctx, resp)
		if err == nil {
			err = internalError(providerName, displayModel)
		}
		return nil, err
	}

	return &Stream{
		Provider:     h.provider,
		Response:     resp,
		DisplayModel: displayModel,
	}, nil
}

// resolveAPIKey picks the upstream credential: a forwarded key when token
// forwarding is on, otherwise the configured key.
func (h *Handle) resolveAPIKey(inbound http.Header) (string, error) {
	if h.provider.Type() == "bedrock" {
		return "", nil // SigV4 credential chain instead of API keys
	}
	if h.forwardToken && inbound != nil {
		if key := inbound.Get(forwardedKeyHeader); key != "" {
			return key, nil
		}
	}
	if h.apiKey != "" {
		return h.apiKey, nil
	}
	return "", &model.GatewayError{
		StatusCode: http.StatusUnauthorized,
		Message:    fmt.Sprintf("no API key available for provider %q", h.provider.Name()),
		Type:       "authentication_error",
		Provider:   h.provider.Name(),
		Err:        model.ErrAuthenticationFailed,
	}
}

func internalError(providerName, modelID string) *model.GatewayError {
	return &model.GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    "internal server error",
		Type:       "internal_error",
		Provider:   providerName,
		Model:      modelID,
		Err:        model.ErrInternal,
	}
}
