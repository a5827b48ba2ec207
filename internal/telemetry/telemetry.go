// Package telemetry wraps the Prometheus histograms recorded by the
// gateway. The recorder is process-global, initialized once at startup.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the gateway's metric instruments.
type Recorder struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	inputTokens     *prometheus.HistogramVec
	toolCalls       *prometheus.HistogramVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_request_duration_seconds",
			Help:    "Latency of proxied requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "provider", "model", "status"}),
		inputTokens: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_input_tokens",
			Help:    "Estimated input tokens per LLM request.",
			Buckets: prometheus.ExponentialBuckets(16, 2, 14),
		}, []string{"provider", "model"}),
		toolCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_tool_call_duration_seconds",
			Help:    "Latency of downstream MCP tool calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server", "tool", "status"}),
	}

	registry.MustRegister(r.requestDuration, r.inputTokens, r.toolCalls)
	return r
}

// RecordRequest records one proxied request.
func (r *Recorder) RecordRequest(route, provider, model string, status int, elapsed time.Duration) {
	r.requestDuration.WithLabelValues(route, provider, model, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordInputTokens records the pre-flight token estimate for a request.
func (r *Recorder) RecordInputTokens(provider, model string, tokens int) {
	r.inputTokens.WithLabelValues(provider, model).Observe(float64(tokens))
}

// RecordToolCall records one downstream tool dispatch.
func (r *Recorder) RecordToolCall(server, tool, status string, elapsed time.Duration) {
	r.toolCalls.WithLabelValues(server, tool, status).Observe(elapsed.Seconds())
}

// Handler serves the recorder's registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
