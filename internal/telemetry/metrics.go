package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the chat gateway.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	TokensTotal          *prometheus.CounterVec
	UpstreamAttemptTotal *prometheus.CounterVec
	StreamTotal          *prometheus.CounterVec
	StreamChunkTotal     prometheus.Counter
	RateLimitedTotal     prometheus.Counter
	CircuitState         prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_request_total",
			Help: "Chat completion requests by model, mode and response status.",
		}, []string{"model", "stream", "status"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_gateway_request_duration_ms",
			Help:    "Chat completion duration in milliseconds, including upstream latency.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model", "stream"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_tokens_total",
			Help: "Tokens reported by the upstream or estimated by whitespace counting.",
		}, []string{"model", "direction", "source"}),

		UpstreamAttemptTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_upstream_attempt_total",
			Help: "Individual upstream calls by outcome.",
		}, []string{"outcome"}),

		StreamTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_stream_total",
			Help: "Relayed streams by how they ended.",
		}, []string{"outcome"}),

		StreamChunkTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_gateway_stream_chunk_total",
			Help: "Chunks written to streaming callers.",
		}),

		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_gateway_rate_limited_total",
			Help: "Requests rejected by the per-client rate limit.",
		}),

		CircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_gateway_upstream_circuit_state",
			Help: "Upstream circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
	}
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Model            string
	Stream           bool
	Status           int
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
	TokensEstimated  bool
}

// RecordRequest records metrics for a completed chat request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	stream := strconv.FormatBool(labels.Stream)

	m.RequestTotal.WithLabelValues(labels.Model, stream, strconv.Itoa(labels.Status)).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Model, stream).Observe(labels.DurationMs)

	source := "upstream"
	if labels.TokensEstimated {
		source = "estimated"
	}
	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "prompt", source).Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "completion", source).Add(float64(labels.CompletionTokens))
	}
}

// RecordUpstreamAttempt counts one upstream call.
func (m *Metrics) RecordUpstreamAttempt(outcome string) {
	m.UpstreamAttemptTotal.WithLabelValues(outcome).Inc()
}

// RecordStream counts a finished relay and the chunks it wrote.
func (m *Metrics) RecordStream(outcome string, chunks int) {
	m.StreamTotal.WithLabelValues(outcome).Inc()
	m.StreamChunkTotal.Add(float64(chunks))
}

func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

func (m *Metrics) SetCircuitState(state int) {
	m.CircuitState.Set(float64(state))
}
