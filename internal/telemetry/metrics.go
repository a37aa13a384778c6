package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	TokensTotal       *prometheus.CounterVec
	CacheLookupTotal  *prometheus.CounterVec
	FallbackTotal     *prometheus.CounterVec
	RateLimitHitTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jamie_request_total",
			Help: "Total chat requests processed by the gateway.",
		}, []string{"route", "model", "provider", "status"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jamie_request_duration_ms",
			Help:    "Request duration in milliseconds, including provider latency.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model", "provider"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jamie_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"model", "direction"}),

		CacheLookupTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jamie_cache_lookup_total",
			Help: "Similarity cache lookups by outcome.",
		}, []string{"result"}),

		FallbackTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jamie_fallback_total",
			Help: "Provider fallback hops taken.",
		}, []string{"from", "to"}),

		RateLimitHitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jamie_rate_limit_hit_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
	}
}

// RequestLabels holds the label values for recording a completed request.
type RequestLabels struct {
	Route        string
	Model        string
	Provider     string
	Status       string
	DurationMs   float64
	InputTokens  int
	OutputTokens int
}

func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Route, labels.Model, labels.Provider, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Model, labels.Provider).Observe(labels.DurationMs)

	if labels.InputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "prompt").Add(float64(labels.InputTokens))
	}
	if labels.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "completion").Add(float64(labels.OutputTokens))
	}
}

func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheLookupTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordFallback(from, to string) {
	m.FallbackTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordRateLimitHit(scope string) {
	m.RateLimitHitTotal.WithLabelValues(scope).Inc()
}
