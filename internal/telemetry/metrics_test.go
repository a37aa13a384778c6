package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m.RequestTotal == nil {
		t.Error("RequestTotal should not be nil")
	}
	if m.RequestDurationMs == nil {
		t.Error("RequestDurationMs should not be nil")
	}
	if m.TokensTotal == nil {
		t.Error("TokensTotal should not be nil")
	}
	if m.CacheLookupTotal == nil {
		t.Error("CacheLookupTotal should not be nil")
	}
	if m.FallbackTotal == nil {
		t.Error("FallbackTotal should not be nil")
	}
	if m.RateLimitHitTotal == nil {
		t.Error("RateLimitHitTotal should not be nil")
	}
}

// testMetrics builds a Metrics on a throwaway registry so tests never
// touch the default one.
func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_jamie_request_total",
			Help: "Test counter",
		}, []string{"route", "model", "provider", "status"}),
		RequestDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "test_jamie_request_duration_ms",
			Help:    "Test histogram",
			Buckets: []float64{100, 500, 1000},
		}, []string{"model", "provider"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_jamie_tokens_total",
			Help: "Test counter",
		}, []string{"model", "direction"}),
		CacheLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_jamie_cache_lookup_total",
			Help: "Test counter",
		}, []string{"result"}),
		FallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_jamie_fallback_total",
			Help: "Test counter",
		}, []string{"from", "to"}),
		RateLimitHitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_jamie_rate_limit_hit_total",
			Help: "Test counter",
		}, []string{"scope"}),
	}
	reg.MustRegister(m.RequestTotal, m.RequestDurationMs, m.TokensTotal,
		m.CacheLookupTotal, m.FallbackTotal, m.RateLimitHitTotal)
	return m
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestRecordRequest(t *testing.T) {
	m := testMetrics(t)

	m.RecordRequest(RequestLabels{
		Route:        "api_chat",
		Model:        "llama3:latest",
		Provider:     "ollama",
		Status:       "success",
		DurationMs:   420,
		InputTokens:  12,
		OutputTokens: 34,
	})

	got := counterValue(t, m.RequestTotal.WithLabelValues("api_chat", "llama3:latest", "ollama", "success"))
	if got != 1 {
		t.Errorf("expected request counter 1, got %v", got)
	}

	prompt := counterValue(t, m.TokensTotal.WithLabelValues("llama3:latest", "prompt"))
	if prompt != 12 {
		t.Errorf("expected 12 prompt tokens, got %v", prompt)
	}
	completion := counterValue(t, m.TokensTotal.WithLabelValues("llama3:latest", "completion"))
	if completion != 34 {
		t.Errorf("expected 34 completion tokens, got %v", completion)
	}
}

func TestRecordRequest_ZeroTokensNotCounted(t *testing.T) {
	m := testMetrics(t)

	m.RecordRequest(RequestLabels{
		Route:    "vapi_webhook",
		Model:    "llama3:latest",
		Provider: "cache",
		Status:   "success",
	})

	prompt := counterValue(t, m.TokensTotal.WithLabelValues("llama3:latest", "prompt"))
	if prompt != 0 {
		t.Errorf("expected no prompt tokens recorded, got %v", prompt)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m := testMetrics(t)

	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("hit")
	m.RecordCacheLookup("miss")

	if got := counterValue(t, m.CacheLookupTotal.WithLabelValues("hit")); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := counterValue(t, m.CacheLookupTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
}

func TestRecordFallback(t *testing.T) {
	m := testMetrics(t)

	m.RecordFallback("ollama", "runpod")

	if got := counterValue(t, m.FallbackTotal.WithLabelValues("ollama", "runpod")); got != 1 {
		t.Errorf("expected 1 fallback, got %v", got)
	}
}

func TestRecordRateLimitHit(t *testing.T) {
	m := testMetrics(t)

	m.RecordRateLimitHit("rpm")

	if got := counterValue(t, m.RateLimitHitTotal.WithLabelValues("rpm")); got != 1 {
		t.Errorf("expected 1 rate limit hit, got %v", got)
	}
}
