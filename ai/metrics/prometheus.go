// Package metrics provides Prometheus metrics export for the answering pipeline.
//
// All Record methods are safe on a nil *PrometheusExporter, so components can run
// without metrics in tests.
package metrics

import (
	"bytes"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "supportdesk"

// PrometheusExporter exports pipeline metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	escalations    *prometheus.CounterVec

	llmLatency *prometheus.HistogramVec
	llmErrors  *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec

	webhookRejections *prometheus.CounterVec
	historyErrors     *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total number of processed questions by outcome",
		},
		[]string{"platform", "outcome"},
	)

	e.requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "request_latency_seconds",
			Help:      "End-to-end question processing latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"platform"},
	)

	e.escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "escalations_total",
			Help:      "Total number of exchanges handed off to a human operator",
		},
		[]string{"platform", "reason"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Language model call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider"},
	)

	e.llmErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total number of failed language model calls",
		},
		[]string{"provider", "error_type"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "token_type"},
	)

	e.webhookRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "rejections_total",
			Help:      "Total number of rejected webhook deliveries",
		},
		[]string{"platform", "reason"},
	)

	e.historyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "errors_total",
			Help:      "Total number of failed history store operations",
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		e.requests,
		e.requestLatency,
		e.escalations,
		e.llmLatency,
		e.llmErrors,
		e.llmTokens,
		e.webhookRejections,
		e.historyErrors,
	)
	e.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return e
}

// RecordRequest records one processed question. outcome is an answer kind,
// "validation" or "storage_error".
func (e *PrometheusExporter) RecordRequest(platform, outcome string, latency time.Duration) {
	if e == nil {
		return
	}
	e.requests.WithLabelValues(platform, outcome).Inc()
	e.requestLatency.WithLabelValues(platform).Observe(latency.Seconds())
}

func (e *PrometheusExporter) RecordEscalation(platform, reason string) {
	if e == nil {
		return
	}
	e.escalations.WithLabelValues(platform, reason).Inc()
}

// RecordLLMCall records latency, and an error type when errorType is not empty.
func (e *PrometheusExporter) RecordLLMCall(provider string, latency time.Duration, errorType string) {
	if e == nil {
		return
	}
	e.llmLatency.WithLabelValues(provider).Observe(latency.Seconds())
	if errorType != "" {
		e.llmErrors.WithLabelValues(provider, errorType).Inc()
	}
}

func (e *PrometheusExporter) RecordLLMTokens(provider string, prompt, completion int) {
	if e == nil {
		return
	}
	e.llmTokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	e.llmTokens.WithLabelValues(provider, "completion").Add(float64(completion))
}

func (e *PrometheusExporter) RecordWebhookRejection(platform, reason string) {
	if e == nil {
		return
	}
	e.webhookRejections.WithLabelValues(platform, reason).Inc()
}

func (e *PrometheusExporter) RecordHistoryError(operation string) {
	if e == nil {
		return
	}
	e.historyErrors.WithLabelValues(operation).Inc()
}

// Handler returns the HTTP handler serving the registry.
func (e *PrometheusExporter) Handler() http.Handler {
	return e.handler
}

func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.handler.ServeHTTP(w, r)
}

func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

// ExportText renders all metrics in the Prometheus text format.
func (e *PrometheusExporter) ExportText() (string, error) {
	families, err := e.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
