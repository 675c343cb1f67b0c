// Package metrics holds the Prometheus collectors for extraction, cache and HTTP.
//
// Every method is safe on a nil *Collector so packages can take metrics as an
// optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
type Collector struct {
	registry *prometheus.Registry

	LLMCalls           *prometheus.CounterVec
	CacheRequests      *prometheus.CounterVec
	ChunksProcessed    prometheus.Counter
	Evidence           *prometheus.CounterVec
	Extractions        *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector on its own registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM completion calls by outcome",
		}, []string{"kind", "result"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Extraction cache lookups by tier and result",
		}, []string{"tier", "result"}),
		ChunksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_processed_total",
			Help:      "Document chunks run through extraction",
		}),
		Evidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_total",
			Help:      "Evidence quotes by location result",
		}, []string{"result"}),
		Extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Document extractions by final status",
		}, []string{"status"}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Wall time of a document extraction",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		c.LLMCalls, c.CacheRequests, c.ChunksProcessed, c.Evidence,
		c.Extractions, c.ExtractionDuration, c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// LLMCall records one completion; kind is "extract" or "contradiction".
func (c *Collector) LLMCall(kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.LLMCalls.WithLabelValues(kind, result).Inc()
}

// CacheLookup records a hit or miss for tier ("document", "chunk", "contradiction", "memory", "redis").
func (c *Collector) CacheLookup(tier string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheRequests.WithLabelValues(tier, result).Inc()
}

// Chunk records one processed chunk.
func (c *Collector) Chunk() {
	if c == nil {
		return
	}
	c.ChunksProcessed.Inc()
}

// EvidenceResult adds located and unverified evidence counts.
func (c *Collector) EvidenceResult(located, unverified int) {
	if c == nil {
		return
	}
	c.Evidence.WithLabelValues("located").Add(float64(located))
	c.Evidence.WithLabelValues("unverified").Add(float64(unverified))
}

// Extraction records a finished extraction and its duration.
func (c *Collector) Extraction(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Extractions.WithLabelValues(status).Inc()
	c.ExtractionDuration.Observe(d.Seconds())
}

// HTTPRequest records one served request.
func (c *Collector) HTTPRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
