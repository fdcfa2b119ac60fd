// Package metrics exposes policyqa's Prometheus metrics on a dedicated registry.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	UploadsTotal       *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	DocumentsByStatus  *prometheus.GaugeVec
	QueueDepth         prometheus.Gauge
	ChunksIndexedTotal prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ChatRequestsTotal *prometheus.CounterVec
	LLMLatency        *prometheus.HistogramVec

	StartTime time.Time
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{registry: reg, StartTime: time.Now()}

	m.UploadsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "policyqa_uploads_total",
		Help: "Uploaded files by result (accepted, rejected_type, rejected_size, rejected_empty, failed).",
	}, []string{"result"})

	m.TransitionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "policyqa_status_transitions_total",
		Help: "Document status transitions by target status.",
	}, []string{"status"})

	m.StageDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "policyqa_pipeline_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	m.DocumentsByStatus = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "policyqa_documents",
		Help: "Documents currently tracked, by status.",
	}, []string{"status"})

	m.QueueDepth = f.NewGauge(prometheus.GaugeOpts{
		Name: "policyqa_pipeline_queue_depth",
		Help: "Documents waiting for a pipeline worker.",
	})

	m.ChunksIndexedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "policyqa_chunks_indexed_total",
		Help: "Chunks written to the knowledge index.",
	})

	m.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "policyqa_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})

	m.HTTPRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "policyqa_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	m.ChatRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "policyqa_chat_requests_total",
		Help: "Chat questions by outcome.",
	}, []string{"outcome"})

	m.LLMLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "policyqa_llm_latency_seconds",
		Help:    "LLM completion latency by provider.",
		Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
	}, []string{"provider"})

	return m
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordUpload(result string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(to).Inc()
	if from != "" {
		m.DocumentsByStatus.WithLabelValues(from).Dec()
	}
	m.DocumentsByStatus.WithLabelValues(to).Inc()
}

// SeedStatus counts a document found in storage at startup. Unlike
// RecordTransition it leaves the transition counter alone.
func (m *Metrics) SeedStatus(status string) {
	if m == nil {
		return
	}
	m.DocumentsByStatus.WithLabelValues(status).Inc()
}

// RecordRemoval drops a deleted document from the status gauge.
func (m *Metrics) RecordRemoval(status string) {
	if m == nil {
		return
	}
	m.DocumentsByStatus.WithLabelValues(status).Dec()
}

func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RecordChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksIndexedTotal.Add(float64(n))
}

func (m *Metrics) RecordHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) RecordChat(outcome string) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLLM(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMLatency.WithLabelValues(provider).Observe(d.Seconds())
}
