package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for the ingestion and annotation
// pipeline plus inbound HTTP requests on the admin surface.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	stageDuration *prometheus.HistogramVec
	stageTotal    *prometheus.CounterVec

	itemsIngested  *prometheus.CounterVec
	quotaHaltTotal prometheus.Counter
	crawlBatches   prometheus.Counter

	publishFailures *prometheus.CounterVec
	topicJobsTotal  *prometheus.CounterVec
}

// NewCollector constructs a collector with default histograms/counters.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hotsignals",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hotsignals",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hotsignals",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Latency distribution per annotation stage execution.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	stageTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hotsignals",
		Subsystem: "pipeline",
		Name:      "stage_total",
		Help:      "Total annotation stage executions by outcome.",
	}, []string{"stage", "outcome"})

	itemsIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hotsignals",
		Subsystem: "ingestion",
		Name:      "items_total",
		Help:      "Total items published to the ingest stream by platform.",
	}, []string{"platform"})

	quotaHaltTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hotsignals",
		Subsystem: "ingestion",
		Name:      "quota_halts_total",
		Help:      "Times the source poller stopped early on an exhausted quota.",
	})

	crawlBatches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hotsignals",
		Subsystem: "ingestion",
		Name:      "crawl_batches_total",
		Help:      "Comment batches flushed by the tree crawler.",
	})

	publishFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hotsignals",
		Subsystem: "publisher",
		Name:      "failed_entries_total",
		Help:      "Result bus entries rejected during publication.",
	}, []string{"detail_type"})

	topicJobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hotsignals",
		Subsystem: "topics",
		Name:      "jobs_total",
		Help:      "Topic model jobs by terminal status.",
	}, []string{"platform", "status"})

	collectors := []prometheus.Collector{
		requestDuration,
		requestTotal,
		stageDuration,
		stageTotal,
		itemsIngested,
		quotaHaltTotal,
		crawlBatches,
		publishFailures,
		topicJobsTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		stageDuration:   stageDuration,
		stageTotal:      stageTotal,
		itemsIngested:   itemsIngested,
		quotaHaltTotal:  quotaHaltTotal,
		crawlBatches:    crawlBatches,
		publishFailures: publishFailures,
		topicJobsTotal:  topicJobsTotal,
	}, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage execution with its outcome and duration.
func (c *Collector) ObserveStage(stage, outcome string, duration time.Duration) {
	c.stageTotal.WithLabelValues(stage, outcome).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// AddIngested increments the per-platform ingested item counter.
func (c *Collector) AddIngested(platform string, n int) {
	c.itemsIngested.WithLabelValues(platform).Add(float64(n))
}

// QuotaHalt marks a poller invocation cut short by quota exhaustion.
func (c *Collector) QuotaHalt() {
	c.quotaHaltTotal.Inc()
}

// CrawlBatchFlushed marks one crawler batch handed to the stream.
func (c *Collector) CrawlBatchFlushed() {
	c.crawlBatches.Inc()
}

// AddPublishFailures records rejected result-bus entries for a detail type.
func (c *Collector) AddPublishFailures(detailType string, n int) {
	c.publishFailures.WithLabelValues(detailType).Add(float64(n))
}

// TopicJobFinished records a topic model job reaching a terminal status.
func (c *Collector) TopicJobFinished(platform, status string) {
	c.topicJobsTotal.WithLabelValues(platform, status).Inc()
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
