package pipeline

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the pipeline's Prometheus instruments on a private registry
// so the metrics endpoint only exposes what this service owns.
type Metrics struct {
	registry *prometheus.Registry

	IngestedTotal      prometheus.Counter
	ValidationRejected prometheus.Counter
	BackpressureTotal  prometheus.Counter
	ProcessedTotal     prometheus.Counter
	DegradedTotal      prometheus.Counter
	AlertsCreated      prometheus.Counter
	StoreErrors        prometheus.Counter
	ProcessingSeconds  prometheus.Histogram
	QueueDepth         prometheus.GaugeFunc
}

// NewMetrics creates and registers the pipeline instruments. queueDepth is
// sampled on scrape.
func NewMetrics(queueDepth func() float64) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		IngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trap_events_ingested_total",
			Help: "Total number of raw captures accepted into the queue",
		}),
		ValidationRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trap_events_validation_rejected_total",
			Help: "Total number of raw captures rejected by validation",
		}),
		BackpressureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trap_events_backpressure_total",
			Help: "Total number of raw captures rejected because the queue was full",
		}),
		ProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trap_events_processed_total",
			Help: "Total number of events finalized by the worker pool",
		}),
		DegradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trap_events_degraded_total",
			Help: "Total number of events scored with at least one unavailable sub-model",
		}),
		AlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trap_alerts_created_total",
			Help: "Total number of security alerts created",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trap_store_errors_total",
			Help: "Total number of failed event stream writes",
		}),
		ProcessingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trap_event_processing_seconds",
			Help:    "Per-event processing latency from dequeue to persisted",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		QueueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trap_queue_depth",
			Help: "Current number of events waiting in the ingest queue",
		}, queueDepth),
	}

	registry.MustRegister(
		m.IngestedTotal, m.ValidationRejected, m.BackpressureTotal,
		m.ProcessedTotal, m.DegradedTotal, m.AlertsCreated, m.StoreErrors,
		m.ProcessingSeconds, m.QueueDepth,
	)
	return m
}

// Handler returns the scrape handler for the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a standalone metrics server. It returns the server so the
// caller can shut it down.
func (m *Metrics) Serve(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("Metrics server error: %v", err)
		}
	}()
	return srv
}
