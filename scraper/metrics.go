package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "shelf"

// Metrics holds the crawl collectors, registered on a private registry so
// several scrapers can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	SoftBlocks      prometheus.Counter
	Retries         prometheus.Counter
	Errors          *prometheus.CounterVec

	Pages   *prometheus.CounterVec
	Records *prometheus.CounterVec
}

// NewMetrics creates and registers all crawl metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{Registry: registry}
	m.initTransport(factory)
	m.initCrawl(factory)
	return m
}

func (m *Metrics) initTransport(factory promauto.Factory) {
	m.Requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "requests_total",
		Help:      "HTTP requests issued, by kind (listing or detail).",
	}, []string{"kind"})
	m.RequestDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	m.SoftBlocks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "soft_blocks_total",
		Help:      "Verification or access denied pages served instead of content.",
	})
	m.Retries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "retries_total",
		Help:      "Listing attempts scheduled after a transient failure.",
	})
	m.Errors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "errors_total",
		Help:      "Failed attempts by error type.",
	}, []string{"error_type"})
}

func (m *Metrics) initCrawl(factory promauto.Factory) {
	m.Pages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pages_total",
		Help:      "Listing pages by outcome (fetched or failed).",
	}, []string{"outcome"})
	m.Records = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "records_saved_total",
		Help:      "Records upserted into the store, by outcome (new or updated).",
	}, []string{"outcome"})
}

// All recording methods are no-ops on a nil *Metrics.

func (m *Metrics) IncRequest(kind string) {
	if m != nil {
		m.Requests.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m != nil {
		m.RequestDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncSoftBlock() {
	if m != nil {
		m.SoftBlocks.Inc()
	}
}

func (m *Metrics) IncRetries() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) IncError(errorType string) {
	if m != nil {
		m.Errors.WithLabelValues(errorType).Inc()
	}
}

func (m *Metrics) IncPage(outcome string) {
	if m != nil {
		m.Pages.WithLabelValues(outcome).Inc()
	}
}

// AddRecords counts the records one page saved.
func (m *Metrics) AddRecords(created, updated int) {
	if m == nil {
		return
	}
	if created > 0 {
		m.Records.WithLabelValues("new").Add(float64(created))
	}
	if updated > 0 {
		m.Records.WithLabelValues("updated").Add(float64(updated))
	}
}
