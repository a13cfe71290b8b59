package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sakenny"

// Metrics exports pipeline and HTTP metrics on a dedicated Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	embeddings      *prometheus.CounterVec
	embeddingLength prometheus.Histogram
	embeddingTime   *prometheus.HistogramVec
	searches        *prometheus.CounterVec
	searchResults   *prometheus.HistogramVec
	searchTopScore  *prometheus.HistogramVec
	searchTime      *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestTime     *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Embeddings generated, by model.",
		}, []string{"model"}),
		embeddingLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_text_length_chars",
			Help:      "Length of the text sent to the embedder.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}),
		embeddingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Time spent generating one embedding.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Similarity searches served, by kind.",
		}, []string{"kind"}),
		searchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}, []string{"kind"}),
		searchTopScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_top_similarity",
			Help:      "Similarity score of the best hit of non-empty searches.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"kind"}),
		searchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency including the query embedding.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.embeddings, m.embeddingLength, m.embeddingTime,
		m.searches, m.searchResults, m.searchTopScore, m.searchTime,
		m.requests, m.requestTime,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EmbeddingGenerated(e EmbeddingEvent) {
	m.embeddings.WithLabelValues(e.Model).Inc()
	m.embeddingLength.Observe(float64(e.TextLength))
	m.embeddingTime.WithLabelValues(e.Model).Observe(e.Duration.Seconds())
}

func (m *Metrics) SearchPerformed(e SearchEvent) {
	m.searches.WithLabelValues(e.Kind).Inc()
	m.searchResults.WithLabelValues(e.Kind).Observe(float64(e.Results))
	if e.Results > 0 {
		m.searchTopScore.WithLabelValues(e.Kind).Observe(e.TopScore)
	}
	m.searchTime.WithLabelValues(e.Kind).Observe(e.Duration.Seconds())
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestTime.WithLabelValues(method, route).Observe(d.Seconds())
}
