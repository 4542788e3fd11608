package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation names used as metric labels
const (
	OpReadSingleItem    = "read_single_item"
	OpReadMultiCategory = "read_multi_category"
	OpWriteItem         = "write_item"
	OpStoreGetItem      = "dynamodb_get_item"
	OpStorePutItem      = "dynamodb_put_item"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Feature operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	FeatureCount      *prometheus.HistogramVec
	UnavailableTotal  *prometheus.CounterVec

	// Storage metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec

	// Dependency probe results, 1 when the last probe succeeded
	DependencyUp *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featurestore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featurestore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featurestore_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featurestore_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Feature operation metrics
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featurestore_operations_total",
				Help: "Total number of feature operations",
			},
			[]string{"operation", "entity_type", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featurestore_operation_duration_seconds",
				Help:    "Feature operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "entity_type"},
		),
		FeatureCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featurestore_feature_count",
				Help:    "Number of features per written category",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"category", "entity_type"},
		),
		UnavailableTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featurestore_unavailable_categories_total",
				Help: "Categories reported unavailable by batch reads",
			},
			[]string{"reason"},
		),

		// Storage metrics
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featurestore_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "entity_type", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "featurestore_store_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "entity_type"},
		),

		// Cache metrics
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featurestore_cache_requests_total",
				Help: "Total number of cache lookups by layer and result",
			},
			[]string{"layer", "result"},
		),

		// Event metrics
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "featurestore_events_published_total",
				Help: "Total number of feature availability events by outcome",
			},
			[]string{"status"},
		),

		DependencyUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "featurestore_dependency_up",
				Help: "Whether the last scheduled probe of a dependency succeeded",
			},
			[]string{"dependency"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.OperationsTotal,
		m.OperationDuration,
		m.FeatureCount,
		m.UnavailableTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheRequestsTotal,
		m.EventsPublishedTotal,
		m.DependencyUp,
	)

	return m
}

// NewNopMetrics returns metrics registered on a throwaway registry.
// Useful for tests and for running with metrics disabled.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveOperation records the outcome and latency of a feature operation
func (m *Metrics) ObserveOperation(operation, entityType, status string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, entityType, status).Inc()
	m.OperationDuration.WithLabelValues(operation, entityType).Observe(time.Since(start).Seconds())
}

// ObserveStore records the outcome and latency of a store call
func (m *Metrics) ObserveStore(operation, entityType, status string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, entityType, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, entityType).Observe(time.Since(start).Seconds())
}

// CacheResult records a cache hit or miss for a layer
func (m *Metrics) CacheResult(layer string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(layer, result).Inc()
}

// EventPublished records the outcome of an event publish
func (m *Metrics) EventPublished(status string) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the matched mux route template so path parameters
// do not blow up label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
