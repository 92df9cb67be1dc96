package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Streaming endpoints hold the connection open for the whole generation, so
// the duration buckets run from fast metadata lookups out to multi-minute
// completions. Time to first byte is the latency a streaming client actually
// feels; it gets its own histogram with sub-second resolution.
var (
	durationBuckets  = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	firstByteBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlxd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method, and status",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mlxd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Full request duration, including stream time",
			Buckets:   durationBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpFirstByte = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mlxd",
			Subsystem: "http",
			Name:      "time_to_first_byte_seconds",
			Help:      "Delay before the first response byte was written",
			Buckets:   firstByteBuckets,
		},
		[]string{"path", "method"},
	)

	httpResponseBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlxd",
			Subsystem: "http",
			Name:      "response_bytes_total",
			Help:      "Response body bytes written, per route",
		},
		[]string{"path"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mlxd",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlxd",
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Requests rejected with 429",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		httpFirstByte,
		httpResponseBytes,
		httpInflight,
		backpressureTotal,
	)
}

// responseTracker records status, body size, and the moment of the first
// write. It forwards Flush so SSE and NDJSON handlers keep streaming through
// the middleware stack.
type responseTracker struct {
	http.ResponseWriter
	status    int
	bytes     int64
	firstByte time.Time
}

func (rt *responseTracker) WriteHeader(code int) {
	rt.status = code
	rt.ResponseWriter.WriteHeader(code)
}

func (rt *responseTracker) Write(b []byte) (int, error) {
	if rt.firstByte.IsZero() {
		rt.firstByte = time.Now()
	}
	n, err := rt.ResponseWriter.Write(b)
	rt.bytes += int64(n)
	return n, err
}

func (rt *responseTracker) Flush() {
	if f, ok := rt.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware instruments requests for Prometheus.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routePatternOrPath(r)
		httpInflight.WithLabelValues(path).Inc()
		defer httpInflight.WithLabelValues(path).Dec()

		rt := &responseTracker{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rt, r)

		status := strconv.Itoa(rt.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		httpResponseBytes.WithLabelValues(path).Add(float64(rt.bytes))
		if !rt.firstByte.IsZero() {
			httpFirstByte.WithLabelValues(path, r.Method).Observe(rt.firstByte.Sub(start).Seconds())
		}
	})
}

// routePatternOrPath prefers the chi route pattern to keep label cardinality
// bounded; raw paths appear only for requests that never matched a route.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementBackpressure is called when returning 429 to the client.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}
