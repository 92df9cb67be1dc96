// Package metrics aggregates serving counters two ways at once: lock-free
// atomics feeding the JSON snapshot endpoint, and mirrored Prometheus
// collectors for scrape-based monitoring.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mlxd/pkg/types"
)

// Collector is the daemon-wide metrics sink. All methods are safe for
// concurrent use.
type Collector struct {
	received  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	rejected  atomic.Int64

	tokensGenerated atomic.Int64
	modelLoads      atomic.Int64
	modelEvictions  atomic.Int64
	modelsLoaded    atomic.Int64

	queueDepth  atomic.Int64
	busyWorkers atomic.Int64

	latency *histogram
	ttft    *histogram

	promRequests  *prometheus.CounterVec
	promTokens    prometheus.Counter
	promLoads     prometheus.Counter
	promEvictions prometheus.Counter
	promLoaded    prometheus.Gauge
	promQueue     prometheus.Gauge
	promBusy      prometheus.Gauge
	promLatency   prometheus.Histogram
	promTTFT      prometheus.Histogram
}

// New builds a Collector and registers its Prometheus mirrors on reg. Pass
// prometheus.DefaultRegisterer in the daemon; tests use a fresh registry.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		latency: newHistogram(),
		ttft:    newHistogram(),
		promRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "requests_total",
			Help: "Inference requests by outcome",
		}, []string{"outcome"}),
		promTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "tokens_generated_total",
			Help: "Completion tokens streamed to clients",
		}),
		promLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "model_loads_total",
			Help: "Model load operations",
		}),
		promEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "model_evictions_total",
			Help: "Models displaced to make room for another",
		}),
		promLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "models_loaded",
			Help: "Models currently resident on workers",
		}),
		promQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "queue_depth",
			Help: "Requests waiting for a worker",
		}),
		promBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "busy_workers",
			Help: "Workers currently serving a request",
		}),
		promLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "request_duration_seconds",
			Help:    "End-to-end inference request duration",
			Buckets: prometheus.DefBuckets,
		}),
		promTTFT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mlxd", Subsystem: "scheduler", Name: "time_to_first_token_seconds",
			Help:    "Admission-to-first-token latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(c.promRequests, c.promTokens, c.promLoads, c.promEvictions,
			c.promLoaded, c.promQueue, c.promBusy, c.promLatency, c.promTTFT)
	}
	return c
}

// RequestReceived counts an accepted request entering admission.
func (c *Collector) RequestReceived() {
	c.received.Add(1)
}

// RequestCompleted records a successful generation with its latencies and
// completion token count.
func (c *Collector) RequestCompleted(latency, ttft time.Duration, tokens int) {
	c.completed.Add(1)
	c.tokensGenerated.Add(int64(tokens))
	c.latency.observe(latency)
	c.promRequests.WithLabelValues("completed").Inc()
	c.promTokens.Add(float64(tokens))
	c.promLatency.Observe(latency.Seconds())
	if ttft > 0 {
		c.ttft.observe(ttft)
		c.promTTFT.Observe(ttft.Seconds())
	}
}

// RequestFailed counts an engine or internal failure.
func (c *Collector) RequestFailed() {
	c.failed.Add(1)
	c.promRequests.WithLabelValues("failed").Inc()
}

// RequestCancelled counts a client-initiated cancellation.
func (c *Collector) RequestCancelled() {
	c.cancelled.Add(1)
	c.promRequests.WithLabelValues("cancelled").Inc()
}

// RequestRejected counts a backpressure or unavailable rejection.
func (c *Collector) RequestRejected() {
	c.rejected.Add(1)
	c.promRequests.WithLabelValues("rejected").Inc()
}

// ModelLoaded records a completed load and bumps the resident gauge.
func (c *Collector) ModelLoaded() {
	c.modelLoads.Add(1)
	c.modelsLoaded.Add(1)
	c.promLoads.Inc()
	c.promLoaded.Inc()
}

// ModelEvicted records a displacement and drops the resident gauge.
func (c *Collector) ModelEvicted() {
	c.modelEvictions.Add(1)
	c.modelsLoaded.Add(-1)
	c.promEvictions.Inc()
	c.promLoaded.Dec()
}

// ModelUnloaded drops the resident gauge without counting an eviction.
func (c *Collector) ModelUnloaded() {
	c.modelsLoaded.Add(-1)
	c.promLoaded.Dec()
}

// SetQueueDepth publishes the current admission queue length.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Store(int64(n))
	c.promQueue.Set(float64(n))
}

// SetBusyWorkers publishes the current busy worker count.
func (c *Collector) SetBusyWorkers(n int) {
	c.busyWorkers.Store(int64(n))
	c.promBusy.Set(float64(n))
}

// Snapshot returns a point-in-time copy of every counter and histogram.
func (c *Collector) Snapshot() types.MetricsSnapshot {
	return types.MetricsSnapshot{
		RequestsReceived:  c.received.Load(),
		RequestsCompleted: c.completed.Load(),
		RequestsFailed:    c.failed.Load(),
		RequestsCancelled: c.cancelled.Load(),
		RequestsRejected:  c.rejected.Load(),
		TokensGenerated:   c.tokensGenerated.Load(),
		ModelLoads:        c.modelLoads.Load(),
		ModelEvictions:    c.modelEvictions.Load(),
		ModelsLoaded:      c.modelsLoaded.Load(),
		QueueDepth:        c.queueDepth.Load(),
		BusyWorkers:       c.busyWorkers.Load(),
		RequestLatency:    toHistogramStats(c.latency.snapshot()),
		TimeToFirstToken:  toHistogramStats(c.ttft.snapshot()),
	}
}

func toHistogramStats(s hstats) types.HistogramStats {
	return types.HistogramStats{
		Count: s.count,
		Sum:   s.sum,
		Min:   s.min,
		Max:   s.max,
		Mean:  s.mean,
		P50:   s.p50,
		P95:   s.p95,
		P99:   s.p99,
	}
}
