package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// histogram keeps a bounded reservoir of recent samples (milliseconds) for
// percentile reporting, plus running aggregates over all observations. The
// reservoir holds the most recent window; for a local daemon that is a better
// operator signal than all-time percentiles.
const reservoirSize = 1024

type histogram struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool

	count int64
	sum   float64
	min   float64
	max   float64
}

func newHistogram() *histogram {
	return &histogram{samples: make([]float64, 0, reservoirSize), min: math.Inf(1)}
}

func (h *histogram) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += ms
	if ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}
	if len(h.samples) < reservoirSize {
		h.samples = append(h.samples, ms)
	} else {
		h.samples[h.next] = ms
		h.next = (h.next + 1) % reservoirSize
		h.full = true
	}
}

// percentile expects sorted input and q in [0,1].
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (h *histogram) statsLocked() hstats {
	s := hstats{count: h.count, sum: h.sum, min: h.min, max: h.max}
	if h.count == 0 {
		s.min = 0
		return s
	}
	s.mean = h.sum / float64(h.count)

	sorted := make([]float64, len(h.samples))
	copy(sorted, h.samples)
	sort.Float64s(sorted)
	s.p50 = percentile(sorted, 0.50)
	s.p95 = percentile(sorted, 0.95)
	s.p99 = percentile(sorted, 0.99)
	return s
}

type hstats struct {
	count                              int64
	sum, min, max, mean, p50, p95, p99 float64
}

func (h *histogram) snapshot() hstats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statsLocked()
}
