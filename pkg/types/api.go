package types

// ErrorResponse is the consistent JSON error payload for non-OpenAI routes.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string          `json:"status"`
	RegistryOK     bool            `json:"registry_ok"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	ServerTimeUnix int64           `json:"server_time_unix"`
	Workers        []WorkerStatus  `json:"workers"`
	Scheduler      SchedulerStatus `json:"scheduler"`
	Memory         MemoryStatus    `json:"memory"`
	Metrics        MetricsSnapshot `json:"metrics"`
}

// WorkerStatus summarizes one worker slot for /health.
type WorkerStatus struct {
	Slot     int    `json:"slot"`
	Model    string `json:"model,omitempty"`
	Busy     bool   `json:"busy"`
	LastUsed int64  `json:"last_used_unix,omitempty"`
}

// SchedulerStatus summarizes the scheduler for /health.
type SchedulerStatus struct {
	QueueDepth    int      `json:"queue_depth"`
	MaxQueueDepth int      `json:"max_queue_depth"`
	BusyWorkers   int      `json:"busy_workers"`
	Unavailable   []string `json:"unavailable_models,omitempty"`
}

// MemoryStatus reports host memory, sourced from gopsutil.
type MemoryStatus struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// HistogramStats is a point-in-time latency distribution summary.
type HistogramStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum_ms"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// MetricsSnapshot is a consistent read of all collector values.
type MetricsSnapshot struct {
	RequestsReceived  int64          `json:"requests_received"`
	RequestsCompleted int64          `json:"requests_completed"`
	RequestsFailed    int64          `json:"requests_failed"`
	RequestsCancelled int64          `json:"requests_cancelled"`
	RequestsRejected  int64          `json:"requests_rejected"`
	TokensGenerated   int64          `json:"tokens_generated"`
	ModelsLoaded      int64          `json:"models_loaded"`
	ModelLoads        int64          `json:"model_loads_total"`
	ModelEvictions    int64          `json:"model_evictions_total"`
	QueueDepth        int64          `json:"queue_depth"`
	BusyWorkers       int64          `json:"busy_workers"`
	RequestLatency    HistogramStats `json:"request_latency"`
	TimeToFirstToken  HistogramStats `json:"time_to_first_token"`
}
