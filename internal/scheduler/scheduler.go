// Package scheduler owns request admission and the worker bindings. It is the
// single entry point for inference: the HTTP layer translates wire formats
// into jobs and hands them here, regardless of which API surface they arrived
// on.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mlxd/internal/engine"
	"mlxd/internal/metrics"
	"mlxd/internal/registry"
	"mlxd/internal/worker"
	"mlxd/pkg/types"
)

// consecutiveFailureLimit disables a model after this many engine failures in
// a row with no intervening success. An operator reload re-enables it.
const consecutiveFailureLimit = 3

// Config carries the scheduler's tunables.
type Config struct {
	Workers        int
	MaxQueueDepth  int
	RequestTimeout time.Duration
	ContextSize    int
	Threads        int
}

// Scheduler mediates between requests, the worker pool, the registry, and
// the engine.
type Scheduler struct {
	cfg  Config
	reg  *registry.Registry
	eng  engine.Engine
	pool *worker.Pool
	met  *metrics.Collector
	log  zerolog.Logger

	mu          sync.Mutex
	queue       []*waiter
	failures    map[string]int
	unavailable map[string]bool
	closed      bool
}

// New builds a scheduler with a fresh worker pool.
func New(cfg Config, reg *registry.Registry, eng engine.Engine, met *metrics.Collector, log zerolog.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxQueueDepth < 0 {
		cfg.MaxQueueDepth = 0
	}
	return &Scheduler{
		cfg:         cfg,
		reg:         reg,
		eng:         eng,
		pool:        worker.NewPool(cfg.Workers, log),
		met:         met,
		log:         log.With().Str("component", "scheduler").Logger(),
		failures:    make(map[string]int),
		unavailable: make(map[string]bool),
	}
}

// Close stops admitting requests and unbinds every worker. In-flight
// generations are cancelled by their own contexts at server shutdown.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	waiters := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, wt := range waiters {
		close(wt.ready)
	}
	s.pool.Close()
}

// EngineName reports the active backend.
func (s *Scheduler) EngineName() string { return s.eng.Name() }

// Registry pass-throughs. The HTTP layer talks only to the scheduler, so
// metadata reads route through here.

func (s *Scheduler) ListModels(opts registry.QueryOptions) ([]registry.ModelInfo, error) {
	return s.reg.ListModels(opts)
}

func (s *Scheduler) GetModelByIdentifier(identifier string) (registry.ModelInfo, bool) {
	return s.reg.GetModelByIdentifier(identifier)
}

func (s *Scheduler) GetTags(modelID int64) (map[string]string, error) {
	return s.reg.GetTags(modelID)
}

func (s *Scheduler) GetAdapters(modelID int64) ([]registry.AdapterInfo, error) {
	return s.reg.GetAdapters(modelID)
}

func (s *Scheduler) RegistryHealthy() bool { return s.reg.HealthCheck() }

func (s *Scheduler) RegistryStats() (registry.Stats, error) { return s.reg.GetStats() }

// RemoveModel deletes a model from the registry, first unbinding it from any
// idle worker. It fails with Backpressure if the model is mid-generation.
func (s *Scheduler) RemoveModel(identifier string, deleteFile bool) error {
	m, ok := s.reg.GetModelByIdentifier(identifier)
	if !ok {
		return registry.ErrNotFound("model " + identifier)
	}
	// Check-and-unbind is atomic per worker; a generation that claims the
	// worker first keeps its handle and we refuse instead.
	for _, w := range s.pool.Workers() {
		unbound, busy := s.pool.UnbindIfIdle(w, m.ID)
		if busy {
			return ErrBackpressure("model " + identifier + " is serving a request")
		}
		if unbound {
			s.met.ModelUnloaded()
			s.setLoadedAsync(m.ID, false)
		}
	}
	return s.reg.RemoveModel(m.ID, deleteFile)
}

// ReloadModel clears the unavailable flag and failure count for a model,
// re-admitting requests for it. The next request triggers the actual load.
func (s *Scheduler) ReloadModel(identifier string) error {
	if _, ok := s.reg.GetModelByIdentifier(identifier); !ok {
		return registry.ErrNotFound("model " + identifier)
	}
	s.mu.Lock()
	delete(s.unavailable, identifier)
	delete(s.failures, identifier)
	s.mu.Unlock()
	s.log.Info().Str("model", identifier).Msg("model re-enabled by operator")
	return nil
}

// Workers returns a point-in-time view of every slot.
func (s *Scheduler) Workers() []worker.Status { return s.pool.Snapshot() }

// Status summarizes queue and pool occupancy.
func (s *Scheduler) Status() types.SchedulerStatus {
	s.mu.Lock()
	depth := len(s.queue)
	var unavailable []string
	for id := range s.unavailable {
		unavailable = append(unavailable, id)
	}
	s.mu.Unlock()
	return types.SchedulerStatus{
		QueueDepth:    depth,
		MaxQueueDepth: s.cfg.MaxQueueDepth,
		BusyWorkers:   s.pool.BusyCount(),
		Unavailable:   unavailable,
	}
}

// Metrics returns the collector snapshot.
func (s *Scheduler) Metrics() types.MetricsSnapshot { return s.met.Snapshot() }

func (s *Scheduler) setLoadedAsync(modelID int64, loaded bool) {
	go s.reg.SetModelLoaded(modelID, loaded)
}

func (s *Scheduler) touchAsync(modelID int64) {
	go s.reg.TouchModel(modelID)
}
