// Package worker tracks the fixed set of inference slots. Each worker holds
// at most one resident model handle and serves at most one request at a time;
// the scheduler owns admission and calls into the pool to acquire, bind, and
// release slots.
package worker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mlxd/internal/engine"
	"mlxd/internal/registry"
)

// Bound is a model resident on a worker.
type Bound struct {
	Model  registry.ModelInfo
	Handle engine.Handle
	Since  time.Time
}

// Worker is one inference slot. All fields are guarded by the pool mutex;
// only the request that acquired a worker may use its handle.
type Worker struct {
	id       int
	bound    *Bound
	busy     bool
	reqID    string
	started  time.Time
	lastUsed time.Time
}

// ID returns the worker's stable index.
func (w *Worker) ID() int { return w.id }

// Pool is the fixed worker set.
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	log     zerolog.Logger
}

// NewPool creates n workers, all idle and unbound.
func NewPool(n int, log zerolog.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{log: log.With().Str("component", "worker-pool").Logger()}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, &Worker{id: i})
	}
	return p
}

// Size returns the worker count.
func (p *Pool) Size() int { return len(p.workers) }

// Workers returns the slot list. The slice is a copy; the workers are not.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Acquire claims an idle worker for a request targeting modelID. Preference
// order: a worker already bound to the model, then an unbound worker, then
// the idle worker whose bound model was least recently used (per lastUsed,
// typically the registry's persisted timestamps). Returns false when every
// worker is busy.
func (p *Pool) Acquire(reqID string, modelID int64, lastUsed func(modelID int64) int64) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var unbound, lru *Worker
	var lruStamp int64
	for _, w := range p.workers {
		if w.busy {
			continue
		}
		if w.bound != nil && w.bound.Model.ID == modelID {
			p.claim(w, reqID)
			return w, true
		}
		if w.bound == nil {
			if unbound == nil {
				unbound = w
			}
			continue
		}
		stamp := int64(0)
		if lastUsed != nil {
			stamp = lastUsed(w.bound.Model.ID)
		}
		if lru == nil || stamp < lruStamp {
			lru, lruStamp = w, stamp
		}
	}
	if unbound != nil {
		p.claim(unbound, reqID)
		return unbound, true
	}
	if lru != nil {
		p.claim(lru, reqID)
		return lru, true
	}
	return nil, false
}

func (p *Pool) claim(w *Worker, reqID string) {
	w.busy = true
	w.reqID = reqID
	w.started = time.Now()
}

// Reassign hands an already-busy worker to a new request without releasing
// it, used when a freed worker is passed straight to a queued waiter.
func (p *Pool) Reassign(w *Worker, reqID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.reqID = reqID
	w.started = time.Now()
}

// Release returns a worker to the idle set. The bound model stays resident.
func (p *Pool) Release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.busy = false
	w.reqID = ""
	w.lastUsed = time.Now()
}

// BoundModel returns the model currently resident on w, if any.
func (p *Pool) BoundModel(w *Worker) (registry.ModelInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.bound == nil {
		return registry.ModelInfo{}, false
	}
	return w.bound.Model, true
}

// Handle returns the engine handle for the worker's bound model. Only the
// request that acquired w may call this.
func (p *Pool) Handle(w *Worker) (engine.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.bound == nil {
		return nil, false
	}
	return w.bound.Handle, true
}

// Bind makes model resident on w, closing any previously bound handle. It
// returns the evicted model if one was displaced.
func (p *Pool) Bind(w *Worker, model registry.ModelInfo, handle engine.Handle) (evicted *registry.ModelInfo) {
	p.mu.Lock()
	old := w.bound
	w.bound = &Bound{Model: model, Handle: handle, Since: time.Now()}
	p.mu.Unlock()

	if old != nil {
		if err := old.Handle.Close(); err != nil {
			p.log.Warn().Err(err).Str("model", old.Model.Identifier).Msg("close evicted handle")
		}
		p.log.Info().
			Int("worker", w.id).
			Str("evicted", old.Model.Identifier).
			Str("loaded", model.Identifier).
			Msg("model swapped")
		return &old.Model
	}
	p.log.Info().Int("worker", w.id).Str("loaded", model.Identifier).Msg("model bound")
	return nil
}

// Unbind drops the worker's bound model, closing its handle. Returns the
// unbound model if there was one.
func (p *Pool) Unbind(w *Worker) *registry.ModelInfo {
	p.mu.Lock()
	old := w.bound
	w.bound = nil
	p.mu.Unlock()

	if old == nil {
		return nil
	}
	if err := old.Handle.Close(); err != nil {
		p.log.Warn().Err(err).Str("model", old.Model.Identifier).Msg("close handle")
	}
	return &old.Model
}

// UnbindIfIdle drops w's binding only when w is idle and bound to modelID,
// closing the handle. It reports whether the binding was removed and, when it
// was not, whether a busy worker was the reason. Check and unbind happen
// under one lock so a request that claimed the worker in between cannot have
// its handle closed out from under it.
func (p *Pool) UnbindIfIdle(w *Worker, modelID int64) (unbound, busy bool) {
	p.mu.Lock()
	if w.bound == nil || w.bound.Model.ID != modelID {
		p.mu.Unlock()
		return false, false
	}
	if w.busy {
		p.mu.Unlock()
		return false, true
	}
	old := w.bound
	w.bound = nil
	p.mu.Unlock()

	if err := old.Handle.Close(); err != nil {
		p.log.Warn().Err(err).Str("model", old.Model.Identifier).Msg("close handle")
	}
	return true, false
}

// Status describes one worker for health and ps reporting.
type Status struct {
	ID        int
	Busy      bool
	RequestID string
	Model     *registry.ModelInfo
	Since     time.Time
	LastUsed  time.Time
}

// Snapshot returns a point-in-time copy of every worker's state.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.workers))
	for _, w := range p.workers {
		s := Status{ID: w.id, Busy: w.busy, RequestID: w.reqID, Since: w.started, LastUsed: w.lastUsed}
		if w.bound != nil {
			m := w.bound.Model
			s.Model = &m
			s.Since = w.bound.Since
		}
		out = append(out, s)
	}
	return out
}

// BusyCount returns how many workers are mid-request.
func (p *Pool) BusyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.busy {
			n++
		}
	}
	return n
}

// Close unbinds every worker, releasing all resident models.
func (p *Pool) Close() {
	for _, w := range p.workers {
		p.Unbind(w)
	}
}
