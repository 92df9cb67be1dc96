package scheduler

import (
	"context"
	"fmt"

	"mlxd/internal/engine"
	"mlxd/internal/registry"
	"mlxd/internal/worker"
)

// waiter is one queued request. ready is buffered so a handoff never blocks
// the releasing request.
type waiter struct {
	reqID   string
	modelID int64
	ready   chan *worker.Worker
}

// acquireWorker claims a worker for the request, queueing when none is idle.
// Invariant: the queue is non-empty only while every worker is busy, because
// freed workers are handed straight to the head waiter under s.mu.
func (s *Scheduler) acquireWorker(ctx context.Context, reqID string, model registry.ModelInfo) (*worker.Worker, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is shut down")
	}
	if s.unavailable[model.Identifier] {
		s.mu.Unlock()
		return nil, ErrModelUnavailable(model.Identifier)
	}

	if len(s.queue) == 0 {
		if w, ok := s.pool.Acquire(reqID, model.ID, s.lastUsedStamp); ok {
			s.mu.Unlock()
			s.met.SetBusyWorkers(s.pool.BusyCount())
			return w, nil
		}
	}
	if len(s.queue) >= s.cfg.MaxQueueDepth {
		s.mu.Unlock()
		return nil, ErrBackpressure(fmt.Sprintf("admission queue full (%d waiting)", s.cfg.MaxQueueDepth))
	}
	wt := &waiter{reqID: reqID, modelID: model.ID, ready: make(chan *worker.Worker, 1)}
	s.queue = append(s.queue, wt)
	s.met.SetQueueDepth(len(s.queue))
	s.mu.Unlock()

	select {
	case w, ok := <-wt.ready:
		if !ok {
			return nil, fmt.Errorf("scheduler is shut down")
		}
		return w, nil
	case <-ctx.Done():
		s.mu.Lock()
		found := false
		for i, q := range s.queue {
			if q == wt {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				found = true
				break
			}
		}
		s.met.SetQueueDepth(len(s.queue))
		s.mu.Unlock()
		if !found {
			// Someone already popped this waiter, so either a handoff send or
			// a shutdown close of wt.ready is guaranteed to arrive. Wait for
			// it; a non-blocking drain here could miss a send still in flight
			// and strand a busy worker forever.
			if w, ok := <-wt.ready; ok {
				s.releaseWorker(w)
			}
		}
		return nil, ctx.Err()
	}
}

// releaseWorker returns a worker after a terminal request state. Queued
// requests targeting the worker's bound model take it first (earliest
// arrival), then the oldest waiter overall; otherwise the worker goes idle
// with its model still resident.
func (s *Scheduler) releaseWorker(w *worker.Worker) {
	s.mu.Lock()
	if !s.closed {
		idx := -1
		if bound, ok := s.pool.BoundModel(w); ok {
			for i, wt := range s.queue {
				if wt.modelID == bound.ID {
					idx = i
					break
				}
			}
		}
		if idx == -1 && len(s.queue) > 0 {
			idx = 0
		}
		if idx >= 0 {
			wt := s.queue[idx]
			s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
			s.met.SetQueueDepth(len(s.queue))
			s.pool.Reassign(w, wt.reqID)
			s.mu.Unlock()
			wt.ready <- w
			return
		}
	}
	s.pool.Release(w)
	s.mu.Unlock()
	s.met.SetBusyWorkers(s.pool.BusyCount())
}

// lastUsedStamp feeds the pool's LRU victim selection from the registry's
// persisted timestamps.
func (s *Scheduler) lastUsedStamp(modelID int64) int64 {
	m, ok := s.reg.GetModel(modelID)
	if !ok {
		return 0
	}
	return m.LastUsed
}

// ensureBound makes model resident on w, evicting a previously bound model
// if needed, and returns the handle. The caller owns w.
func (s *Scheduler) ensureBound(w *worker.Worker, model registry.ModelInfo) (engine.Handle, error) {
	if bound, ok := s.pool.BoundModel(w); ok {
		if bound.ID == model.ID {
			h, _ := s.pool.Handle(w)
			return h, nil
		}
		// Eviction flips the resident flag but leaves the last-used
		// timestamp alone; eviction is not use.
		if old := s.pool.Unbind(w); old != nil {
			s.met.ModelEvicted()
			s.setLoadedAsync(old.ID, false)
		}
	}

	spec := engine.LoadSpec{
		ModelPath:   model.FilePath,
		ContextSize: s.cfg.ContextSize,
		Threads:     s.cfg.Threads,
	}
	if model.ContextLength > 0 && (spec.ContextSize <= 0 || model.ContextLength < spec.ContextSize) {
		spec.ContextSize = model.ContextLength
	}
	// Adapter composition happens inside the engine; the scheduler only
	// forwards the registered adapter paths.
	if adapters, err := s.reg.GetAdapters(model.ID); err == nil {
		for _, a := range adapters {
			spec.AdapterPaths = append(spec.AdapterPaths, a.FilePath)
		}
	}

	h, err := s.eng.Load(spec)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", model.Identifier, err)
	}
	s.pool.Bind(w, model, h)
	s.met.ModelLoaded()
	s.setLoadedAsync(model.ID, true)
	return h, nil
}

// recordFailure counts a fatal engine failure; at the limit the model is
// disabled until ReloadModel.
func (s *Scheduler) recordFailure(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[identifier]++
	if s.failures[identifier] >= consecutiveFailureLimit && !s.unavailable[identifier] {
		s.unavailable[identifier] = true
		s.log.Error().
			Str("model", identifier).
			Int("failures", s.failures[identifier]).
			Msg("model marked unavailable after consecutive engine failures")
	}
}

func (s *Scheduler) clearFailures(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, identifier)
}
