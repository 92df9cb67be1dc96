package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mlxd/internal/engine"
	"mlxd/internal/registry"
)

// Job is one inference request after protocol translation. OnToken, when
// set, receives each token before the next is generated.
type Job struct {
	RequestID string
	Model     string
	Prompt    string
	Params    engine.Params
	OnToken   func(token string) error
}

// Result is the terminal outcome of a job, including whatever partial output
// existed when a failure or cancellation cut the stream short.
type Result struct {
	Model        registry.ModelInfo
	Content      string
	Usage        engine.Usage
	FinishReason string

	Queued        time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
	TotalDuration time.Duration
	FirstToken    time.Duration
}

// Generate runs one inference job end to end: admission, binding, streaming,
// accounting.
func (s *Scheduler) Generate(ctx context.Context, job Job) (Result, error) {
	s.met.RequestReceived()
	if job.RequestID == "" {
		job.RequestID = uuid.NewString()
	}
	model, ok := s.reg.GetModelByIdentifier(job.Model)
	if !ok {
		return Result{}, registry.ErrNotFound("model " + job.Model)
	}

	start := time.Now()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	w, err := s.acquireWorker(ctx, job.RequestID, model)
	if err != nil {
		return Result{}, s.admissionError(err)
	}
	defer s.releaseWorker(w)
	queued := time.Since(start)

	loadStart := time.Now()
	h, err := s.ensureBound(w, model)
	if err != nil {
		s.met.RequestFailed()
		s.recordFailure(model.Identifier)
		return Result{}, err
	}
	loadDur := time.Since(loadStart)

	onToken := job.OnToken
	if onToken == nil {
		onToken = func(string) error { return nil }
	}
	var ttft time.Duration
	evalStart := time.Now()
	final, err := h.Generate(ctx, job.Prompt, job.Params.Normalize(), func(tok string) error {
		if ttft == 0 {
			ttft = time.Since(start)
		}
		return onToken(tok)
	})

	res := Result{
		Model:         model,
		Content:       final.Content,
		Usage:         final.Usage,
		FinishReason:  final.FinishReason,
		Queued:        queued,
		LoadDuration:  loadDur,
		EvalDuration:  time.Since(evalStart),
		TotalDuration: time.Since(start),
		FirstToken:    ttft,
	}
	if err != nil {
		if ctx.Err() != nil {
			s.met.RequestCancelled()
			res.FinishReason = engine.FinishCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return res, ErrTimeout("generation exceeded request timeout")
			}
			return res, ctx.Err()
		}
		s.met.RequestFailed()
		s.recordFailure(model.Identifier)
		s.log.Error().Err(err).
			Str("request", job.RequestID).
			Str("model", model.Identifier).
			Msg("generation failed")
		return res, err
	}

	s.met.RequestCompleted(res.TotalDuration, ttft, final.Usage.CompletionTokens)
	s.clearFailures(model.Identifier)
	s.touchAsync(model.ID)
	return res, nil
}

// Embed computes an embedding through the same admission path as generation;
// embeddings occupy a worker for their (short) duration.
func (s *Scheduler) Embed(ctx context.Context, modelName, input string) ([]float32, registry.ModelInfo, error) {
	s.met.RequestReceived()
	model, ok := s.reg.GetModelByIdentifier(modelName)
	if !ok {
		return nil, registry.ModelInfo{}, registry.ErrNotFound("model " + modelName)
	}

	start := time.Now()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	w, err := s.acquireWorker(ctx, uuid.NewString(), model)
	if err != nil {
		return nil, model, s.admissionError(err)
	}
	defer s.releaseWorker(w)

	h, err := s.ensureBound(w, model)
	if err != nil {
		s.met.RequestFailed()
		s.recordFailure(model.Identifier)
		return nil, model, err
	}

	vec, err := h.Embed(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			s.met.RequestCancelled()
			return nil, model, ctx.Err()
		}
		s.met.RequestFailed()
		s.recordFailure(model.Identifier)
		return nil, model, err
	}

	s.met.RequestCompleted(time.Since(start), 0, 0)
	s.clearFailures(model.Identifier)
	s.touchAsync(model.ID)
	return vec, model, nil
}

// admissionError maps acquisition failures to client-facing error kinds and
// records the rejection.
func (s *Scheduler) admissionError(err error) error {
	switch {
	case IsBackpressure(err), IsModelUnavailable(err):
		s.met.RequestRejected()
		return err
	case errors.Is(err, context.DeadlineExceeded):
		s.met.RequestCancelled()
		return ErrTimeout("timed out waiting for a worker")
	case errors.Is(err, context.Canceled):
		s.met.RequestCancelled()
		return err
	}
	return err
}
