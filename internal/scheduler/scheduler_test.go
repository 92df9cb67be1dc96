package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"mlxd/internal/engine"
	"mlxd/internal/metrics"
	"mlxd/internal/registry"
)

type fixture struct {
	reg   *registry.Registry
	eng   *engine.Sim
	met   *metrics.Collector
	sched *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	eng := engine.NewSim()
	met := metrics.New(prometheus.NewRegistry())
	s := New(cfg, reg, eng, met, zerolog.Nop())
	t.Cleanup(s.Close)
	return &fixture{reg: reg, eng: eng, met: met, sched: s}
}

func (f *fixture) register(t *testing.T, identifier string) registry.ModelInfo {
	t.Helper()
	id, err := f.reg.RegisterModel(registry.ModelInfo{
		Name:       identifier,
		Identifier: identifier,
		FilePath:   "/models/" + identifier + ".gguf",
		Format:     registry.FormatGGUF,
	})
	if err != nil {
		t.Fatalf("register %s: %v", identifier, err)
	}
	m, _ := f.reg.GetModel(id)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGenerateCompletes(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "tinyllama-1.1b")

	var streamed []string
	res, err := f.sched.Generate(context.Background(), Job{
		Model:  m.Identifier,
		Prompt: "tell me a story",
		OnToken: func(tok string) error {
			streamed = append(streamed, tok)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Content == "" || res.FinishReason != engine.FinishStop {
		t.Fatalf("result: %+v", res)
	}
	if strings.Join(streamed, "") != res.Content {
		t.Fatal("streamed tokens diverge from final content")
	}

	snap := f.sched.Metrics()
	if snap.RequestsCompleted != 1 || snap.TokensGenerated == 0 {
		t.Fatalf("metrics: %+v", snap)
	}
	waitFor(t, "is_loaded flag", func() bool {
		got, _ := f.reg.GetModel(m.ID)
		return got.IsLoaded
	})
}

func TestGenerateUnknownModel(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	_, err := f.sched.Generate(context.Background(), Job{Model: "nope", Prompt: "x"})
	if !registry.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestThreeConcurrentRequestsSerializeOnOneWorker(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "tinyllama-1.1b")
	f.eng.TokenDelay = 2 * time.Millisecond

	// Sample busy workers throughout; with one worker it must never exceed 1.
	stop := make(chan struct{})
	var maxBusy int
	var sampleMu sync.Mutex
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := f.sched.Status()
			sampleMu.Lock()
			if st.BusyWorkers > maxBusy {
				maxBusy = st.BusyWorkers
			}
			sampleMu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	results := make([]Result, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.sched.Generate(context.Background(), Job{
				Model:  m.Identifier,
				Prompt: "the quick brown fox jumps",
			})
		}(i)
	}
	wg.Wait()
	close(stop)

	for i := 0; i < 3; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if results[i].Content == "" {
			t.Fatalf("request %d returned empty content", i)
		}
	}
	sampleMu.Lock()
	defer sampleMu.Unlock()
	if maxBusy > 1 {
		t.Fatalf("exclusivity violated: %d concurrent busy workers", maxBusy)
	}
	if f.sched.Metrics().RequestsCompleted != 3 {
		t.Fatalf("metrics: %+v", f.sched.Metrics())
	}
}

func TestBackpressureAtQueueCapacity(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 2})
	m := f.register(t, "tinyllama-1.1b")
	f.eng.TokenDelay = 5 * time.Millisecond

	long := strings.Repeat("w ", 200)
	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: long})
	}()
	waitFor(t, "worker busy", func() bool { return f.sched.Status().BusyWorkers == 1 })

	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "a b c"})
		}(i)
		waitFor(t, "queue growth", func() bool { return f.sched.Status().QueueDepth >= i })
	}

	// Queue is at capacity; further arrivals are rejected, not dropped.
	for i := 0; i < 2; i++ {
		_, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "x"})
		if !IsBackpressure(err) {
			t.Fatalf("expected backpressure, got %v", err)
		}
	}
	if got := f.sched.Metrics().RequestsRejected; got != 2 {
		t.Fatalf("rejected count: %d", got)
	}

	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("queued request %d: %v", i, err)
		}
	}
}

func TestEvictionSwapsLRUAndPreservesLastUsed(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	a := f.register(t, "model-a")
	b := f.register(t, "model-b")

	if _, err := f.sched.Generate(context.Background(), Job{Model: a.Identifier, Prompt: "hi"}); err != nil {
		t.Fatalf("generate a: %v", err)
	}
	waitFor(t, "a resident", func() bool {
		got, _ := f.reg.GetModel(a.ID)
		return got.IsLoaded
	})
	// Let the async touch land before capturing the baseline.
	time.Sleep(20 * time.Millisecond)
	before, _ := f.reg.GetModel(a.ID)

	if _, err := f.sched.Generate(context.Background(), Job{Model: b.Identifier, Prompt: "hi"}); err != nil {
		t.Fatalf("generate b: %v", err)
	}
	waitFor(t, "a evicted", func() bool {
		got, _ := f.reg.GetModel(a.ID)
		return !got.IsLoaded
	})
	waitFor(t, "b resident", func() bool {
		got, _ := f.reg.GetModel(b.ID)
		return got.IsLoaded
	})

	after, _ := f.reg.GetModel(a.ID)
	if after.LastUsed != before.LastUsed {
		t.Fatalf("eviction touched last-used: before=%d after=%d", before.LastUsed, after.LastUsed)
	}
	if f.sched.Metrics().ModelEvictions != 1 {
		t.Fatalf("eviction count: %+v", f.sched.Metrics())
	}

	workers := f.sched.Workers()
	if len(workers) != 1 || workers[0].Model == nil || workers[0].Model.ID != b.ID {
		t.Fatalf("worker binding after swap: %+v", workers)
	}
}

func TestCancellationFreesWorkerWithModelBound(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "tinyllama-1.1b")
	f.eng.TokenDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	tokens := 0
	_, err := f.sched.Generate(ctx, Job{
		Model:  m.Identifier,
		Prompt: strings.Repeat("w ", 500),
		OnToken: func(string) error {
			tokens++
			if tokens == 3 {
				cancel()
			}
			return nil
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	// The worker is immediately reusable and the model is still resident.
	f.eng.TokenDelay = 0
	res, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "hi"})
	if err != nil {
		t.Fatalf("post-cancel generate: %v", err)
	}
	if res.LoadDuration > 50*time.Millisecond {
		t.Fatalf("model appears to have been reloaded after cancel: %v", res.LoadDuration)
	}
	snap := f.sched.Metrics()
	if snap.RequestsCancelled != 1 || snap.ModelLoads != 1 {
		t.Fatalf("metrics after cancel: %+v", snap)
	}
}

func TestTimeoutReturnsPartialResult(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8, RequestTimeout: 50 * time.Millisecond})
	m := f.register(t, "tinyllama-1.1b")
	f.eng.TokenDelay = 10 * time.Millisecond

	res, err := f.sched.Generate(context.Background(), Job{
		Model:  m.Identifier,
		Prompt: strings.Repeat("w ", 500),
	})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if res.FinishReason != engine.FinishCancelled {
		t.Fatalf("finish reason: %s", res.FinishReason)
	}
	if res.Content == "" {
		t.Fatal("expected partial output with the timeout")
	}
}

func TestThreeConsecutiveFailuresDisableModel(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "flaky")
	boom := errors.New("accelerator fault")
	f.eng.FailGenerations(3, boom)

	for i := 0; i < 3; i++ {
		if _, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "x"}); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected engine failure, got %v", i, err)
		}
	}
	// Fourth request never reaches the engine.
	_, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "x"})
	if !IsModelUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := f.sched.Status().Unavailable; len(got) != 1 || got[0] != "flaky" {
		t.Fatalf("status unavailable list: %v", got)
	}

	if err := f.sched.ReloadModel(m.Identifier); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "x"}); err != nil {
		t.Fatalf("post-reload generate: %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "mostly-fine")
	boom := errors.New("fault")

	for round := 0; round < 2; round++ {
		f.eng.FailGenerations(2, boom)
		for i := 0; i < 2; i++ {
			if _, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "x"}); !errors.Is(err, boom) {
				t.Fatalf("expected failure, got %v", err)
			}
		}
		if _, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "x"}); err != nil {
			t.Fatalf("success after 2 failures should be admitted: %v", err)
		}
	}
}

func TestFreedWorkerPrefersSameModelWaiter(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	a := f.register(t, "model-a")
	b := f.register(t, "model-b")
	f.eng.TokenDelay = 5 * time.Millisecond

	var order []string
	var orderMu sync.Mutex
	record := func(name string) {
		orderMu.Lock()
		order = append(order, name)
		orderMu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.sched.Generate(context.Background(), Job{Model: a.Identifier, Prompt: strings.Repeat("w ", 100)})
		record("a-first")
	}()
	waitFor(t, "worker busy", func() bool { return f.sched.Status().BusyWorkers == 1 })

	// b arrives first, then another a; affinity should run a next anyway.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.sched.Generate(context.Background(), Job{Model: b.Identifier, Prompt: "b prompt"})
		record("b")
	}()
	waitFor(t, "b queued", func() bool { return f.sched.Status().QueueDepth == 1 })
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.sched.Generate(context.Background(), Job{Model: a.Identifier, Prompt: "a prompt"})
		record("a-second")
	}()
	waitFor(t, "a queued", func() bool { return f.sched.Status().QueueDepth == 2 })

	wg.Wait()
	orderMu.Lock()
	defer orderMu.Unlock()
	if len(order) != 3 || order[0] != "a-first" || order[1] != "a-second" || order[2] != "b" {
		t.Fatalf("completion order: %v", order)
	}
}

func TestEmbedThroughScheduler(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "embedder")

	vec, got, err := f.sched.Embed(context.Background(), m.Identifier, "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if got.ID != m.ID || len(vec) == 0 {
		t.Fatalf("embed result: model=%+v dim=%d", got, len(vec))
	}
	if _, _, err := f.sched.Embed(context.Background(), "missing", "x"); !registry.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCancelledWaiterReturnsRacedHandoff(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "tinyllama-1.1b")
	s := f.sched

	// Occupy the only worker, then queue a second request behind it.
	w, err := s.acquireWorker(context.Background(), "holder", m)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		w2, err := s.acquireWorker(ctx, "queued", m)
		if err == nil {
			s.releaseWorker(w2)
		}
		errCh <- err
	}()
	waitFor(t, "request queued", func() bool { return s.Status().QueueDepth == 1 })

	// Replay the release path up to the point where the waiter has been popped
	// and the worker reassigned, but the ready send has not happened yet.
	s.mu.Lock()
	wt := s.queue[0]
	s.queue = s.queue[:0]
	s.pool.Reassign(w, wt.reqID)
	s.mu.Unlock()

	// Cancel inside that window, give the waiter time to run its cleanup, and
	// only then let the handoff land.
	cancel()
	time.Sleep(20 * time.Millisecond)
	wt.ready <- w

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	// The cancelled waiter must hand the worker back rather than strand it.
	waitFor(t, "worker released", func() bool { return s.pool.BusyCount() == 0 })

	if _, err := s.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "hi"}); err != nil {
		t.Fatalf("generate after raced cancel: %v", err)
	}
}

func TestRemoveModelRefusesWhileServing(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "in-demand")
	f.eng.TokenDelay = 5 * time.Millisecond

	var wg sync.WaitGroup
	var genErr error
	var res Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, genErr = f.sched.Generate(context.Background(), Job{
			Model:  m.Identifier,
			Prompt: strings.Repeat("w ", 100),
		})
	}()
	waitFor(t, "generation in flight", func() bool { return f.sched.Status().BusyWorkers == 1 })

	// Removal while the model is serving must refuse instead of closing the
	// handle out from under the request.
	if err := f.sched.RemoveModel(m.Identifier, false); !IsBackpressure(err) {
		t.Fatalf("expected backpressure, got %v", err)
	}

	wg.Wait()
	if genErr != nil {
		t.Fatalf("generation disturbed by removal attempt: %v", genErr)
	}
	if res.FinishReason != engine.FinishStop {
		t.Fatalf("finish reason: %s", res.FinishReason)
	}

	// Once the worker is idle the removal goes through.
	if err := f.sched.RemoveModel(m.Identifier, false); err != nil {
		t.Fatalf("remove after completion: %v", err)
	}
	if ws := f.sched.Workers(); ws[0].Model != nil {
		t.Fatalf("worker still bound: %+v", ws[0])
	}
}

func TestRemoveModelUnbindsIdleWorker(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, MaxQueueDepth: 8})
	m := f.register(t, "doomed")
	if _, err := f.sched.Generate(context.Background(), Job{Model: m.Identifier, Prompt: "hi"}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	if err := f.sched.RemoveModel(m.Identifier, false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := f.reg.GetModelByIdentifier(m.Identifier); ok {
		t.Fatal("model still registered")
	}
	if ws := f.sched.Workers(); ws[0].Model != nil {
		t.Fatalf("worker still bound: %+v", ws[0])
	}
	if err := f.sched.RemoveModel("missing", false); !registry.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
