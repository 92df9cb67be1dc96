package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"mlxd/internal/engine"
	"mlxd/internal/httpapi"
	"mlxd/internal/metrics"
	"mlxd/internal/registry"
	"mlxd/internal/scheduler"
)

// createTempModelsDir creates a temporary directory populated with small fake
// .gguf files and returns the directory path.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// newServerForDir stands up the full stack over a scanned models directory:
// registry, sim engine, scheduler, and the HTTP mux.
func newServerForDir(t *testing.T, modelsDir string, cfg scheduler.Config) (*httptest.Server, *scheduler.Scheduler) {
	t.Helper()
	log := zerolog.Nop()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), log)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	if _, err := reg.ScanDir(modelsDir); err != nil {
		t.Fatalf("scan models: %v", err)
	}

	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.MaxQueueDepth == 0 {
		cfg.MaxQueueDepth = 8
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	met := metrics.New(prometheus.NewRegistry())
	sched := scheduler.New(cfg, reg, engine.NewSim(), met, log)
	t.Cleanup(sched.Close)

	srv := httptest.NewServer(httpapi.NewMux(sched))
	t.Cleanup(srv.Close)
	return srv, sched
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil { t.Fatalf("new req: %v", err) }
	resp, err := http.DefaultClient.Do(req)
	if err != nil { t.Fatalf("do req: %v", err) }
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil { t.Fatalf("new req: %v", err) }
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil { t.Fatalf("do req: %v", err) }
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
