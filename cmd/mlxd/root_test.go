package main

import (
	"os"
	"path/filepath"
	"testing"

	"mlxd/internal/config"
)

func TestResolveConfigFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("addr: :9999\nworkers: 2\nmax_queue_depth: 8\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCmd()
	if err := cmd.Flags().Set("workers", "4"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := resolveConfig(cmd, path, config.Config{Workers: 4})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("file value lost: %+v", cfg)
	}
	if cfg.Workers != 4 {
		t.Fatalf("flag should override file: %+v", cfg)
	}
	if cfg.MaxQueueDepth != 8 {
		t.Fatalf("untouched file value lost: %+v", cfg)
	}
	if cfg.RequestTimeoutSec != config.DefaultRequestTimeoutSec {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestResolveConfigDefaultsOnly(t *testing.T) {
	cfg, err := resolveConfig(newRootCmd(), "", config.Config{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != config.DefaultAddr || cfg.Workers != config.DefaultWorkers {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestResolveConfigBadFile(t *testing.T) {
	if _, err := resolveConfig(newRootCmd(), "/no/such/file.yaml", config.Config{}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
