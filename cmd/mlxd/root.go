package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mlxd/internal/common/fsutil"
	"mlxd/internal/config"
	"mlxd/internal/engine"
	"mlxd/internal/httpapi"
	"mlxd/internal/logging"
	"mlxd/internal/metrics"
	"mlxd/internal/registry"
	"mlxd/internal/scheduler"
)

const shutdownGrace = 10 * time.Second

func newRootCmd() *cobra.Command {
	var (
		cfgPath    string
		engineName string
		flags      config.Config
	)

	cmd := &cobra.Command{
		Use:           "mlxd",
		Short:         "Local LLM inference daemon with OpenAI- and Ollama-compatible APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, cfgPath, flags)
			if err != nil {
				return err
			}
			return run(cfg, engineName)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", envOr("MLXD_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	f.StringVar(&flags.Addr, "addr", envOr("MLXD_ADDR", ""), "HTTP listen address, e.g. :11434")
	f.StringVar(&flags.DBPath, "db", "", "Path to the registry SQLite database")
	f.StringVar(&flags.ModelsDir, "models-dir", "", "Directory to scan for model files")
	f.BoolVar(&flags.WatchDir, "watch", false, "Watch the models directory and rescan on changes")
	f.IntVar(&flags.Workers, "workers", 0, "Number of worker slots (concurrent generations)")
	f.IntVar(&flags.MaxQueueDepth, "max-queue-depth", 0, "Queued requests before rejecting with 429")
	f.IntVar(&flags.RequestTimeoutSec, "request-timeout-sec", 0, "Per-request timeout in seconds")
	f.StringVar(&flags.DefaultModel, "default-model", "", "Model used when a request omits one")
	f.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&flags.LogFile, "log-file", "", "Log to this file with rotation instead of stderr")
	f.StringVar(&engineName, "engine", envOr("MLXD_ENGINE", "llama"), "Inference engine: llama or sim")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolveConfig layers flag overrides on top of the config file, then applies
// defaults. A flag wins only when it was set explicitly.
func resolveConfig(cmd *cobra.Command, cfgPath string, flags config.Config) (config.Config, error) {
	var cfg config.Config
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	set := cmd.Flags().Changed
	if set("addr") || cfg.Addr == "" && flags.Addr != "" {
		cfg.Addr = flags.Addr
	}
	if set("db") {
		cfg.DBPath = flags.DBPath
	}
	if set("models-dir") {
		cfg.ModelsDir = flags.ModelsDir
	}
	if set("watch") {
		cfg.WatchDir = flags.WatchDir
	}
	if set("workers") {
		cfg.Workers = flags.Workers
	}
	if set("max-queue-depth") {
		cfg.MaxQueueDepth = flags.MaxQueueDepth
	}
	if set("request-timeout-sec") {
		cfg.RequestTimeoutSec = flags.RequestTimeoutSec
	}
	if set("default-model") {
		cfg.DefaultModel = flags.DefaultModel
	}
	if set("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if set("log-file") {
		cfg.LogFile = flags.LogFile
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func run(cfg config.Config, engineName string) error {
	log := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	dbPath, err := fsutil.ExpandHome(cfg.DBPath)
	if err != nil {
		return err
	}
	modelsDir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return err
	}

	reg, err := registry.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	if fsutil.PathExists(modelsDir) {
		added, err := reg.ScanDir(modelsDir)
		if err != nil {
			return fmt.Errorf("scan %s: %w", modelsDir, err)
		}
		log.Info().Str("dir", modelsDir).Int("added", added).Msg("model scan complete")
	} else {
		log.Warn().Str("dir", modelsDir).Msg("models directory does not exist, skipping scan")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WatchDir {
		if err := reg.Watch(ctx, modelsDir); err != nil {
			return fmt.Errorf("watch %s: %w", modelsDir, err)
		}
	}

	var eng engine.Engine
	switch engineName {
	case "sim":
		eng = engine.NewSim()
	case "llama", "":
		eng = engine.NewLlama()
		if !engine.LlamaBuilt {
			log.Warn().Msg("built without the llama tag; model loads will fail until rebuilt with -tags llama")
		}
	default:
		return fmt.Errorf("unknown engine %q", engineName)
	}

	met := metrics.New(prometheus.DefaultRegisterer)
	sched := scheduler.New(scheduler.Config{
		Workers:        cfg.Workers,
		MaxQueueDepth:  cfg.MaxQueueDepth,
		RequestTimeout: cfg.RequestTimeout(),
		ContextSize:    cfg.EngineCtxSize,
		Threads:        cfg.EngineThreads,
	}, reg, eng, met, log)
	defer sched.Close()

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetDefaultModel(cfg.DefaultModel)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{"GET", "POST", "DELETE", "OPTIONS"},
		[]string{"Accept", "Authorization", "Content-Type", "X-Log-Level"})

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     httpapi.NewMux(sched),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("engine", eng.Name()).
			Int("workers", cfg.Workers).
			Msg("mlxd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
