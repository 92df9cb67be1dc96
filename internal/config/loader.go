package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	DBPath    string `json:"db_path" yaml:"db_path" toml:"db_path"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	WatchDir  bool   `json:"watch_models_dir" yaml:"watch_models_dir" toml:"watch_models_dir"`

	Workers           int `json:"workers" yaml:"workers" toml:"workers"`
	MaxQueueDepth     int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	RequestTimeoutSec int `json:"request_timeout_sec" yaml:"request_timeout_sec" toml:"request_timeout_sec"`

	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	LogLevel      string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile       string `json:"log_file" yaml:"log_file" toml:"log_file"`
	LogMaxSizeMB  int    `json:"log_max_size_mb" yaml:"log_max_size_mb" toml:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups" yaml:"log_max_backups" toml:"log_max_backups"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// Engine tuning (passed through to the inference engine adapter).
	EngineCtxSize int `json:"engine_ctx_size" yaml:"engine_ctx_size" toml:"engine_ctx_size"`
	EngineThreads int `json:"engine_threads" yaml:"engine_threads" toml:"engine_threads"`
}

// Defaults applied when corresponding fields are unset. The listen address
// follows the Ollama convention so existing clients work unmodified.
const (
	DefaultAddr              = ":11434"
	DefaultWorkers           = 1
	DefaultMaxQueueDepth     = 32
	DefaultRequestTimeoutSec = 120
	DefaultLogLevel          = "info"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with package defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DBPath == "" {
		c.DBPath = "~/.mlxd/registry.db"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models/llm"
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = DefaultRequestTimeoutSec
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
