package registry

import "fmt"

// Schema versioning rides on SQLite's user_version pragma. Migrations apply
// in order; a fresh database runs all of them.
const schemaVersion = 1

var migrations = []string{
	// v1: initial schema.
	`
CREATE TABLE IF NOT EXISTS models (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  model_id TEXT UNIQUE NOT NULL,
  architecture TEXT NOT NULL,
  file_path TEXT NOT NULL,
  format TEXT NOT NULL,
  file_size INTEGER NOT NULL,
  sha256 TEXT,
  param_count INTEGER,
  context_length INTEGER,
  hidden_size INTEGER,
  num_layers INTEGER,
  num_heads INTEGER,
  num_kv_heads INTEGER,
  intermediate_size INTEGER,
  vocab_size INTEGER,
  quant_type TEXT,
  quant_details TEXT,
  tokenizer_type TEXT,
  tokenizer_path TEXT,
  rope_freq_base REAL,
  rope_scale REAL,
  rope_scaling_type TEXT,
  description TEXT,
  license TEXT,
  source_url TEXT,
  is_loaded INTEGER DEFAULT 0,
  last_used_timestamp INTEGER,
  created_timestamp INTEGER,
  chat_template TEXT
);

CREATE INDEX IF NOT EXISTS idx_models_model_id ON models(model_id);
CREATE INDEX IF NOT EXISTS idx_models_architecture ON models(architecture);
CREATE INDEX IF NOT EXISTS idx_models_last_used ON models(last_used_timestamp DESC);

CREATE TABLE IF NOT EXISTS model_tags (
  model_id INTEGER NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (model_id, key),
  FOREIGN KEY (model_id) REFERENCES models(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tags_key_value ON model_tags(key, value);

CREATE TABLE IF NOT EXISTS adapters (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  base_model_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  adapter_id TEXT UNIQUE NOT NULL,
  file_path TEXT NOT NULL,
  adapter_type TEXT NOT NULL,
  rank INTEGER,
  scale REAL,
  target_modules TEXT,
  created_timestamp INTEGER,
  FOREIGN KEY (base_model_id) REFERENCES models(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_adapters_base_model ON adapters(base_model_id);
`,
}

func (r *Registry) migrate() error {
	// WAL keeps readers unblocked during mutation; foreign keys enforce the
	// cascade-delete policy for tags and adapters.
	if _, err := r.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := r.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	var current int
	if err := r.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("registry schema version %d is newer than supported %d", current, schemaVersion)
	}
	for v := current; v < schemaVersion; v++ {
		if _, err := r.db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		if _, err := r.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
		r.log.Info().Int("version", v+1).Msg("applied schema migration")
	}
	return nil
}
