package registry

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"
)

const modelColumns = `id, name, model_id, architecture, file_path, format, file_size,
  COALESCE(sha256,''), COALESCE(param_count,0), COALESCE(context_length,0),
  COALESCE(hidden_size,0), COALESCE(num_layers,0), COALESCE(num_heads,0),
  COALESCE(num_kv_heads,0), COALESCE(intermediate_size,0), COALESCE(vocab_size,0),
  COALESCE(quant_type,'none'), COALESCE(quant_details,''), COALESCE(tokenizer_type,''),
  COALESCE(tokenizer_path,''), COALESCE(rope_freq_base,0), COALESCE(rope_scale,0),
  COALESCE(rope_scaling_type,''), COALESCE(description,''), COALESCE(license,''),
  COALESCE(source_url,''), is_loaded, COALESCE(last_used_timestamp,0),
  COALESCE(created_timestamp,0), COALESCE(chat_template,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (ModelInfo, error) {
	var m ModelInfo
	var arch, format, quant string
	var loaded int
	err := row.Scan(
		&m.ID, &m.Name, &m.Identifier, &arch, &m.FilePath, &format, &m.FileSize,
		&m.SHA256, &m.ParamCount, &m.ContextLength,
		&m.HiddenSize, &m.NumLayers, &m.NumHeads,
		&m.NumKVHeads, &m.IntermediateSize, &m.VocabSize,
		&quant, &m.QuantDetails, &m.TokenizerType,
		&m.TokenizerPath, &m.RopeFreqBase, &m.RopeScale,
		&m.RopeScalingType, &m.Description, &m.License,
		&m.SourceURL, &loaded, &m.LastUsed,
		&m.Created, &m.ChatTemplate,
	)
	if err != nil {
		return ModelInfo{}, err
	}
	// Unrecognized enum strings degrade to sentinels; they are data, not
	// parse failures.
	m.Architecture = ParseArchitecture(arch)
	m.Format = ParseFormat(format)
	m.Quantization = ParseQuantization(quant)
	m.IsLoaded = loaded != 0
	return m, nil
}

// RegisterModel inserts a new model row and its registration tags, returning
// the assigned id. Fails with a duplicate-identifier error when the unique
// identifier already exists.
func (r *Registry) RegisterModel(info ModelInfo) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(info.Identifier) == "" {
		return 0, fmt.Errorf("model identifier is required")
	}

	var id int64
	err := r.inTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM models WHERE model_id = ?", info.Identifier).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateIdentifier(info.Identifier)
		}

		now := time.Now().Unix()
		res, err := tx.Exec(`INSERT INTO models (
  name, model_id, architecture, file_path, format, file_size, sha256,
  param_count, context_length, hidden_size, num_layers, num_heads, num_kv_heads,
  intermediate_size, vocab_size, quant_type, quant_details, tokenizer_type,
  tokenizer_path, rope_freq_base, rope_scale, rope_scaling_type, description,
  license, source_url, is_loaded, last_used_timestamp, created_timestamp, chat_template
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			info.Name, info.Identifier, string(info.Architecture), info.FilePath,
			string(info.Format), info.FileSize, info.SHA256,
			info.ParamCount, info.ContextLength, info.HiddenSize, info.NumLayers,
			info.NumHeads, info.NumKVHeads, info.IntermediateSize, info.VocabSize,
			string(info.Quantization), info.QuantDetails, info.TokenizerType,
			info.TokenizerPath, info.RopeFreqBase, info.RopeScale, info.RopeScalingType,
			info.Description, info.License, info.SourceURL, boolToInt(info.IsLoaded),
			now, now, info.ChatTemplate)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for k, v := range info.Tags {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO model_tags (model_id, key, value) VALUES (?, ?, ?)",
				id, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Info().Int64("id", id).Str("identifier", info.Identifier).Msg("model registered")
	return id, nil
}

// UpdateModel performs a full-row update keyed by id. Runtime state
// (is_loaded, timestamps) is not touched; use SetModelLoaded/TouchModel.
func (r *Registry) UpdateModel(info ModelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE models SET
  name = ?, model_id = ?, architecture = ?, file_path = ?, format = ?,
  file_size = ?, sha256 = ?, param_count = ?, context_length = ?,
  hidden_size = ?, num_layers = ?, num_heads = ?, num_kv_heads = ?,
  intermediate_size = ?, vocab_size = ?, quant_type = ?, quant_details = ?,
  tokenizer_type = ?, tokenizer_path = ?, rope_freq_base = ?, rope_scale = ?,
  rope_scaling_type = ?, description = ?, license = ?, source_url = ?,
  chat_template = ?
WHERE id = ?`,
			info.Name, info.Identifier, string(info.Architecture), info.FilePath,
			string(info.Format), info.FileSize, info.SHA256, info.ParamCount,
			info.ContextLength, info.HiddenSize, info.NumLayers, info.NumHeads,
			info.NumKVHeads, info.IntermediateSize, info.VocabSize,
			string(info.Quantization), info.QuantDetails, info.TokenizerType,
			info.TokenizerPath, info.RopeFreqBase, info.RopeScale, info.RopeScalingType,
			info.Description, info.License, info.SourceURL, info.ChatTemplate, info.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound(fmt.Sprintf("model %d", info.ID))
		}
		return nil
	})
}

// RemoveModel deletes the model row; tags and adapters cascade inside the
// same transaction. When deleteFile is set the backing weight file is removed
// best-effort after commit.
func (r *Registry) RemoveModel(id int64, deleteFile bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var filePath string
	err := r.inTx(func(tx *sql.Tx) error {
		if err := tx.QueryRow("SELECT file_path FROM models WHERE id = ?", id).Scan(&filePath); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound(fmt.Sprintf("model %d", id))
			}
			return err
		}
		_, err := tx.Exec("DELETE FROM models WHERE id = ?", id)
		return err
	})
	if err != nil {
		return err
	}
	if deleteFile && filePath != "" {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("path", filePath).Msg("failed to delete model file")
		}
	}
	return nil
}

// GetModel looks up a model by database id. Absence is not an error.
func (r *Registry) GetModel(id int64) (ModelInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.db.QueryRow("SELECT "+modelColumns+" FROM models WHERE id = ?", id)
	m, err := scanModel(row)
	if err != nil {
		if err != sql.ErrNoRows {
			r.log.Error().Err(err).Int64("id", id).Msg("get model failed")
		}
		return ModelInfo{}, false
	}
	return m, true
}

// GetModelByIdentifier looks up a model by its unique identifier string.
func (r *Registry) GetModelByIdentifier(identifier string) (ModelInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.db.QueryRow("SELECT "+modelColumns+" FROM models WHERE model_id = ?", identifier)
	m, err := scanModel(row)
	if err != nil {
		if err != sql.ErrNoRows {
			r.log.Error().Err(err).Str("identifier", identifier).Msg("get model failed")
		}
		return ModelInfo{}, false
	}
	return m, true
}

// ListModels applies QueryOptions filters conjunctively and returns matching
// models. An empty result is a nil slice, never an error.
func (r *Registry) ListModels(opts QueryOptions) ([]ModelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("SELECT " + modelColumns + " FROM models WHERE 1=1")
	var args []any

	if opts.Architecture != nil {
		sb.WriteString(" AND architecture = ?")
		args = append(args, string(*opts.Architecture))
	}
	if opts.Format != nil {
		sb.WriteString(" AND format = ?")
		args = append(args, string(*opts.Format))
	}
	if opts.Quantization != nil {
		sb.WriteString(" AND quant_type = ?")
		args = append(args, string(*opts.Quantization))
	}
	if opts.SearchTerm != "" {
		sb.WriteString(" AND (name LIKE ? OR description LIKE ?)")
		pattern := "%" + opts.SearchTerm + "%"
		args = append(args, pattern, pattern)
	}
	for k, v := range opts.RequiredTags {
		sb.WriteString(" AND EXISTS (SELECT 1 FROM model_tags t WHERE t.model_id = models.id AND t.key = ? AND t.value = ?)")
		args = append(args, k, v)
	}

	sb.WriteString(" ORDER BY " + opts.OrderBy.sql())

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, opts.Offset)

	rows, err := r.db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TouchModel updates the model's last-used timestamp to now. Best effort:
// failures are logged and swallowed so the caller's request path never aborts.
func (r *Registry) TouchModel(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec(
		"UPDATE models SET last_used_timestamp = ? WHERE id = ?",
		time.Now().Unix(), id); err != nil {
		r.log.Warn().Err(err).Int64("id", id).Msg("touch model failed")
	}
}

// SetModelLoaded flips the persisted resident flag. Best effort, same
// contract as TouchModel.
func (r *Registry) SetModelLoaded(id int64, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec(
		"UPDATE models SET is_loaded = ? WHERE id = ?",
		boolToInt(loaded), id); err != nil {
		r.log.Warn().Err(err).Int64("id", id).Msg("set model loaded failed")
	}
}

// GetStats computes aggregate registry counters by query.
func (r *Registry) GetStats() (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	if err := r.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(file_size),0) FROM models").Scan(&s.TotalModels, &s.DiskBytes); err != nil {
		return Stats{}, err
	}
	if err := r.db.QueryRow("SELECT COUNT(*) FROM models WHERE is_loaded = 1").Scan(&s.LoadedModels); err != nil {
		return Stats{}, err
	}
	if err := r.db.QueryRow("SELECT COUNT(*) FROM adapters").Scan(&s.TotalAdapters); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
