package registry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RegisterAdapter inserts a LoRA-style adapter row bound to an existing base
// model, returning the assigned id.
func (r *Registry) RegisterAdapter(info AdapterInfo) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(info.Identifier) == "" {
		return 0, fmt.Errorf("adapter identifier is required")
	}

	var id int64
	err := r.inTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM models WHERE id = ?", info.BaseModelID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound(fmt.Sprintf("model %d", info.BaseModelID))
		}
		if err := tx.QueryRow("SELECT COUNT(*) FROM adapters WHERE adapter_id = ?", info.Identifier).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateIdentifier(info.Identifier)
		}

		res, err := tx.Exec(`INSERT INTO adapters (
  base_model_id, name, adapter_id, file_path, adapter_type, rank, scale,
  target_modules, created_timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			info.BaseModelID, info.Name, info.Identifier, info.FilePath,
			info.AdapterType, info.Rank, info.Scale,
			strings.Join(info.TargetModules, ","), time.Now().Unix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	r.log.Info().Int64("id", id).Str("identifier", info.Identifier).Msg("adapter registered")
	return id, nil
}

// GetAdapters lists adapters bound to a base model.
func (r *Registry) GetAdapters(baseModelID int64) ([]AdapterInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT id, base_model_id, name, adapter_id, file_path,
  adapter_type, COALESCE(rank,0), COALESCE(scale,0), COALESCE(target_modules,''),
  COALESCE(created_timestamp,0)
FROM adapters WHERE base_model_id = ? ORDER BY created_timestamp DESC`, baseModelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdapterInfo
	for rows.Next() {
		var a AdapterInfo
		var modules string
		if err := rows.Scan(&a.ID, &a.BaseModelID, &a.Name, &a.Identifier,
			&a.FilePath, &a.AdapterType, &a.Rank, &a.Scale, &modules, &a.Created); err != nil {
			return nil, err
		}
		if modules != "" {
			a.TargetModules = strings.Split(modules, ",")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAdapterByIdentifier looks up one adapter by its unique identifier.
func (r *Registry) GetAdapterByIdentifier(identifier string) (AdapterInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var a AdapterInfo
	var modules string
	err := r.db.QueryRow(`SELECT id, base_model_id, name, adapter_id, file_path,
  adapter_type, COALESCE(rank,0), COALESCE(scale,0), COALESCE(target_modules,''),
  COALESCE(created_timestamp,0)
FROM adapters WHERE adapter_id = ?`, identifier).Scan(
		&a.ID, &a.BaseModelID, &a.Name, &a.Identifier,
		&a.FilePath, &a.AdapterType, &a.Rank, &a.Scale, &modules, &a.Created)
	if err != nil {
		if err != sql.ErrNoRows {
			r.log.Error().Err(err).Str("identifier", identifier).Msg("get adapter failed")
		}
		return AdapterInfo{}, false
	}
	if modules != "" {
		a.TargetModules = strings.Split(modules, ",")
	}
	return a, true
}

// RemoveAdapter deletes one adapter row by id.
func (r *Registry) RemoveAdapter(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM adapters WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound(fmt.Sprintf("adapter %d", id))
		}
		return nil
	})
}
