package registry

import (
	"database/sql"
	"fmt"
)

// AddTags upserts key/value tags on a model. Re-adding an existing key
// replaces its value (last write wins).
func (r *Registry) AddTags(modelID int64, tags map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.inTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM models WHERE id = ?", modelID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound(fmt.Sprintf("model %d", modelID))
		}
		for k, v := range tags {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO model_tags (model_id, key, value) VALUES (?, ?, ?)",
				modelID, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTags returns all tags on a model. A model with no tags yields an empty
// map, not an error.
func (r *Registry) GetTags(modelID int64) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query("SELECT key, value FROM model_tags WHERE model_id = ?", modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return tags, rows.Err()
}

// RemoveTag deletes one tag key from a model. Removing a missing key is a
// no-op.
func (r *Registry) RemoveTag(modelID int64, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("DELETE FROM model_tags WHERE model_id = ? AND key = ?", modelID, key)
	return err
}
