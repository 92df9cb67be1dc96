// Package registry provides the durable model metadata store. It owns the
// models, adapters, and tags tables in a SQLite database and is the source of
// truth for what the daemon knows about, as opposed to what is loaded.
//
// All public operations serialize behind one mutex. Metadata traffic is low
// frequency relative to inference, and coarse locking keeps the consistency
// story trivial; the only calls on the request path (TouchModel,
// SetModelLoaded) are fire-and-forget from the caller's perspective.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Registry is a SQLite-backed model metadata store.
type Registry struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
	log    zerolog.Logger
}

// Open opens (creating if necessary) the registry database at path and
// applies schema migrations.
func Open(path string, log zerolog.Logger) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	// modernc's driver serializes statements per connection; combined with the
	// registry mutex a single connection avoids SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db, dbPath: path, log: log.With().Str("component", "registry").Logger()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the database connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// HealthCheck executes a trivial round-trip query. It returns false on any
// I/O or corruption error rather than propagating the fault.
func (r *Registry) HealthCheck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return false
	}
	var one int
	if err := r.db.QueryRow("SELECT 1").Scan(&one); err != nil {
		r.log.Error().Err(err).Msg("health check failed")
		return false
	}
	return one == 1
}

// Path returns the on-disk database path.
func (r *Registry) Path() string { return r.dbPath }

// inTx runs fn inside a transaction, committing on nil error.
func (r *Registry) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
