// Package store implements the Persistent Store: durable, transactional
// SQLite storage for chunks and the global id counter, with an optional
// sqlite-vec backed approximate nearest-neighbour index.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lucid/internal/logging"
)

// Store is the single source of truth for chunk storage and id reservation.
// All mutating operations execute inside a single transaction; SQLite is
// configured for one writer so no cross-process locking protocol is needed.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	dim  int
	vec  bool // sqlite-vec virtual table available
	path string
}

// Open initializes (creating if absent) the SQLite database at path and
// prepares the chunks/counter_state schema. dim is the embedding width used
// for the vector index, when available.
func Open(path string, dim int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("store: creating data directory: %w", err)
		}
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma %q failed: %v", pragma, err)
		}
	}

	s := &Store{db: db, dim: dim, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}
	s.initVecIndex(dim)

	logging.Store("store opened at %s (dim=%d, vec=%v)", path, dim, s.vec)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// VecEnabled reports whether the sqlite-vec virtual table is active.
func (s *Store) VecEnabled() bool { return s.vec }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS counter_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	next_position TEXT NOT NULL,
	next_turn     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id        TEXT NOT NULL,
	sentence_id    INTEGER NOT NULL,
	role           TEXT NOT NULL,
	tokens_json    TEXT NOT NULL,
	min_position   TEXT NOT NULL,
	max_position   TEXT NOT NULL,
	token_count    INTEGER NOT NULL,
	embedding      BLOB,
	model          TEXT,
	timestamp      DATETIME NOT NULL,
	deleted        INTEGER NOT NULL DEFAULT 0,
	deleted_at     DATETIME,
	UNIQUE(turn_id, sentence_id, role)
);

CREATE INDEX IF NOT EXISTS idx_chunks_timestamp    ON chunks(timestamp);
CREATE INDEX IF NOT EXISTS idx_chunks_role         ON chunks(role);
CREATE INDEX IF NOT EXISTS idx_chunks_deleted      ON chunks(deleted);
CREATE INDEX IF NOT EXISTS idx_chunks_min_position ON chunks(min_position);
CREATE INDEX IF NOT EXISTS idx_chunks_max_position ON chunks(max_position);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO counter_state (id, next_position, next_turn) VALUES (1, ?, ?)`,
		"0", "0",
	)
	return err
}
