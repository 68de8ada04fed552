//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// sqlDriverName is the database/sql driver registered for this build. The
// cgo build uses mattn/go-sqlite3 so the sqlite-vec extension (which itself
// requires cgo) can be registered against the same driver in init_vec.go.
const sqlDriverName = "sqlite3"
