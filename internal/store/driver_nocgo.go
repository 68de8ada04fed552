//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// sqlDriverName is the database/sql driver registered for this build.
// Without cgo, sqlite-vec is unavailable (see vec_disabled.go), so the pure
// Go modernc.org/sqlite driver serves plain chunk storage and brute-force
// query.
const sqlDriverName = "sqlite"
