//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the sqlite-vec extension with mattn/go-sqlite3 as an
	// auto-loadable extension, so every new connection picks it up.
	vec.Auto()
}
