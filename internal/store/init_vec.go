//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// Accelerated build: the cgo driver with the sqlite-vec extension
// auto-loaded into every connection, so nearest-neighbor distance runs
// in SQL (vec_distance_cosine) instead of Go.
const (
	sqliteDriver   = "sqlite3"
	vecAccelerated = true
)

func init() {
	vec.Auto()
}
