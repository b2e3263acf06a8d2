//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// Portable build: the pure-Go driver, with nearest-neighbor search
// computed in Go over the stored embeddings.
const (
	sqliteDriver   = "sqlite"
	vecAccelerated = false
)
