//go:build !(sqlite_vec && cgo)

package store

import "testing"

func TestDefaultBuildUsesPureGoDriver(t *testing.T) {
	if sqliteDriver != "sqlite" {
		t.Errorf("driver = %q, want the pure-Go modernc driver", sqliteDriver)
	}
	if vecAccelerated {
		t.Error("default build must compute nearest neighbors in Go, not sqlite-vec")
	}
}
