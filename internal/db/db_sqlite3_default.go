//go:build !sqlite3_cgo

package db

// Pure-Go sqlite driver. No cgo needed, works for cross-compiled builds.
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
