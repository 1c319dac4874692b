//go:build cgo && sqlite3_cgo

package db

// Opt-in cgo sqlite driver, selected with -tags sqlite3_cgo.
import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)
