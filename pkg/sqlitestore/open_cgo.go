//go:build cgo

package sqlitestore

import (
	_ "github.com/tursodatabase/go-libsql"
)

const (
	driverName      = "libsql"
	remoteSupported = true
)
