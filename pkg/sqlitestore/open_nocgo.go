//go:build !cgo

package sqlitestore

import (
	"database/sql"

	sqlite "modernc.org/sqlite"
)

const (
	driverName      = "golivy-sqlite"
	remoteSupported = false
)

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}
