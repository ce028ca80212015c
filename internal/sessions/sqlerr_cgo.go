//go:build cgo

package sessions

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
)

func isSQLite3Conflict(err error) bool {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
}

func isSQLite3Unique(err error) bool {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
