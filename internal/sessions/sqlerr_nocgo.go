//go:build !cgo

package sessions

// The sqlite3 driver needs cgo; without it only the pure Go "sqlite" driver
// is registered.

func isSQLite3Conflict(error) bool { return false }

func isSQLite3Unique(error) bool { return false }
