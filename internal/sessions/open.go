package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/jarvis/internal/config"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DialectForDriver maps a configured driver to its SQL dialect and the name
// it is registered under with database/sql. "sqlite3" needs a cgo build.
func DialectForDriver(driver string) (Dialect, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql":
		return DialectPostgres, "postgres", nil
	case "sqlite":
		return DialectSQLite, "sqlite", nil
	case "sqlite3":
		return DialectSQLite, "sqlite3", nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenDB opens and pings the configured SQL database.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	dialect, driverName, err := DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// One connection keeps :memory: databases shared and avoids SQLITE_BUSY
		// between our own connections.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, "", fmt.Errorf("failed to configure sqlite: %w", err)
			}
		}
	}
	return db, dialect, nil
}

// Open builds the Store selected by cfg.Driver. SQL stores own their
// connection and migrate on open when MigrateOnStart is set.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...SQLOption) (Store, error) {
	if cfg.Driver == "" || cfg.Driver == "memory" {
		return NewMemoryStore(), nil
	}
	db, dialect, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		migrator, err := NewMigrator(db, dialect)
		if err != nil {
			db.Close()
			return nil, err
		}
		if _, err := migrator.Up(ctx, 0); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	store := NewSQLStore(db, dialect, opts...)
	store.ownsDB = true
	return store, nil
}
