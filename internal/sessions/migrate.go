package sessions

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration is one embedded schema step for a dialect.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator applies the embedded migrations for one dialect.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
}

func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: dialect, migrations: migrations}, nil
}

// Migrations lists the known migrations in apply order.
func (m *Migrator) Migrations() []Migration {
	return append([]Migration(nil), m.migrations...)
}

// EnsureSchema creates schema_migrations if needed.
func (m *Migrator) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Up applies pending migrations in order. steps <= 0 applies all of them.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	applied := []string{}
	for _, migration := range pending {
		if strings.TrimSpace(migration.UpSQL) == "" {
			return applied, fmt.Errorf("missing up migration for %s", migration.ID)
		}
		err := m.inTx(ctx, migration.ID, migration.UpSQL,
			`INSERT INTO schema_migrations (id, applied_at) VALUES (?, ?)`,
			migration.ID, time.Now().UnixMicro())
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", migration.ID, err)
		}
		applied = append(applied, migration.ID)
	}
	return applied, nil
}

// Down rolls back the most recent steps migrations; steps <= 0 means one.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > len(applied) {
		steps = len(applied)
	}

	rolled := []string{}
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		id := applied[i].ID
		migration, ok := m.migrationByID(id)
		if !ok {
			return rolled, fmt.Errorf("migration %s not found", id)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return rolled, fmt.Errorf("missing down migration for %s", id)
		}
		err := m.inTx(ctx, id, migration.DownSQL, `DELETE FROM schema_migrations WHERE id = ?`, id)
		if err != nil {
			return rolled, fmt.Errorf("rollback migration %s: %w", id, err)
		}
		rolled = append(rolled, id)
	}
	return rolled, nil
}

// Status returns applied migrations (oldest first) and the pending ones.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, entry := range applied {
		done[entry.ID] = true
	}
	pending := []Migration{}
	for _, migration := range m.migrations {
		if !done[migration.ID] {
			pending = append(pending, migration)
		}
	}
	return applied, pending, nil
}

func (m *Migrator) inTx(ctx context.Context, id, script, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, m.dialect.rebind(record), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s: %w", id, err)
	}
	return tx.Commit()
}

func (m *Migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := []AppliedMigration{}
	for rows.Next() {
		var (
			entry AppliedMigration
			at    int64
		)
		if err := rows.Scan(&entry.ID, &at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		entry.AppliedAt = fromMicros(at)
		applied = append(applied, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema_migrations: %w", err)
	}
	return applied, nil
}

func (m *Migrator) migrationByID(id string) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.ID == id {
			return migration, true
		}
	}
	return Migration{}, false
}

// loadMigrations reads migrations/<dialect>/<id>.up.sql and .down.sql pairs.
func loadMigrations(dialect Dialect) ([]Migration, error) {
	dir := path.Join("migrations", string(dialect))
	paths, err := fs.Glob(migrationsFS, dir+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	entries := map[string]*Migration{}
	for _, p := range paths {
		base := path.Base(p)
		var suffix string
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			suffix = ".up.sql"
		case strings.HasSuffix(base, ".down.sql"):
			suffix = ".down.sql"
		default:
			continue
		}
		id := strings.TrimSuffix(base, suffix)
		entry := entries[id]
		if entry == nil {
			entry = &Migration{ID: id}
			entries[id] = entry
		}
		data, err := migrationsFS.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		if suffix == ".up.sql" {
			entry.UpSQL = string(data)
		} else {
			entry.DownSQL = string(data)
		}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	migrations := make([]Migration, 0, len(ids))
	for _, id := range ids {
		migrations = append(migrations, *entries[id])
	}
	return migrations, nil
}
