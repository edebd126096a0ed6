package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/btchat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrTablesNotEmpty is returned by Rollback when the migration being
	// reverted would drop tables that still hold rows.
	ErrTablesNotEmpty = errors.New("btchat: rollback would drop tables that hold data")
	// ErrChecksumMismatch is returned by Migrate when an applied migration
	// was edited after it ran.
	ErrChecksumMismatch = errors.New("btchat: migration checksum mismatch")
)

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS bt_migrations (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	checksum   TEXT NOT NULL
);`

var createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-z_][a-z0-9_]*)`)

// migration is one numbered up/down pair. tables lists what up creates.
type migration struct {
	name     string
	up       string
	down     string
	checksum string
	tables   []string
}

type appliedMigration struct {
	id        int
	appliedAt time.Time
	checksum  string
}

// parseMigrations pairs NNN_name.up.sql with NNN_name.down.sql under dir.
// Every migration must be reversible.
func parseMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byName := make(map[string]*migration)
	get := func(name string) *migration {
		if m, ok := byName[name]; ok {
			return m
		}
		m := &migration{name: name}
		byName[name] = m
		return m
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		data, err := fs.ReadFile(fsys, path.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}

		switch {
		case strings.HasSuffix(file, ".up.sql"):
			m := get(strings.TrimSuffix(file, ".up.sql"))
			m.up = string(data)
			m.checksum = fmt.Sprintf("%x", sha256.Sum256(data))
			m.tables = createdTables(m.up)
		case strings.HasSuffix(file, ".down.sql"):
			get(strings.TrimSuffix(file, ".down.sql")).down = string(data)
		}
	}

	migrations := make([]migration, 0, len(byName))
	for name, m := range byName {
		if m.up == "" {
			return nil, fmt.Errorf("migration %s has no up file", name)
		}
		if m.down == "" {
			return nil, fmt.Errorf("migration %s has no down file", name)
		}
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].name < migrations[j].name
	})
	return migrations, nil
}

func createdTables(sql string) []string {
	var tables []string
	for _, m := range createTableRe.FindAllStringSubmatch(sql, -1) {
		tables = append(tables, strings.ToLower(m[1]))
	}
	return tables
}

func loadMigrations() ([]migration, error) {
	return parseMigrations(migrationsFS, "migrations")
}

func (s *PGStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, createMigrationsTableSQL)
	return err
}

func (s *PGStore) appliedMigrations(ctx context.Context) (map[string]appliedMigration, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, applied_at, checksum FROM bt_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]appliedMigration)
	for rows.Next() {
		var name string
		var rec appliedMigration
		if err := rows.Scan(&rec.id, &name, &rec.appliedAt, &rec.checksum); err != nil {
			return nil, err
		}
		applied[name] = rec
	}
	return applied, rows.Err()
}

// rowCounts returns the row count of each table.
func (s *PGStore) rowCounts(ctx context.Context, tables []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		q := `SELECT COUNT(*) FROM ` + pgx.Identifier{table}.Sanitize()
		if err := s.db.QueryRow(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Migrate applies all pending migrations in order, each in its own transaction.
func (s *PGStore) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("btchat: ensure migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("btchat: load migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("btchat: get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if rec, ok := applied[m.name]; ok {
			if rec.checksum != m.checksum {
				return fmt.Errorf("%w: %s (recorded %s, embedded %s)", ErrChecksumMismatch, m.name, rec.checksum, m.checksum)
			}
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}

	return nil
}

func (s *PGStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("btchat: begin migration %s: %w", m.name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.up); err != nil {
		return fmt.Errorf("btchat: run migration %s: %w", m.name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO bt_migrations (name, checksum) VALUES ($1, $2)`, m.name, m.checksum); err != nil {
		return fmt.Errorf("btchat: record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("btchat: commit migration %s: %w", m.name, err)
	}
	return nil
}

// Rollback reverts the most recently applied migration. Unless force is set
// it fails with ErrTablesNotEmpty when any table the migration created still
// holds rows.
func (s *PGStore) Rollback(ctx context.Context, force bool) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("btchat: ensure migrations table: %w", err)
	}

	var id int
	var name string
	err := s.db.QueryRow(ctx, `SELECT id, name FROM bt_migrations ORDER BY id DESC LIMIT 1`).Scan(&id, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.New("btchat: no applied migrations")
	}
	if err != nil {
		return fmt.Errorf("btchat: get last migration: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("btchat: load migrations: %w", err)
	}
	m, ok := findMigration(migrations, name)
	if !ok {
		return fmt.Errorf("btchat: migration %s is applied but not embedded in this build", name)
	}

	if !force {
		counts, err := s.rowCounts(ctx, m.tables)
		if err != nil {
			return fmt.Errorf("btchat: rollback %s: %w", name, err)
		}
		if err := checkEmpty(m, counts); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("btchat: begin rollback %s: %w", name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.down); err != nil {
		return fmt.Errorf("btchat: run rollback %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM bt_migrations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("btchat: remove migration record %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("btchat: commit rollback %s: %w", name, err)
	}
	return nil
}

func findMigration(migrations []migration, name string) (migration, bool) {
	for _, m := range migrations {
		if m.name == name {
			return m, true
		}
	}
	return migration{}, false
}

// checkEmpty reports the non-empty tables of m, in creation order.
func checkEmpty(m migration, counts map[string]int64) error {
	var held []string
	for _, table := range m.tables {
		if n := counts[table]; n > 0 {
			held = append(held, fmt.Sprintf("%s=%d", table, n))
		}
	}
	if len(held) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s (%s); pass force to drop them", ErrTablesNotEmpty, m.name, strings.Join(held, ", "))
}

// MigrationStatus returns every embedded migration with its applied state,
// the tables it owns and, when applied, how many rows those tables hold.
func (s *PGStore) MigrationStatus(ctx context.Context) ([]btchat.MigrationRecord, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("btchat: ensure migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("btchat: load migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("btchat: get applied migrations: %w", err)
	}

	var live []string
	for _, m := range migrations {
		if _, ok := applied[m.name]; ok {
			live = append(live, m.tables...)
		}
	}
	counts, err := s.rowCounts(ctx, live)
	if err != nil {
		return nil, fmt.Errorf("btchat: migration status: %w", err)
	}

	return statusRecords(migrations, applied, counts), nil
}

func statusRecords(migrations []migration, applied map[string]appliedMigration, counts map[string]int64) []btchat.MigrationRecord {
	records := make([]btchat.MigrationRecord, 0, len(migrations))
	for _, m := range migrations {
		rec := btchat.MigrationRecord{Name: m.name, Tables: m.tables}

		if a, ok := applied[m.name]; ok {
			at := a.appliedAt
			rec.Applied = true
			rec.AppliedAt = &at
			rec.Checksum = a.checksum
			for _, table := range m.tables {
				rec.Rows += counts[table]
			}
		}

		records = append(records, rec)
	}
	return records
}
