// Package sqlite implements the domain repositories on top of SQLite,
// grounded on the teacher's internal/infrastructure/sqlite package: the
// same explicit Model-struct + toModel/toDomain conversion shape, the same
// directory-create-on-open and pre-migration-backup behavior, adapted here
// to the projects/issues/issue_logs/app_settings schema instead of the
// teacher's single sessions table.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/WuChenDi/bitk/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the shared *sql.DB connection handed to every repository
// constructor below. All mutations go through it directly; there is no
// per-repository connection pool.
type DB struct {
	conn *sql.DB
}

// NewDB opens (creating if absent) the SQLite database at path, backing up
// any pre-existing file before running migrations, and applies every
// pending migration embedded in this package.
func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := backupFile(path, path+".bak"); err != nil {
			return nil, fmt.Errorf("backing up existing database: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Connection exposes the underlying *sql.DB for callers that need it
// directly (migration tooling, health checks).
func (d *DB) Connection() *sql.DB {
	return d.conn
}

// IssueRepository returns the domain.IssueRepository backed by this DB.
func (d *DB) IssueRepository() domain.IssueRepository {
	return newIssueRepository(d.conn)
}

// LogRepository returns the domain.LogRepository backed by this DB.
func (d *DB) LogRepository() domain.LogRepository {
	return newLogRepository(d.conn)
}

// ProjectRepository returns the domain.ProjectRepository backed by this DB.
func (d *DB) ProjectRepository() domain.ProjectRepository {
	return newProjectRepository(d.conn)
}

// SettingsRepository returns the domain.SettingsRepository backed by this DB.
func (d *DB) SettingsRepository() domain.SettingsRepository {
	return newSettingsRepository(d.conn)
}

func backupFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}

// runMigrations reads the embedded migration files through golang-migrate's
// source.Driver (iofs), applying every "up" migration whose version hasn't
// been recorded in schema_migrations yet, in order, each in its own
// transaction. golang-migrate's own database driver for sqlite3 pulls in
// mattn/go-sqlite3 (cgo) unconditionally for its error-type introspection,
// which conflicts with this repo's cgo-free ncruces/go-sqlite3 runtime
// driver (see DESIGN.md); reading migrations through source.Driver and
// applying them directly over the existing *sql.DB keeps the iofs-embed
// workflow while staying on a single sqlite driver.
func runMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	defer func() { _ = src.Close() }()

	version, err := src.First()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading first migration: %w", err)
	}

	for {
		var applied bool
		if err := conn.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`, version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if !applied {
			if err := applyMigration(conn, src, version); err != nil {
				return fmt.Errorf("applying migration %d: %w", version, err)
			}
		}

		next, err := src.Next(version)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return fmt.Errorf("reading next migration after %d: %w", version, err)
		}
		version = next
	}
	return nil
}

func applyMigration(conn *sql.DB, src source.Driver, version uint) error {
	r, _, err := src.ReadUp(version)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	// The sqlite driver's Exec doesn't reliably run multiple
	// semicolon-separated statements in one call, so each statement in the
	// migration file is executed individually within this transaction.
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func splitStatements(sqlText string) []string {
	var stmts []string
	for _, raw := range strings.Split(sqlText, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
