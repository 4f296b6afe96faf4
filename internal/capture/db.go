// Package capture records the hardware conversation to sqlite so it can be
// compared against reference captures from physical controllers.
package capture

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/touchring/internal/link"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is a capture database.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the capture database at path and applies
// all pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// newMigrate creates a migrate instance over the embedded migrations.
// It is not closed by callers because that would close the shared *sql.DB.
func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty flag.
func (db *DB) MigrateVersion() (uint, bool, error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// InsertExchanges stores a batch in one transaction.
func (db *DB) InsertExchanges(ctx context.Context, batch []link.Exchange) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exchanges (session_id, side, kind, name, data_hex, recorded_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx,
			e.SessionID.String(), e.Side.String(), e.Kind, e.Name,
			hex.EncodeToString(e.Data), e.Time.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert %s %s: %w", e.Kind, e.Name, err)
		}
	}
	return tx.Commit()
}

// Entry is one stored exchange.
type Entry struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	DataHex   string `json:"data_hex"`
	UnixNanos int64  `json:"unix_nanos"`
}

// Transcript returns the exchanges of one session in order. limit <= 0
// means no limit.
func (db *DB) Transcript(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT exchange_id, session_id, side, kind, name, data_hex, recorded_unix_nanos
		FROM exchanges
		WHERE session_id = ?
		ORDER BY exchange_id
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Side, &e.Kind, &e.Name, &e.DataHex, &e.UnixNanos); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SessionSummary aggregates one session's traffic.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Side      string `json:"side"`
	Commands  int64  `json:"commands"`
	Responses int64  `json:"responses"`
	Frames    int64  `json:"frames"`
	FirstNano int64  `json:"first_unix_nanos"`
	LastNano  int64  `json:"last_unix_nanos"`
}

// Sessions lists every recorded session, most recent first.
func (db *DB) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, side, commands, responses, frames, first_unix_nanos, last_unix_nanos
		FROM session_summary
		ORDER BY last_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.Side, &s.Commands, &s.Responses, &s.Frames, &s.FirstNano, &s.LastNano); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
