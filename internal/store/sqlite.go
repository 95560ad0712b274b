package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db   *sql.DB
	keep int
}

// OpenSQLite opens (and migrates) the database at path. Use ":memory:" for
// an in-memory database. keep bounds the status history; zero uses
// DefaultStatusHistoryKeep.
func OpenSQLite(path string, keep int) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if keep <= 0 {
		keep = DefaultStatusHistoryKeep
	}
	s := &SQLite{db: db, keep: keep}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		temperature REAL NOT NULL,
		water_ok INTEGER NOT NULL,
		grounds_ok INTEGER NOT NULL,
		cups_since_empty INTEGER NOT NULL,
		cups_since_filled INTEGER NOT NULL,
		water_flow INTEGER NOT NULL,
		powered_on INTEGER NOT NULL,
		current_step TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature REAL NOT NULL,
		water_ok INTEGER NOT NULL,
		grounds_ok INTEGER NOT NULL,
		cups_since_empty INTEGER NOT NULL,
		cups_since_filled INTEGER NOT NULL,
		water_flow INTEGER NOT NULL,
		powered_on INTEGER NOT NULL,
		current_step TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coffee_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		strength INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		source TEXT NOT NULL,
		created_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_coffee_history_created ON coffee_history(created_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const statusColumns = `temperature, water_ok, grounds_ok, cups_since_empty, cups_since_filled, water_flow, powered_on, current_step, last_updated`

func statusArgs(snap machine.Snapshot) []any {
	return []any{
		snap.Temperature, snap.WaterOK, snap.GroundsOK,
		snap.CupsSinceEmpty, snap.CupsSinceFilled, snap.WaterFlow,
		snap.PoweredOn, string(snap.Step), formatTime(snap.UpdatedAt),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (machine.Snapshot, error) {
	var (
		snap    machine.Snapshot
		step    string
		updated string
	)
	if err := row.Scan(
		&snap.Temperature, &snap.WaterOK, &snap.GroundsOK,
		&snap.CupsSinceEmpty, &snap.CupsSinceFilled, &snap.WaterFlow,
		&snap.PoweredOn, &step, &updated,
	); err != nil {
		return machine.Snapshot{}, err
	}
	snap.Step = machine.Step(step)
	snap.UpdatedAt = parseTime(updated)
	return snap, nil
}

// LoadStatus implements Store.
func (s *SQLite) LoadStatus(ctx context.Context) (machine.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM status WHERE id = 1`)
	snap, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return machine.Snapshot{}, false, nil
	}
	if err != nil {
		return machine.Snapshot{}, false, fmt.Errorf("load status: %w", err)
	}
	return snap, true, nil
}

// SaveStatus implements Store.
func (s *SQLite) SaveStatus(ctx context.Context, snap machine.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	args := statusArgs(snap)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status (id, `+statusColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			temperature = excluded.temperature,
			water_ok = excluded.water_ok,
			grounds_ok = excluded.grounds_ok,
			cups_since_empty = excluded.cups_since_empty,
			cups_since_filled = excluded.cups_since_filled,
			water_flow = excluded.water_flow,
			powered_on = excluded.powered_on,
			current_step = excluded.current_step,
			last_updated = excluded.last_updated
	`, args...); err != nil {
		return fmt.Errorf("save status: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (`+statusColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM status_history WHERE id <= (SELECT MAX(id) FROM status_history) - ?
	`, s.keep); err != nil {
		return fmt.Errorf("prune status history: %w", err)
	}

	return tx.Commit()
}

// StatusHistory implements Store.
func (s *SQLite) StatusHistory(ctx context.Context, limit int) ([]machine.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+statusColumns+` FROM status_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []machine.Snapshot
	for rows.Next() {
		snap, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveCoffee implements Store.
func (s *SQLite) SaveCoffee(ctx context.Context, rec machine.CoffeeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coffee_history (id, type, strength, amount, source, created_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Type, rec.Strength, rec.Amount, rec.Source, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("save coffee: %w", err)
	}
	return nil
}

// CoffeeHistory implements Store.
func (s *SQLite) CoffeeHistory(ctx context.Context, limit int) ([]machine.CoffeeRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, strength, amount, source, created_date FROM (
			SELECT * FROM coffee_history ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query coffee history: %w", err)
	}
	defer rows.Close()

	var out []machine.CoffeeRecord
	for rows.Next() {
		var (
			rec     machine.CoffeeRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Strength, &rec.Amount, &rec.Source, &created); err != nil {
			return nil, fmt.Errorf("scan coffee history: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
