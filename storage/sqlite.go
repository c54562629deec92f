// Package storage holds the SQLite puzzle store, the per-device key/value
// store and the on-disk image store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Seednode/cinesort/games/cinesort"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for puzzles and device data.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
// The path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS puzzles (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			title TEXT NOT NULL,
			scenes TEXT NOT NULL,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_puzzles_date ON puzzles(date);`,
		`CREATE INDEX IF NOT EXISTS idx_puzzles_created_at ON puzzles(created_at);`,
		`CREATE TABLE IF NOT EXISTS device_kv (
			device_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (device_id, key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const puzzleColumns = `id, date, title, scenes, created_at, created_by`

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPuzzle(row rowScanner) (cinesort.Puzzle, error) {
	var (
		p                 cinesort.Puzzle
		scenes, createdAt string
	)
	if err := row.Scan(&p.ID, &p.Date, &p.Title, &scenes, &createdAt, &p.CreatedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cinesort.Puzzle{}, cinesort.ErrNotFound
		}
		return cinesort.Puzzle{}, err
	}

	if err := json.Unmarshal([]byte(scenes), &p.Scenes); err != nil {
		return cinesort.Puzzle{}, fmt.Errorf("failed to decode scenes of puzzle %s: %w", p.ID, err)
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return cinesort.Puzzle{}, fmt.Errorf("failed to parse creation time of puzzle %s: %w", p.ID, err)
	}
	p.CreatedAt = t

	return p, nil
}

// FindByID returns the puzzle with the given id.
func (s *Store) FindByID(ctx context.Context, id string) (cinesort.Puzzle, error) {
	return scanPuzzle(s.db.QueryRowContext(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles WHERE id = ?`, id))
}

// FindByDate returns the puzzle for date. If the table somehow holds more
// than one, the most recently created wins.
func (s *Store) FindByDate(ctx context.Context, date string) (cinesort.Puzzle, error) {
	return scanPuzzle(s.db.QueryRowContext(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles WHERE date = ? ORDER BY created_at DESC LIMIT 1`, date))
}

// FindRange returns puzzles dated on or after fromDate, ascending by date.
func (s *Store) FindRange(ctx context.Context, fromDate string) ([]cinesort.Puzzle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles WHERE date >= ? ORDER BY date ASC, created_at ASC`, fromDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []cinesort.Puzzle{}
	for rows.Next() {
		p, err := scanPuzzle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindLatestByCreation returns the most recently created puzzle.
func (s *Store) FindLatestByCreation(ctx context.Context) (cinesort.Puzzle, error) {
	return scanPuzzle(s.db.QueryRowContext(ctx,
		`SELECT `+puzzleColumns+` FROM puzzles ORDER BY created_at DESC LIMIT 1`))
}

// Insert stores p and returns its id.
func (s *Store) Insert(ctx context.Context, p cinesort.Puzzle) (string, error) {
	if p.ID == "" {
		p.ID = cinesort.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	scenes, err := json.Marshal(p.Scenes)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO puzzles (`+puzzleColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Date,
		p.Title,
		string(scenes),
		p.CreatedAt.UTC().Format(timeLayout),
		p.CreatedBy,
	)
	if err != nil {
		return "", err
	}

	return p.ID, nil
}

// Patch updates the non-nil fields of the puzzle with the given id.
func (s *Store) Patch(ctx context.Context, id string, fields cinesort.PuzzleFields) error {
	var (
		sets []string
		args []any
	)
	if fields.Date != nil {
		sets = append(sets, "date = ?")
		args = append(args, *fields.Date)
	}
	if fields.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *fields.Title)
	}
	if fields.Scenes != nil {
		scenes, err := json.Marshal(fields.Scenes)
		if err != nil {
			return err
		}
		sets = append(sets, "scenes = ?")
		args = append(args, string(scenes))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE puzzles SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}

	return affectedOne(res)
}

// Remove deletes the puzzle with the given id.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM puzzles WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return cinesort.ErrNotFound
	}
	return nil
}

// DeviceKV is the key/value view of one device's rows.
type DeviceKV struct {
	db       *sql.DB
	deviceID string
}

// Device returns the key/value store of deviceID.
func (s *Store) Device(deviceID string) *DeviceKV {
	return &DeviceKV{db: s.db, deviceID: deviceID}
}

// Get returns the value under key, and whether it was set.
func (d *DeviceKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx,
		`SELECT value FROM device_kv WHERE device_id = ? AND key = ?`, d.deviceID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key.
func (d *DeviceKV) Set(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO device_kv (device_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		d.deviceID, key, value, time.Now().UTC().Format(timeLayout))
	return err
}
