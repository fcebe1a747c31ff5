// Package sqlite persists a findb record in a single SQLite database file.
//
// Tables:
//
//	meta(name, value)     version and last_saved
//	entries(key, value)   PRIMARY KEY (key), value is an encoded record value
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"findb/internal/record"
	"findb/pkg/kv"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);`

type Backend struct {
	path string
}

func New(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) Location() string {
	return b.path
}

func (b *Backend) Exists() bool {
	_, err := os.Stat(b.path)
	return err == nil
}

func (b *Backend) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", b.path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Load reads meta and entries. Anything that fails after the database
// was opened is a load error, as is a file SQLite rejects as not a
// database or corrupt. Other open failures are returned as is.
func (b *Backend) Load() (*record.Record, error) {
	db, err := b.open()
	if err != nil {
		if undecodable(err) {
			return nil, fmt.Errorf("%w: %w", kv.ErrFileLoad, err)
		}
		return nil, err
	}
	defer db.Close()

	rec, err := load(db)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kv.ErrFileLoad, err)
	}
	return rec, nil
}

func undecodable(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrNotADB || se.Code == sqlite3.ErrCorrupt
}

func load(db *sql.DB) (*record.Record, error) {
	rec := &record.Record{Data: make(map[string]kv.Value)}

	var raw string
	err := db.QueryRow("SELECT value FROM meta WHERE name = 'last_saved'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrMissingLastSaved
	}
	if err != nil {
		return nil, err
	}
	if rec.LastSaved, err = strconv.ParseFloat(raw, 64); err != nil {
		return nil, fmt.Errorf("parsing last_saved: %w", err)
	}

	err = db.QueryRow("SELECT value FROM meta WHERE name = 'version'").Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing version: %w", err)
		}
		if v > record.Version {
			return nil, fmt.Errorf("unsupported record version %d", v)
		}
		rec.Version = uint32(v)
	}

	rows, err := db.Query("SELECT key, value FROM entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			val []byte
		)
		if err := rows.Scan(&key, &val); err != nil {
			return nil, err
		}
		v, err := record.UnmarshalValue(val)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		rec.Data[key] = v
	}
	return rec, rows.Err()
}

// Create opens (or creates) the database for one save.
func (b *Backend) Create() (record.Writer, error) {
	db, err := b.open()
	if err != nil {
		return nil, err
	}
	return &writer{db: db}, nil
}

// Remove deletes the database file and any leftover rollback journal.
func (b *Backend) Remove() error {
	if err := os.Remove(b.path); err != nil {
		return err
	}
	if err := os.Remove(b.path + "-journal"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type writer struct {
	db *sql.DB
}

// Write replaces every row in one transaction.
func (w *writer) Write(rec *record.Record) error {
	if err := w.write(rec); err != nil {
		return fmt.Errorf("%w: %w", kv.ErrFileWrite, err)
	}
	return nil
}

func (w *writer) write(rec *record.Record) error {
	encoded := make(map[string][]byte, len(rec.Data))
	for k, v := range rec.Data {
		raw, err := record.MarshalValue(v)
		if err != nil {
			return fmt.Errorf("encoding key %q: %w", k, err)
		}
		encoded[k] = raw
	}

	version := rec.Version
	if version == 0 {
		version = record.Version
	}

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO entries (key, value) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range encoded {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}

	upsert := `INSERT INTO meta (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	if _, err := tx.Exec(upsert, "version", strconv.FormatUint(uint64(version), 10)); err != nil {
		return err
	}
	if _, err := tx.Exec(upsert, "last_saved", strconv.FormatFloat(rec.LastSaved, 'g', -1, 64)); err != nil {
		return err
	}
	return tx.Commit()
}

func (w *writer) Close() error {
	return w.db.Close()
}
