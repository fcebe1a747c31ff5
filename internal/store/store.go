// Package store defines the persistence backends a findb store saves its
// full state to. Every backend targets a single file and rewrites the whole
// record on each save.
package store

import (
	"errors"
	"fmt"

	"findb/internal/record"
	"findb/internal/store/bolt"
	"findb/internal/store/file"
	"findb/internal/store/sqlite"
)

// Supported formats.
const (
	FormatFile   = "file"
	FormatBolt   = "bolt"
	FormatSQLite = "sqlite"
)

// ErrPassphraseUnsupported is returned when a passphrase is combined with a
// format that cannot seal its contents.
var ErrPassphraseUnsupported = errors.New("passphrase is only supported by the file format")

// Backend is a single-file persistence target.
//
// Load and Create return open failures unchanged; decode failures from Load
// wrap kv.ErrFileLoad and encode/write failures from Writer.Write wrap
// kv.ErrFileWrite.
type Backend interface {
	Location() string
	Exists() bool
	Load() (*record.Record, error)
	Create() (Writer, error)
	Remove() error
}

// Writer holds an open backing file for the duration of one save.
type Writer = record.Writer

// Compile-time checks.
var (
	_ Backend = (*file.Backend)(nil)
	_ Backend = (*bolt.Backend)(nil)
	_ Backend = (*sqlite.Backend)(nil)
)

// New creates a Backend for the given format.
//
// Supported formats:
//
//	"file"   - protobuf record, optionally sealed with passphrase (default)
//	"bolt"   - bbolt database
//	"sqlite" - SQLite database
func New(format, location, passphrase string) (Backend, error) {
	if location == "" {
		return nil, errors.New("backend location is required")
	}
	switch format {
	case FormatFile, "":
		return file.New(location, passphrase), nil
	case FormatBolt:
		if passphrase != "" {
			return nil, ErrPassphraseUnsupported
		}
		return bolt.New(location), nil
	case FormatSQLite:
		if passphrase != "" {
			return nil, ErrPassphraseUnsupported
		}
		return sqlite.New(location), nil
	default:
		return nil, fmt.Errorf("unknown store format: %q (supported: file, bolt, sqlite)", format)
	}
}
