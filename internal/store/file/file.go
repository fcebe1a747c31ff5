// Package file persists a findb record as a single protobuf-encoded file,
// optionally sealed with a passphrase.
package file

import (
	"fmt"
	"io"
	"os"

	"findb/internal/record"
	"findb/pkg/kv"
)

// Backend reads and rewrites one record file.
type Backend struct {
	path string
	seal *sealer
}

// New returns a backend for path. An empty passphrase stores the record
// in the clear.
func New(path, passphrase string) *Backend {
	b := &Backend{path: path}
	if passphrase != "" {
		b.seal = newSealer(passphrase)
	}
	return b
}

func (b *Backend) Location() string {
	return b.path
}

func (b *Backend) Exists() bool {
	_, err := os.Stat(b.path)
	return err == nil
}

// Load reads and decodes the file. Open errors are returned unchanged.
func (b *Backend) Load() (*record.Record, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kv.ErrFileLoad, err)
	}
	if b.seal != nil {
		if raw, err = b.seal.open(raw); err != nil {
			return nil, fmt.Errorf("%w: %w", kv.ErrFileLoad, err)
		}
	}
	rec, err := record.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kv.ErrFileLoad, err)
	}
	return rec, nil
}

// Create truncates (or creates) the file for writing.
func (b *Backend) Create() (record.Writer, error) {
	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	return &writer{f: f, seal: b.seal}, nil
}

func (b *Backend) Remove() error {
	return os.Remove(b.path)
}

type writer struct {
	f    *os.File
	seal *sealer
}

func (w *writer) Write(rec *record.Record) error {
	raw, err := record.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", kv.ErrFileWrite, err)
	}
	if w.seal != nil {
		if raw, err = w.seal.seal(raw); err != nil {
			return fmt.Errorf("%w: %w", kv.ErrFileWrite, err)
		}
	}
	if _, err := w.f.Write(raw); err != nil {
		return fmt.Errorf("%w: %w", kv.ErrFileWrite, err)
	}
	return nil
}

func (w *writer) Close() error {
	return w.f.Close()
}
