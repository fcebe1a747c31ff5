// Package findb is a minimal embedded key-value store. The whole dataset
// lives in memory and every mutation rewrites it to a single backing file.
package findb

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"findb/internal/clock"
	"findb/internal/logging"
	"findb/internal/record"
	"findb/internal/store"
	"findb/pkg/kv"
)

var logger = logging.For("findb")

// Store is an in-memory key-value map, optionally persisted to a file.
// Safe for concurrent use within a single process.
type Store struct {
	mu        sync.Mutex
	data      map[string]kv.Value
	lastSaved time.Time
	backend   store.Backend // nil when the store has no location
	clock     clock.Clock
}

var _ kv.Store = (*Store)(nil)

type options struct {
	format     string
	passphrase string
	clock      clock.Clock
}

// Option configures a Store.
type Option func(*options)

// WithFormat selects the on-disk format (see store.New). Default "file".
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithPassphrase seals the backing file. Only valid with the file format.
func WithPassphrase(p string) Option {
	return func(o *options) { o.passphrase = p }
}

// WithClock overrides the clock used for save timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a store backed by location and loads it. An empty location
// gives a pure in-memory store. If location does not exist it is created
// holding an empty store.
func New(location string, opts ...Option) (*Store, error) {
	o := options{format: store.FormatFile, clock: clock.System{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		data:  make(map[string]kv.Value),
		clock: o.clock,
	}
	if location == "" {
		if o.passphrase != "" {
			return nil, errors.New("passphrase requires a location")
		}
		s.lastSaved = s.clock.Now()
		return s, nil
	}

	b, err := store.New(o.format, location, o.passphrase)
	if err != nil {
		return nil, err
	}
	s.backend = b
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Location returns the backing file path, or "" for an in-memory store.
func (s *Store) Location() string {
	if s.backend == nil {
		return ""
	}
	return s.backend.Location()
}

// Load replaces the in-memory state with the backing file's contents.
// A missing file is created holding an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() error {
	if s.backend == nil || !s.backend.Exists() {
		s.data = make(map[string]kv.Value)
		if err := s.save(); err != nil {
			return err
		}
		if s.backend != nil {
			logger.Info("created database", "location", s.backend.Location())
		}
		return nil
	}

	rec, err := s.backend.Load()
	if err != nil {
		if errors.Is(err, kv.ErrFileLoad) {
			logger.Warn("load failed", "location", s.backend.Location(), "err", err)
		}
		return err
	}
	s.data = rec.Data
	s.lastSaved = rec.Time()
	logger.Info("loaded database", "location", s.backend.Location(), "keys", len(s.data))
	return nil
}

// save writes the full state. The timestamp advances once the file is
// open, even if serialization then fails.
func (s *Store) save() error {
	if s.backend == nil {
		s.lastSaved = s.clock.Now()
		return nil
	}

	w, err := s.backend.Create()
	if err != nil {
		logger.Warn("save failed", "location", s.backend.Location(), "err", err)
		return err
	}
	s.lastSaved = s.clock.Now()
	if err := w.Write(record.New(s.lastSaved, s.data)); err != nil {
		_ = w.Close()
		logger.Warn("save failed", "location", s.backend.Location(), "err", err)
		return err
	}
	if err := w.Close(); err != nil {
		logger.Warn("save failed", "location", s.backend.Location(), "err", err)
		return fmt.Errorf("%w: %w", kv.ErrFileWrite, err)
	}
	logger.Debug("saved database", "location", s.backend.Location(), "keys", len(s.data))
	return nil
}

// Get returns the value stored at key. The boolean is false when the key
// is absent.
func (s *Store) Get(key string) (kv.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value at key and saves. On a failed save the value stays
// in memory.
func (s *Store) Set(key string, value kv.Value) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key and saves. Returns kv.ErrKeyNotFound if key is absent.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return false, fmt.Errorf("%w: %q", kv.ErrKeyNotFound, key)
	}
	delete(s.data, key)
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// Keys returns every key, in no particular order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Keys(s.data))
}

func (s *Store) DBSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// LastSave returns the local time of the last save attempt.
func (s *Store) LastSave() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved.Local()
}

// All iterates over a snapshot of the key/value pairs.
func (s *Store) All() iter.Seq2[string, kv.Value] {
	s.mu.Lock()
	snapshot := maps.Clone(s.data)
	s.mu.Unlock()
	return maps.All(snapshot)
}

func (s *Store) Incr(key string) (int64, error) {
	return s.IncrBy(key, 1)
}

func (s *Store) Decr(key string) (int64, error) {
	return s.DecrBy(key, 1)
}

// IncrBy adds amount to the integer at key. An absent or falsy value
// counts as 0, so a key holding "" or false is overwritten.
func (s *Store) IncrBy(key string, amount int64) (int64, error) {
	return s.step(key, amount, addInt, kv.ErrIncrementNonInt)
}

// DecrBy subtracts amount from the integer at key, with the same rules
// as IncrBy.
func (s *Store) DecrBy(key string, amount int64) (int64, error) {
	return s.step(key, amount, subInt, kv.ErrDecrementNonInt)
}

// addInt and subInt report false when the result does not fit in an int64.
func addInt(a, b int64) (int64, bool) {
	c := a + b
	return c, (c > a) == (b > 0)
}

func subInt(a, b int64) (int64, bool) {
	c := a - b
	return c, (c < a) == (b > 0)
}

func (s *Store) step(key string, amount int64, apply func(a, b int64) (int64, bool), errNonInt error) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur int64
	if v := s.data[key]; v.Truthy() {
		n, ok := v.Int()
		if !ok {
			return 0, fmt.Errorf("%w: %q holds %s", errNonInt, key, v.Kind())
		}
		cur = n
	}
	next, ok := apply(cur, amount)
	if !ok {
		return 0, kv.ErrOverflow
	}

	s.data[key] = kv.Int(next)
	if err := s.save(); err != nil {
		return 0, err
	}
	return next, nil
}

// FlushDB removes every key and saves.
func (s *Store) FlushDB() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]kv.Value)
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteDB removes the backing file without touching memory. An in-memory
// store is flushed instead.
func (s *Store) DeleteDB() error {
	if s.backend == nil {
		_, err := s.FlushDB()
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Remove(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("database file already gone", "location", s.backend.Location())
		}
		return err
	}
	logger.Info("deleted database", "location", s.backend.Location())
	return nil
}
