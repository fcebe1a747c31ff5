// Package kv defines the value model, error kinds and store interface
// shared by findb and its persistence backends.
package kv

import (
	"errors"
	"time"
)

var (
	// ErrFileLoad is returned when a backing file exists but cannot be
	// decoded into a record.
	ErrFileLoad = errors.New("the given file could not be loaded")
	// ErrFileWrite is returned when a record cannot be serialized or
	// written after the backing file was opened.
	ErrFileWrite = errors.New("could not write database to file")

	ErrIncrementNonInt = errors.New("attempting to increase a value that is not stored as an int")
	ErrDecrementNonInt = errors.New("attempting to decrease a value that is not stored as an int")
	ErrKeyNotFound     = errors.New("key not found")
	ErrOverflow        = errors.New("increment or decrement would overflow")
)

// Store defines the operations of a findb key-value store.
// Implementations can be wrapped, e.g. for instrumentation.
type Store interface {
	// Get returns the value for key and true, or the zero Value and false
	// when the key is absent.
	Get(key string) (Value, bool)

	// Set inserts or overwrites key and persists the store.
	Set(key string, value Value) (bool, error)

	// Delete removes key and persists the store.
	// Returns ErrKeyNotFound if key is absent.
	Delete(key string) (bool, error)

	Keys() []string
	DBSize() int
	LastSave() time.Time

	// IncrBy adds amount to the integer stored at key and returns the result.
	IncrBy(key string, amount int64) (int64, error)
	// DecrBy subtracts amount from the integer stored at key and returns the result.
	DecrBy(key string, amount int64) (int64, error)

	// FlushDB removes every key and persists the empty store.
	FlushDB() (bool, error)
	// DeleteDB removes the backing file, or flushes an in-memory store.
	DeleteDB() error
}
