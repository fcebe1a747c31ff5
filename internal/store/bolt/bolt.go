package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"findb/internal/record"
	"findb/pkg/kv"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var (
	metaBucket = []byte("meta")
	dataBucket = []byte("data")

	keyVersion   = []byte("version")
	keyLastSaved = []byte("last_saved")
)

const openTimeout = time.Second

// Backend persists a findb record in a bbolt (embedded B+ tree) file.
// Bucket "meta" holds the record version and last_saved; bucket "data"
// maps each key to its encoded value.
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

// Load opens the database read-only and decodes its buckets.
// A file that is not a bbolt database is a load error; other open
// failures are returned unchanged.
func (b *Backend) Load() (*record.Record, error) {
	info, err := os.Stat(b.path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: empty database file", kv.ErrFileLoad)
	}

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{ReadOnly: true, Timeout: openTimeout})
	if err != nil {
		if isCorrupt(err) {
			return nil, fmt.Errorf("%w: %w", kv.ErrFileLoad, err)
		}
		return nil, err
	}
	defer db.Close()

	rec := &record.Record{Data: make(map[string]kv.Value)}
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return record.ErrMissingLastSaved
		}
		ts := meta.Get(keyLastSaved)
		if len(ts) != 8 {
			return record.ErrMissingLastSaved
		}
		rec.LastSaved = math.Float64frombits(binary.BigEndian.Uint64(ts))

		if v := meta.Get(keyVersion); v != nil {
			if len(v) != 4 {
				return errors.New("malformed record version")
			}
			rec.Version = binary.BigEndian.Uint32(v)
			if rec.Version > record.Version {
				return fmt.Errorf("unsupported record version %d", rec.Version)
			}
		}

		data := tx.Bucket(dataBucket)
		if data == nil {
			return record.ErrMissingData
		}
		return data.ForEach(func(k, v []byte) error {
			val, err := record.UnmarshalValue(v)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			rec.Data[string(k)] = val
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kv.ErrFileLoad, err)
	}
	return rec, nil
}

// Create opens (or creates) the database for one save.
func (b *Backend) Create() (record.Writer, error) {
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, err
	}
	return &writer{db: db}, nil
}

func (b *Backend) Remove() error {
	return os.Remove(b.path)
}

func isCorrupt(err error) bool {
	return errors.Is(err, berrors.ErrInvalid) ||
		errors.Is(err, berrors.ErrVersionMismatch) ||
		errors.Is(err, berrors.ErrChecksum)
}

type writer struct {
	db *bolt.DB
}

// Write replaces the data bucket and meta entries in a single transaction.
func (w *writer) Write(rec *record.Record) error {
	encoded := make(map[string][]byte, len(rec.Data))
	for k, v := range rec.Data {
		raw, err := record.MarshalValue(v)
		if err != nil {
			return fmt.Errorf("%w: encoding key %q: %w", kv.ErrFileWrite, k, err)
		}
		encoded[k] = raw
	}

	version := rec.Version
	if version == 0 {
		version = record.Version
	}

	err := w.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(dataBucket) != nil {
			if err := tx.DeleteBucket(dataBucket); err != nil {
				return fmt.Errorf("clearing data bucket: %w", err)
			}
		}
		data, err := tx.CreateBucket(dataBucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		for k, v := range encoded {
			if err := data.Put([]byte(k), v); err != nil {
				return err
			}
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		var ver [4]byte
		binary.BigEndian.PutUint32(ver[:], version)
		if err := meta.Put(keyVersion, ver[:]); err != nil {
			return err
		}
		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], math.Float64bits(rec.LastSaved))
		return meta.Put(keyLastSaved, ts[:])
	})
	if err != nil {
		return fmt.Errorf("%w: %w", kv.ErrFileWrite, err)
	}
	return nil
}

func (w *writer) Close() error {
	return w.db.Close()
}
