// Package record defines the versioned on-disk snapshot of a findb store
// and its protobuf wire encoding.
//
// The encoding is hand-assembled with protowire so that no generated code
// is needed:
//
//	message Record { uint32 version = 1; double last_saved = 2; Data data = 3; }
//	message Data   { repeated Entry entries = 1; }
//	message Entry  { string key = 1; google.protobuf.Any value = 2; }
//
// last_saved and data are required; data may be empty.
package record

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"findb/pkg/kv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the record format written by this package.
const Version = 1

const (
	fieldVersion   protowire.Number = 1
	fieldLastSaved protowire.Number = 2
	fieldData      protowire.Number = 3

	fieldEntry protowire.Number = 1

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2
)

var (
	ErrMissingLastSaved = errors.New("record has no last_saved timestamp")
	ErrMissingData      = errors.New("record has no data mapping")
	ErrDuplicateKey     = errors.New("record contains a duplicate key")
)

// Record is a full snapshot of a store.
type Record struct {
	Version   uint32
	LastSaved float64 // seconds since the Unix epoch
	Data      map[string]kv.Value
}

// New builds a current-version record. data is referenced, not copied.
func New(lastSaved time.Time, data map[string]kv.Value) *Record {
	return &Record{
		Version:   Version,
		LastSaved: Seconds(lastSaved),
		Data:      data,
	}
}

// Time returns LastSaved as a time.Time in the local zone.
func (r *Record) Time() time.Time {
	return FromSeconds(r.LastSaved)
}

// Seconds converts t to fractional seconds since the epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromSeconds converts fractional epoch seconds to a time.Time.
func FromSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Marshal encodes r. Entries are written in key order.
// It fails if any value cannot be encoded.
func Marshal(r *Record) ([]byte, error) {
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data []byte
	for _, k := range keys {
		val, err := MarshalValue(r.Data[k])
		if err != nil {
			return nil, fmt.Errorf("encoding key %q: %w", k, err)
		}
		var entry []byte
		entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, val)

		data = protowire.AppendTag(data, fieldEntry, protowire.BytesType)
		data = protowire.AppendBytes(data, entry)
	}

	version := r.Version
	if version == 0 {
		version = Version
	}

	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(version))
	b = protowire.AppendTag(b, fieldLastSaved, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(r.LastSaved))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b, nil
}

// Unmarshal decodes a record written by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (*Record, error) {
	r := &Record{}
	var haveLastSaved, haveData bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if v > Version {
				return nil, fmt.Errorf("unsupported record version %d", v)
			}
			r.Version = uint32(v)
			b = b[n:]
		case num == fieldLastSaved && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			r.LastSaved = math.Float64frombits(v)
			haveLastSaved = true
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data, err := unmarshalData(v)
			if err != nil {
				return nil, err
			}
			r.Data = data
			haveData = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	if !haveLastSaved {
		return nil, ErrMissingLastSaved
	}
	if !haveData {
		return nil, ErrMissingData
	}
	return r, nil
}

func unmarshalData(b []byte) (map[string]kv.Value, error) {
	data := make(map[string]kv.Value)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != fieldEntry || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		key, val, err := unmarshalEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := data[key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		data[key] = val
	}
	return data, nil
}

func unmarshalEntry(b []byte) (string, kv.Value, error) {
	var (
		key     string
		val     kv.Value
		haveVal bool
		haveKey bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", kv.Value{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", kv.Value{}, protowire.ParseError(n)
			}
			key, haveKey = s, true
			b = b[n:]
		case num == fieldEntryValue && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", kv.Value{}, protowire.ParseError(n)
			}
			v, err := UnmarshalValue(raw)
			if err != nil {
				return "", kv.Value{}, err
			}
			val, haveVal = v, true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", kv.Value{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if !haveKey {
		return "", kv.Value{}, errors.New("entry has no key")
	}
	if !haveVal {
		return "", kv.Value{}, fmt.Errorf("entry %q has no value", key)
	}
	return key, val, nil
}

// Writer writes one record to an open backing file.
type Writer interface {
	Write(r *Record) error
	Close() error
}
