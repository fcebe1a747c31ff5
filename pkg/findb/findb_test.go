package findb_test

import (
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"findb/internal/clock"
	"findb/internal/logging"
	"findb/internal/store"
	"findb/pkg/findb"
	"findb/pkg/kv"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// backend describes one way of opening a store. location returns "" for
// the in-memory store.
type backend struct {
	name     string
	location func(t *testing.T) string
	opts     []findb.Option
}

func backends() []backend {
	onDisk := func(t *testing.T) string { return filepath.Join(t.TempDir(), "test.db") }
	return []backend{
		{name: "memory", location: func(*testing.T) string { return "" }},
		{name: "file", location: onDisk},
		{name: "sealed", location: onDisk, opts: []findb.Option{findb.WithPassphrase("correct horse")}},
		{name: "bolt", location: onDisk, opts: []findb.Option{findb.WithFormat(store.FormatBolt)}},
		{name: "sqlite", location: onDisk, opts: []findb.Option{findb.WithFormat(store.FormatSQLite)}},
	}
}

func openStore(t *testing.T, location string, opts ...findb.Option) *findb.Store {
	t.Helper()
	s, err := findb.New(location, opts...)
	if err != nil {
		t.Fatalf("New(%q): %v", location, err)
	}
	return s
}

func mustSet(t *testing.T, s kv.Store, key string, v kv.Value) {
	t.Helper()
	if ok, err := s.Set(key, v); err != nil || !ok {
		t.Fatalf("Set(%q): ok=%v err=%v", key, ok, err)
	}
}

// forEachBackend runs fn against a fresh store for every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s *findb.Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, openStore(t, b.location(t), b.opts...))
		})
	}
}

func TestSetGet(t *testing.T) {
	values := map[string]kv.Value{
		"int":   kv.Int(-7),
		"text":  kv.Text("value1"),
		"float": kv.Float(3.25),
		"bool":  kv.Bool(true),
		"bytes": kv.Bytes([]byte{0, 1, 2}),
	}
	forEachBackend(t, func(t *testing.T, s *findb.Store) {
		for k, v := range values {
			mustSet(t, s, k, v)
			got, ok := s.Get(k)
			if !ok || !got.Equal(v) {
				t.Fatalf("Get(%q) = %v, %v; want %v", k, got, ok, v)
			}
		}
	})
}

func TestGetMissing(t *testing.T) {
	s := openStore(t, "")
	v, ok := s.Get("nope")
	if ok {
		t.Fatal("missing key should report ok=false")
	}
	if v.Valid() {
		t.Fatalf("missing key should return the zero Value, got %v", v)
	}
}

func TestIncrDecrAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *findb.Store) {
		tests := []struct {
			name string
			op   func(string) (int64, error)
			want int64
		}{
			{"incr", s.Incr, 1},
			{"incr by", func(k string) (int64, error) { return s.IncrBy(k, 5) }, 5},
			{"decr", s.Decr, -1},
			{"decr by", func(k string) (int64, error) { return s.DecrBy(k, 5) }, -5},
		}
		for _, tc := range tests {
			got, err := tc.op("absent-" + tc.name)
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if got != tc.want {
				t.Fatalf("%s = %d, want %d", tc.name, got, tc.want)
			}
			if v, _ := s.Get("absent-" + tc.name); !v.Equal(kv.Int(tc.want)) {
				t.Fatalf("%s stored %v, want %d", tc.name, v, tc.want)
			}
		}
	})
}

func TestIncrDecrExisting(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *findb.Store) {
		mustSet(t, s, "fix_count", kv.Int(100))
		if n, err := s.Incr("fix_count"); err != nil || n != 101 {
			t.Fatalf("Incr = %d, %v; want 101", n, err)
		}

		mustSet(t, s, "fix_count", kv.Int(100))
		if n, err := s.Decr("fix_count"); err != nil || n != 99 {
			t.Fatalf("Decr = %d, %v; want 99", n, err)
		}
	})
}

func TestIncrDecrNonInt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *findb.Store) {
		for _, v := range []kv.Value{kv.Text("value1"), kv.Float(1.5), kv.Bool(true), kv.Bytes([]byte("x"))} {
			mustSet(t, s, "k", v)
			before := s.LastSave()

			if _, err := s.Incr("k"); !errors.Is(err, kv.ErrIncrementNonInt) {
				t.Fatalf("Incr on %s: expected ErrIncrementNonInt, got %v", v.Kind(), err)
			}
			if _, err := s.Decr("k"); !errors.Is(err, kv.ErrDecrementNonInt) {
				t.Fatalf("Decr on %s: expected ErrDecrementNonInt, got %v", v.Kind(), err)
			}
			if got, _ := s.Get("k"); !got.Equal(v) {
				t.Fatalf("value changed to %v, want %v", got, v)
			}
			if !s.LastSave().Equal(before) {
				t.Fatal("rejected incr/decr should not save")
			}
		}
	})
}

func TestIncrFalsyCountsAsZero(t *testing.T) {
	s := openStore(t, "")
	for _, v := range []kv.Value{kv.Int(0), kv.Text(""), kv.Bool(false), kv.Float(0), kv.Bytes(nil)} {
		mustSet(t, s, "k", v)
		n, err := s.IncrBy("k", 2)
		if err != nil {
			t.Fatalf("IncrBy on falsy %s: %v", v.Kind(), err)
		}
		if n != 2 {
			t.Fatalf("IncrBy on falsy %s = %d, want 2", v.Kind(), n)
		}
	}
}

func TestIncrOverflow(t *testing.T) {
	s := openStore(t, "")
	mustSet(t, s, "max", kv.Int(math.MaxInt64))
	mustSet(t, s, "min", kv.Int(math.MinInt64))

	if _, err := s.Incr("max"); !errors.Is(err, kv.ErrOverflow) {
		t.Fatalf("Incr at MaxInt64: expected ErrOverflow, got %v", err)
	}
	if _, err := s.Decr("min"); !errors.Is(err, kv.ErrOverflow) {
		t.Fatalf("Decr at MinInt64: expected ErrOverflow, got %v", err)
	}
	if _, err := s.DecrBy("zero", math.MinInt64); !errors.Is(err, kv.ErrOverflow) {
		t.Fatalf("DecrBy MinInt64: expected ErrOverflow, got %v", err)
	}
	if v, _ := s.Get("max"); !v.Equal(kv.Int(math.MaxInt64)) {
		t.Fatalf("overflow should leave value unchanged, got %v", v)
	}
	if _, ok := s.Get("zero"); ok {
		t.Fatal("overflow should not create the key")
	}
	if n, err := s.IncrBy("min", math.MaxInt64); err != nil || n != -1 {
		t.Fatalf("IncrBy(min, max) = %d, %v; want -1", n, err)
	}
}

func TestDecrByMinInt64(t *testing.T) {
	s := openStore(t, "")
	mustSet(t, s, "neg", kv.Int(-1))

	n, err := s.DecrBy("neg", math.MinInt64)
	if err != nil || n != math.MaxInt64 {
		t.Fatalf("DecrBy(-1, MinInt64) = %d, %v; want MaxInt64", n, err)
	}
	if n, err := s.IncrBy("back", math.MinInt64); err != nil || n != math.MinInt64 {
		t.Fatalf("IncrBy(absent, MinInt64) = %d, %v; want MinInt64", n, err)
	}
	if _, err := s.DecrBy("back", math.MinInt64); err != nil {
		t.Fatalf("DecrBy(MinInt64, MinInt64) should reach 0: %v", err)
	}
	if v, _ := s.Get("back"); v.Truthy() {
		t.Fatalf("back = %v, want 0", v)
	}
}

func TestDBSizeAndKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *findb.Store) {
		mustSet(t, s, "key1", kv.Text("value1"))
		mustSet(t, s, "key2", kv.Text("value2"))
		mustSet(t, s, "fix_count", kv.Int(100))
		mustSet(t, s, "key1", kv.Text("again"))
		if n := s.DBSize(); n != 3 {
			t.Fatalf("DBSize = %d, want 3", n)
		}

		keys := s.Keys()
		slices.Sort(keys)
		if want := []string{"fix_count", "key1", "key2"}; !slices.Equal(keys, want) {
			t.Fatalf("Keys = %v, want %v", keys, want)
		}

		if _, err := s.Delete("key2"); err != nil {
			t.Fatal(err)
		}
		if n := s.DBSize(); n != 2 {
			t.Fatalf("DBSize after delete = %d, want 2", n)
		}

		if ok, err := s.FlushDB(); err != nil || !ok {
			t.Fatalf("FlushDB: ok=%v err=%v", ok, err)
		}
		if n := s.DBSize(); n != 0 {
			t.Fatalf("DBSize after flush = %d, want 0", n)
		}
		if len(s.Keys()) != 0 {
			t.Fatalf("Keys after flush = %v", s.Keys())
		}
	})
}

func TestDeleteMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *findb.Store) {
		before := s.LastSave()
		ok, err := s.Delete("nope")
		if !errors.Is(err, kv.ErrKeyNotFound) {
			t.Fatalf("expected ErrKeyNotFound, got %v", err)
		}
		if ok {
			t.Fatal("Delete of missing key should return false")
		}
		if !s.LastSave().Equal(before) {
			t.Fatal("Delete of missing key should not save")
		}
	})
}

func TestExampleScenarios(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *findb.Store) {
		mustSet(t, s, "a", kv.Int(5))
		if n, _ := s.IncrBy("a", 3); n != 8 {
			t.Fatalf("IncrBy(a, 3) = %d, want 8", n)
		}
		if n, _ := s.DecrBy("a", 10); n != -2 {
			t.Fatalf("DecrBy(a, 10) = %d, want -2", n)
		}
		if n := s.DBSize(); n != 1 {
			t.Fatalf("DBSize = %d, want 1", n)
		}
		if _, err := s.Delete("a"); err != nil {
			t.Fatal(err)
		}
		if n := s.DBSize(); n != 0 {
			t.Fatalf("DBSize = %d, want 0", n)
		}

		if _, ok := s.Get("x"); ok {
			t.Fatal("x should be absent")
		}
		if n, _ := s.Incr("x"); n != 1 {
			t.Fatalf("Incr(x) = %d, want 1", n)
		}
		if v, _ := s.Get("x"); !v.Equal(kv.Int(1)) {
			t.Fatalf("Get(x) = %v, want 1", v)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	for _, b := range backends() {
		if b.name == "memory" {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			fake := clock.NewFake(epoch)
			opts := append(slices.Clone(b.opts), findb.WithClock(fake))
			path := b.location(t)

			s := openStore(t, path, opts...)
			want := map[string]kv.Value{}
			for i := range 20 {
				k := "key" + string(rune('a'+i))
				want[k] = kv.Int(int64(i * i))
				mustSet(t, s, k, want[k])
				fake.Forward(time.Second)
			}
			mustSet(t, s, "note", kv.Text("hello"))
			want["note"] = kv.Text("hello")
			saved := s.LastSave()

			fresh := openStore(t, path, b.opts...)
			if fresh.Location() != path {
				t.Fatalf("Location = %q, want %q", fresh.Location(), path)
			}
			if fresh.DBSize() != len(want) {
				t.Fatalf("DBSize = %d, want %d", fresh.DBSize(), len(want))
			}
			for k, v := range fresh.All() {
				if !v.Equal(want[k]) {
					t.Fatalf("key %q = %v, want %v", k, v, want[k])
				}
			}
			if !fresh.LastSave().Equal(saved) {
				t.Fatalf("LastSave = %v, want %v", fresh.LastSave(), saved)
			}
		})
	}
}

func TestNewCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	fake := clock.NewFake(epoch)
	s := openStore(t, path, findb.WithClock(fake))

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("New should create the file: %v", err)
	}
	if s.DBSize() != 0 {
		t.Fatalf("new store should be empty, got %d keys", s.DBSize())
	}
	if !s.LastSave().Equal(epoch) {
		t.Fatalf("LastSave = %v, want %v", s.LastSave(), epoch)
	}
}

func TestLastSaveAdvances(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fake := clock.NewFake(epoch)
			s := openStore(t, b.location(t), append(slices.Clone(b.opts), findb.WithClock(fake))...)

			fake.Forward(time.Minute)
			mustSet(t, s, "k", kv.Int(1))
			if want := epoch.Add(time.Minute); !s.LastSave().Equal(want) {
				t.Fatalf("LastSave = %v, want %v", s.LastSave(), want)
			}
			if s.LastSave().Location() != time.Local {
				t.Fatal("LastSave should be in local time")
			}

			fake.Forward(time.Minute)
			if _, err := s.FlushDB(); err != nil {
				t.Fatal(err)
			}
			if want := epoch.Add(2 * time.Minute); !s.LastSave().Equal(want) {
				t.Fatalf("LastSave after flush = %v, want %v", s.LastSave(), want)
			}
		})
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	if err := os.WriteFile(path, []byte("this is not a findb record"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := findb.New(path)
	if !errors.Is(err, kv.ErrFileLoad) {
		t.Fatalf("expected ErrFileLoad, got %v", err)
	}
}

func TestLoadCorruptFileEveryFormat(t *testing.T) {
	for _, format := range []string{store.FormatFile, store.FormatBolt, store.FormatSQLite} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "corrupt.db")
			junk := []byte("definitely not a database, just some text padding it out")
			if err := os.WriteFile(path, junk, 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := findb.New(path, findb.WithFormat(format))
			if !errors.Is(err, kv.ErrFileLoad) {
				t.Fatalf("expected ErrFileLoad, got %v", err)
			}
		})
	}
}

func TestLoadWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealed.db")
	s := openStore(t, path, findb.WithPassphrase("right"))
	mustSet(t, s, "k", kv.Text("v"))

	if _, err := findb.New(path, findb.WithPassphrase("wrong")); !errors.Is(err, kv.ErrFileLoad) {
		t.Fatalf("expected ErrFileLoad, got %v", err)
	}
}

func TestLoadResetsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	a := openStore(t, path)
	b := openStore(t, path)

	mustSet(t, a, "k", kv.Text("from a"))
	if _, ok := b.Get("k"); ok {
		t.Fatal("b should not see a's write before reloading")
	}
	if err := b.Load(); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Get("k"); !v.Equal(kv.Text("from a")) {
		t.Fatalf("after Load, k = %v", v)
	}
}

func TestLoadInMemoryResets(t *testing.T) {
	s := openStore(t, "")
	mustSet(t, s, "k", kv.Int(1))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.DBSize() != 0 {
		t.Fatalf("Load without location should reset data, got %d keys", s.DBSize())
	}
}

func TestSaveOpenFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	fake := clock.NewFake(epoch)
	s := openStore(t, filepath.Join(dir, "test.db"), findb.WithClock(fake))
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	fake.Forward(time.Hour)
	_, err := s.Set("k", kv.Int(1))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected the open error unchanged, got %v", err)
	}
	if errors.Is(err, kv.ErrFileWrite) {
		t.Fatal("open failure should not be reported as ErrFileWrite")
	}
	if !s.LastSave().Equal(epoch) {
		t.Fatal("LastSave should not advance when the file cannot be opened")
	}
	if v, _ := s.Get("k"); !v.Equal(kv.Int(1)) {
		t.Fatal("the mutation stays in memory after a failed save")
	}
}

func TestSaveWriteFailure(t *testing.T) {
	for _, b := range backends() {
		if b.name == "memory" {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			fake := clock.NewFake(epoch)
			s := openStore(t, b.location(t), append(slices.Clone(b.opts), findb.WithClock(fake))...)

			fake.Forward(time.Hour)
			ok, err := s.Set("bad", kv.Value{})
			if !errors.Is(err, kv.ErrFileWrite) {
				t.Fatalf("expected ErrFileWrite, got %v", err)
			}
			if ok {
				t.Fatal("failed Set should return false")
			}
			if want := epoch.Add(time.Hour); !s.LastSave().Equal(want) {
				t.Fatalf("LastSave = %v, want %v (advanced before serialization)", s.LastSave(), want)
			}
			if _, present := s.Get("bad"); !present {
				t.Fatal("the mutation stays in memory after a failed save")
			}
		})
	}
}

func TestDeleteDB(t *testing.T) {
	for _, b := range backends() {
		if b.name == "memory" {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			path := b.location(t)
			s := openStore(t, path, b.opts...)
			mustSet(t, s, "k", kv.Int(1))

			if err := s.DeleteDB(); err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("file should be removed, stat err = %v", err)
			}
			if s.DBSize() != 1 {
				t.Fatal("DeleteDB should leave memory untouched")
			}
			if err := s.DeleteDB(); !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("second DeleteDB: expected ErrNotExist, got %v", err)
			}
		})
	}
}

func TestDeleteDBInMemoryFlushes(t *testing.T) {
	s := openStore(t, "")
	mustSet(t, s, "k", kv.Int(1))
	if err := s.DeleteDB(); err != nil {
		t.Fatal(err)
	}
	if s.DBSize() != 0 {
		t.Fatalf("DeleteDB without location should flush, got %d keys", s.DBSize())
	}
}

func TestAllIsSnapshot(t *testing.T) {
	s := openStore(t, "")
	mustSet(t, s, "a", kv.Int(1))
	mustSet(t, s, "b", kv.Int(2))

	seen := map[string]kv.Value{}
	for k, v := range s.All() {
		// Mutating during iteration must not deadlock or affect the snapshot.
		mustSet(t, s, "c", kv.Int(3))
		seen[k] = v
	}
	if len(seen) != 2 {
		t.Fatalf("All yielded %d pairs, want 2", len(seen))
	}
}

func TestNewInvalidOptions(t *testing.T) {
	if _, err := findb.New("", findb.WithPassphrase("x")); err == nil {
		t.Fatal("passphrase without location should fail")
	}
	path := filepath.Join(t.TempDir(), "db")
	if _, err := findb.New(path, findb.WithFormat("redis")); err == nil {
		t.Fatal("unknown format should fail")
	}
	if _, err := findb.New(path, findb.WithFormat(store.FormatBolt), findb.WithPassphrase("x")); !errors.Is(err, store.ErrPassphraseUnsupported) {
		t.Fatalf("expected ErrPassphraseUnsupported, got %v", err)
	}
}

func TestLogging(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	path := filepath.Join(t.TempDir(), "test.db")
	s := openStore(t, path)
	mustSet(t, s, "k", kv.Int(1))
	openStore(t, path)

	if !capture.Has(slog.LevelInfo, "created database") {
		t.Error("expected info log for database creation")
	}
	if !capture.Has(slog.LevelDebug, "saved database") {
		t.Error("expected debug log for save")
	}
	if !capture.Has(slog.LevelInfo, "loaded database") {
		t.Error("expected info log for load")
	}
	if !capture.HasAttr("loaded database", "keys", "1") || !capture.HasAttr("loaded database", "component", "findb") {
		t.Error("load log should carry key count and component")
	}

	_, _ = s.Set("bad", kv.Value{})
	if !capture.Has(slog.LevelWarn, "save failed") {
		t.Error("expected warn log for failed save")
	}
}
