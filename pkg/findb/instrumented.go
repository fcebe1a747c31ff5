package findb

import (
	"sync/atomic"
	"time"

	"findb/pkg/kv"
)

// opStats accumulates the call count and total latency of one operation.
type opStats struct {
	count     atomic.Uint64
	latencyNs atomic.Uint64
}

func (o *opStats) observe(start time.Time) {
	o.count.Add(1)
	o.latencyNs.Add(uint64(time.Since(start).Nanoseconds()))
}

func (o *opStats) snapshot() OpMetrics {
	count := o.count.Load()
	m := OpMetrics{Count: count}
	if count > 0 {
		m.AvgLatency = time.Duration(o.latencyNs.Load() / count)
	}
	return m
}

func (o *opStats) reset() {
	o.count.Store(0)
	o.latencyNs.Store(0)
}

// Instrumented wraps any kv.Store with per-operation timing metrics.
// Counters are atomic, so reads of Metrics never block store calls.
type Instrumented struct {
	store kv.Store

	get, set, del, incr, decr, flush opStats
	errors                           atomic.Uint64
}

var _ kv.Store = (*Instrumented)(nil)

// NewInstrumented wraps a store with instrumentation.
func NewInstrumented(store kv.Store) *Instrumented {
	return &Instrumented{store: store}
}

// Unwrap returns the wrapped store.
func (s *Instrumented) Unwrap() kv.Store {
	return s.store
}

func (s *Instrumented) fail(err error) {
	if err != nil {
		s.errors.Add(1)
	}
}

func (s *Instrumented) Get(key string) (kv.Value, bool) {
	defer s.get.observe(time.Now())
	return s.store.Get(key)
}

func (s *Instrumented) Set(key string, value kv.Value) (bool, error) {
	defer s.set.observe(time.Now())
	ok, err := s.store.Set(key, value)
	s.fail(err)
	return ok, err
}

func (s *Instrumented) Delete(key string) (bool, error) {
	defer s.del.observe(time.Now())
	ok, err := s.store.Delete(key)
	s.fail(err)
	return ok, err
}

func (s *Instrumented) IncrBy(key string, amount int64) (int64, error) {
	defer s.incr.observe(time.Now())
	n, err := s.store.IncrBy(key, amount)
	s.fail(err)
	return n, err
}

func (s *Instrumented) DecrBy(key string, amount int64) (int64, error) {
	defer s.decr.observe(time.Now())
	n, err := s.store.DecrBy(key, amount)
	s.fail(err)
	return n, err
}

func (s *Instrumented) FlushDB() (bool, error) {
	defer s.flush.observe(time.Now())
	ok, err := s.store.FlushDB()
	s.fail(err)
	return ok, err
}

func (s *Instrumented) Keys() []string      { return s.store.Keys() }
func (s *Instrumented) DBSize() int         { return s.store.DBSize() }
func (s *Instrumented) LastSave() time.Time { return s.store.LastSave() }
func (s *Instrumented) DeleteDB() error     { return s.store.DeleteDB() }

// Metrics returns a snapshot of current metrics.
func (s *Instrumented) Metrics() Metrics {
	return Metrics{
		Get:    s.get.snapshot(),
		Set:    s.set.snapshot(),
		Delete: s.del.snapshot(),
		Incr:   s.incr.snapshot(),
		Decr:   s.decr.snapshot(),
		Flush:  s.flush.snapshot(),
		Errors: s.errors.Load(),
	}
}

// ResetMetrics clears all counters.
func (s *Instrumented) ResetMetrics() {
	for _, o := range []*opStats{&s.get, &s.set, &s.del, &s.incr, &s.decr, &s.flush} {
		o.reset()
	}
	s.errors.Store(0)
}

// OpMetrics is the call count and mean latency of one operation.
type OpMetrics struct {
	Count      uint64
	AvgLatency time.Duration
}

// Metrics is a point-in-time view of an Instrumented store.
type Metrics struct {
	Get    OpMetrics
	Set    OpMetrics
	Delete OpMetrics
	Incr   OpMetrics
	Decr   OpMetrics
	Flush  OpMetrics
	Errors uint64 // failed mutations
}
