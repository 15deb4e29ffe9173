// Package cache memoizes the estimator's intermediate matrices. Entries are
// content addressed: a key hashes every input the value depends on, so a
// change in flags or weights produces a new key instead of a stale hit.
//
// The cache never evicts. Memory grows with the number of distinct
// spectral window, weighting and flag configurations seen by one estimator.
package cache

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/roman-kulish/radio-pspec/internal/linalg"
)

// Kind names a family of cached values.
type Kind string

const (
	KindY  Kind = "Y"
	KindC  Kind = "C"
	KindI  Kind = "I"
	KindIC Kind = "iC"
	KindR  Kind = "R"
	KindG  Kind = "G"
	KindH  Kind = "H"
	KindM  Kind = "M"
	KindW  Kind = "W"
	KindE  Kind = "E"
	KindV  Kind = "V"
)

// Stats are the request counters of one kind.
type Stats struct {
	Hits     int64
	Misses   int64
	Computes int64
}

type counters struct {
	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithRegisterer registers the cache request counter with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Cache) {
		c.registerer = reg
	}
}

// WithComputeHook installs fn to be called every time a value is computed.
// Tests use it to count recomputations.
func WithComputeHook(fn func(kind Kind, key string)) Option {
	return func(c *Cache) {
		c.onCompute = fn
	}
}

// Cache is safe for concurrent use. Concurrent requests for the same key
// share one computation.
type Cache struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]any
	stats   map[Kind]*counters
	flight  singleflight.Group

	requests   *prometheus.CounterVec
	registerer prometheus.Registerer
	onCompute  func(Kind, string)
	logger     *slog.Logger
}

// New creates an empty cache.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		entries: make(map[Kind]map[string]any),
		stats:   make(map[Kind]*counters),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "radio_pspec",
				Subsystem: "matrix_cache",
				Name:      "requests_total",
				Help:      "Matrix cache requests by kind and result (hit, miss).",
			},
			[]string{"kind", "result"},
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registerer != nil {
		if err := c.registerer.Register(c.requests); err != nil {
			return nil, fmt.Errorf("registering cache metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Cache) counters(kind Kind) *counters {
	c.mu.RLock()
	s, ok := c.stats[kind]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.stats[kind]; !ok {
		s = new(counters)
		c.stats[kind] = s
	}
	return s
}

func (c *Cache) lookup(kind Kind, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[kind][key]
	return v, ok
}

// GetOrCompute returns the value stored under (kind, key), computing and
// storing it with fn on a miss. Errors returned by fn are not cached.
func (c *Cache) GetOrCompute(kind Kind, key string, fn func() (any, error)) (any, error) {
	s := c.counters(kind)
	if v, ok := c.lookup(kind, key); ok {
		s.hits.Add(1)
		c.requests.WithLabelValues(string(kind), "hit").Inc()
		return v, nil
	}
	s.misses.Add(1)
	c.requests.WithLabelValues(string(kind), "miss").Inc()

	v, err, _ := c.flight.Do(string(kind)+"/"+key, func() (any, error) {
		// another flight may have stored it between lookup and Do
		if v, ok := c.lookup(kind, key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		s.computes.Add(1)
		if c.onCompute != nil {
			c.onCompute(kind, key)
		}

		c.mu.Lock()
		if c.entries[kind] == nil {
			c.entries[kind] = make(map[string]any)
		}
		c.entries[kind][key] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("computing %s: %w", kind, err)
	}
	return v, nil
}

// Get is a typed wrapper over GetOrCompute.
func Get[T any](c *Cache, kind Kind, key string, fn func() (T, error)) (T, error) {
	v, err := c.GetOrCompute(kind, key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate removes entries. An empty kind clears everything; otherwise
// only the listed keys of kind are removed, or the whole kind when no key
// is given.
func (c *Cache) Invalidate(kind Kind, keys ...string) {
	c.mu.Lock()
	switch {
	case kind == "":
		c.entries = make(map[Kind]map[string]any)
	case len(keys) == 0:
		delete(c.entries, kind)
	default:
		for _, k := range keys {
			delete(c.entries[kind], k)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("matrix cache invalidated",
		slog.String("kind", string(kind)),
		slog.Int("keys", len(keys)),
		slog.String("size", humanize.Bytes(uint64(c.SizeBytes()))))
}

// Stats returns the counters of kind.
func (c *Cache) Stats(kind Kind) Stats {
	s := c.counters(kind)
	return Stats{
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
		Computes: s.computes.Load(),
	}
}

// Len returns the number of entries stored under kind, or across all kinds
// when kind is empty.
func (c *Cache) Len(kind Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if kind != "" {
		return len(c.entries[kind])
	}
	n := 0
	for _, m := range c.entries {
		n += len(m)
	}
	return n
}

// SizeBytes estimates the memory held by matrix and vector payloads.
func (c *Cache) SizeBytes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.entries {
		for _, v := range m {
			n += sizeOf(v)
		}
	}
	return n
}

// LogSize reports the current footprint at info level.
func (c *Cache) LogSize() {
	c.logger.Info("matrix cache",
		slog.Int("entries", c.Len("")),
		slog.String("size", humanize.Bytes(uint64(c.SizeBytes()))))
}

const complexSize = 16

func sizeOf(v any) int {
	switch x := v.(type) {
	case *linalg.Matrix:
		r, cols := x.Dims()
		return r * cols * complexSize
	case []*linalg.Matrix:
		n := 0
		for _, m := range x {
			n += sizeOf(m)
		}
		return n
	case []complex128:
		return len(x) * complexSize
	case []float64:
		return len(x) * 8
	case [][]float64:
		n := 0
		for _, r := range x {
			n += len(r) * 8
		}
		return n
	default:
		return 0
	}
}
