package cache

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/roach88/normcache/internal/config"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/materialize"
	"github.com/roach88/normcache/internal/normalize"
	"github.com/roach88/normcache/internal/store"
)

// ErrClosed is returned by calls on a closed cache.
var ErrClosed = errors.New("cache: closed")

// Sink receives recomputed query values. It plays the role of the query
// layer's setQueryData.
type Sink interface {
	SetQueryData(q ir.QueryKey, v ir.Value)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(q ir.QueryKey, v ir.Value)

// SetQueryData calls f(q, v).
func (f SinkFunc) SetQueryData(q ir.QueryKey, v ir.Value) {
	f(q, v)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMeter records cache metrics on m. Default: a no-op meter.
func WithMeter(m metric.Meter) Option {
	return func(c *Cache) {
		if m != nil {
			c.meter = m
		}
	}
}

// WithSink sets where recomputed dependents are pushed.
func WithSink(s Sink) Option {
	return func(c *Cache) {
		c.sink = s
	}
}

// WithResolver replaces the field resolver built from the configuration.
func WithResolver(r normalize.Resolver) Option {
	return func(c *Cache) {
		c.resolver = r
	}
}

// WithIDGenerator sets how the instance ID is generated.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Cache) {
		if g != nil {
			c.ids = g
		}
	}
}

// Cache is the integration adapter. See the package documentation.
type Cache struct {
	id       string
	cfg      config.Config
	resolver normalize.Resolver
	ids      IDGenerator

	store   *store.Store
	engine  *materialize.Engine
	queries map[ir.QueryKey]*record

	sink    Sink
	logger  *slog.Logger
	meter   metric.Meter
	metrics *instruments
	stats   Stats
	last    ChangeSet
	closed  bool
}

// record is what the cache keeps per query.
type record struct {
	template ir.Value
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Queries  int   `json:"queries"`
	Entities int   `json:"entities"`
	Version  int64 `json:"version"`

	Merges           int64 `json:"merges"`
	NoopMerges       int64 `json:"noop_merges"`
	Materializations int64 `json:"materializations"`
	Reused           int64 `json:"reused"`
	DegradedRefs     int64 `json:"degraded_refs"`
	Cycles           int64 `json:"cycles"`
	ConfigErrors     int64 `json:"config_errors"`
	Notifications    int64 `json:"notifications"`
	Evictions        int64 `json:"evictions"`
}

// New creates a cache from cfg. The configuration is validated first.
func New(cfg config.Config, opts ...Option) (*Cache, error) {
	if err := cfg.Err(); err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		ids:     UUIDv7Generator{},
		store:   store.New(),
		engine:  materialize.NewEngine(cfg.StructuralSharing),
		queries: make(map[ir.QueryKey]*record),
		logger:  slog.Default(),
		meter:   noop.NewMeterProvider().Meter("normcache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = cfg.Resolver()
	}

	metrics, err := newInstruments(c.meter)
	if err != nil {
		return nil, fmt.Errorf("new cache: %w", err)
	}
	c.metrics = metrics

	c.id = c.ids.Generate()
	c.logger = c.logger.With("cache", c.id)
	return c, nil
}

// ID returns the instance identifier.
func (c *Cache) ID() string {
	return c.id
}

// Config returns the configuration the cache was built with.
func (c *Cache) Config() config.Config {
	return c.cfg
}

// Version returns the store version. It advances by one per merge or
// eviction that changed something.
func (c *Cache) Version() int64 {
	return c.store.Version()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Queries = len(c.queries)
	s.Entities = c.store.Snapshot().Len()
	s.Version = c.store.Version()
	return s
}

// Queries returns the registered query keys, sorted.
func (c *Cache) Queries() []ir.QueryKey {
	return c.store.Queries()
}

// Close releases every query record and the store. Later calls return
// ErrClosed or zero values.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("cache closed",
		"queries", len(c.queries),
		"entities", c.store.Snapshot().Len(),
		"version", c.store.Version(),
	)
	c.queries = nil
	c.engine = materialize.NewEngine(c.cfg.StructuralSharing)
	c.store = store.New()
	return nil
}

// debug logs only when dev logging is on.
func (c *Cache) debug(msg string, args ...any) {
	if c.cfg.DevLogging {
		c.logger.Debug(msg, args...)
	}
}
