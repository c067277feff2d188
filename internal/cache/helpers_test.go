package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/roach88/normcache/internal/config"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/testutil"
)

var (
	qPost = ir.MustQueryKey("post", "10")
	qMe   = ir.MustQueryKey("me")
	qTags = ir.MustQueryKey("tags")
	mSave = ir.MustQueryKey("mutation", "saveUser")

	user1  = ir.Key{Type: "user", ID: "1"}
	post10 = ir.Key{Type: "post", ID: "10"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCache builds a cache with a recording sink, a fixed id and a
// silent logger.
func newTestCache(t *testing.T, cfg config.Config, opts ...Option) (*Cache, *testutil.RecordingSink) {
	t.Helper()
	sink := &testutil.RecordingSink{}
	base := []Option{
		WithLogger(discardLogger()),
		WithSink(sink),
		WithIDGenerator(testutil.NewFixedIDGenerator("cache-test")),
	}
	c, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, sink
}

func entity(typ, id string, pairs ...ir.Pair) ir.Object {
	obj := ir.NewObject(pairs...)
	obj["type"] = ir.String(typ)
	obj["id"] = ir.String(id)
	return obj
}

func postPayload() ir.Object {
	return ir.Object{
		"post": entity("post", "10",
			ir.O("title", ir.String("Hi")),
			ir.O("author", entity("user", "1", ir.O("name", ir.String("A"))))),
	}
}

func mePayload() ir.Object {
	return ir.Object{"me": entity("user", "1", ir.O("name", ir.String("A")))}
}

func at(t *testing.T, v ir.Value, path ...string) ir.Value {
	t.Helper()
	for _, f := range path {
		obj, ok := v.(ir.Object)
		require.True(t, ok, "expected object at %q, got %s", f, ir.KindOf(v))
		v = obj[f]
	}
	return v
}

// countingMeter records Int64Counter totals by instrument name.
type countingMeter struct {
	noop.Meter
	mu     sync.Mutex
	totals map[string]int64
}

func newCountingMeter() *countingMeter {
	return &countingMeter{totals: make(map[string]int64)}
}

func (m *countingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return &countingCounter{name: name, meter: m}, nil
}

func (m *countingMeter) total(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[name]
}

type countingCounter struct {
	noop.Int64Counter
	name  string
	meter *countingMeter
}

func (c *countingCounter) Add(_ context.Context, n int64, _ ...metric.AddOption) {
	c.meter.mu.Lock()
	defer c.meter.mu.Unlock()
	c.meter.totals[c.name] += n
}
