package cache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments holds the OpenTelemetry instruments of one cache. They are
// created once in New.
type instruments struct {
	merges           metric.Int64Counter
	entitiesChanged  metric.Int64Counter
	materializations metric.Int64Counter
	rebuiltNodes     metric.Int64Histogram
	degradedRefs     metric.Int64Counter
	cycles           metric.Int64Counter
	configErrors     metric.Int64Counter
	notifications    metric.Int64Counter
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		ins instruments
		err error
	)

	if ins.merges, err = m.Int64Counter("normcache.merges",
		metric.WithDescription("Merged patch batches; noop=true when nothing changed"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create merges counter: %w", err)
	}

	if ins.entitiesChanged, err = m.Int64Counter("normcache.entities.changed",
		metric.WithDescription("Entities created, updated or evicted"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create entities counter: %w", err)
	}

	if ins.materializations, err = m.Int64Counter("normcache.materializations",
		metric.WithDescription("Query materializations; reused=true when the previous value was kept"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create materializations counter: %w", err)
	}

	if ins.rebuiltNodes, err = m.Int64Histogram("normcache.materialize.rebuilt",
		metric.WithDescription("Composites rebuilt per materialization"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create rebuilt histogram: %w", err)
	}

	if ins.degradedRefs, err = m.Int64Counter("normcache.degraded_refs",
		metric.WithDescription("References to absent entities met while materializing"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create degraded counter: %w", err)
	}

	if ins.cycles, err = m.Int64Counter("normcache.cycles",
		metric.WithDescription("Cycles cut during extraction or closed during materialization"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create cycles counter: %w", err)
	}

	if ins.configErrors, err = m.Int64Counter("normcache.config_errors",
		metric.WithDescription("Extractions aborted by the identity resolver"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create config errors counter: %w", err)
	}

	if ins.notifications, err = m.Int64Counter("normcache.notifications",
		metric.WithDescription("Recomputed query values pushed to the sink"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create notifications counter: %w", err)
	}

	return &ins, nil
}

// The cache core has no context of its own; instruments record against
// the background context.

func (i *instruments) merged(changed int, noop bool) {
	ctx := context.Background()
	i.merges.Add(ctx, 1, metric.WithAttributes(attribute.Bool("noop", noop)))
	if changed > 0 {
		i.entitiesChanged.Add(ctx, int64(changed))
	}
}

func (i *instruments) evicted(n int) {
	i.entitiesChanged.Add(context.Background(), int64(n))
}

func (i *instruments) materialized(rebuilt, missing, cycles int, reused bool) {
	ctx := context.Background()
	i.materializations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("reused", reused)))
	i.rebuiltNodes.Record(ctx, int64(rebuilt))
	if missing > 0 {
		i.degradedRefs.Add(ctx, int64(missing))
	}
	if cycles > 0 {
		i.cycles.Add(ctx, int64(cycles))
	}
}

func (i *instruments) extractionCycles(n int) {
	if n > 0 {
		i.cycles.Add(context.Background(), int64(n))
	}
}

func (i *instruments) configError() {
	i.configErrors.Add(context.Background(), 1)
}

func (i *instruments) notified(n int) {
	if n > 0 {
		i.notifications.Add(context.Background(), int64(n))
	}
}
