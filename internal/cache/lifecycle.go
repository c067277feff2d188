package cache

import (
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/materialize"
	"github.com/roach88/normcache/internal/normalize"
	"github.com/roach88/normcache/internal/store"
)

// ChangeSet reports what one call changed.
type ChangeSet struct {
	// Version is the store version after the call.
	Version int64 `json:"version"`

	// Changed lists the entities whose stored value differs, sorted.
	Changed []ir.Key `json:"changed"`

	// Created is the subset of Changed that is new.
	Created []ir.Key `json:"created"`

	// Notified lists the queries whose recomputed value was pushed to the
	// sink, sorted.
	Notified []ir.QueryKey `json:"notified"`
}

// Empty reports whether nothing changed.
func (cs ChangeSet) Empty() bool {
	return len(cs.Changed) == 0
}

func changeSetOf(cs store.ChangeSet) ChangeSet {
	return ChangeSet{
		Version:  cs.Version,
		Changed:  cs.Changed.Sorted(),
		Created:  cs.Created.Sorted(),
		Notified: []ir.QueryKey{},
	}
}

// Result is the outcome of NormalizeAndMerge.
type Result struct {
	// Value is payload rebuilt from the store, shaped like payload.
	Value ir.Value

	// Template is payload with every entity replaced by its ir.Ref.
	Template ir.Value

	Changes ChangeSet
}

// NormalizeAndMerge extracts the entities of payload, merges them and
// returns the denormalized value together with the changed keys. It does
// not touch query records or push dependents; the lifecycle methods do.
//
// A resolver failure returns a *normalize.ConfigError and leaves the store
// untouched.
func (c *Cache) NormalizeAndMerge(payload ir.Value) (Result, error) {
	if c.closed {
		return Result{}, ErrClosed
	}

	ex, cs, err := c.ingest(payload)
	if err != nil {
		return Result{}, err
	}

	v, _ := materialize.Denormalize(ex.Template, c.store.Snapshot())
	c.last = changeSetOf(cs)
	return Result{
		Value:    v,
		Template: ex.Template,
		Changes:  c.last,
	}, nil
}

// OnFetchSuccess records payload as the current result of q, merges its
// entities and returns q's materialized value. Every other query depending
// on a changed entity is recomputed and pushed to the sink.
func (c *Cache) OnFetchSuccess(q ir.QueryKey, payload ir.Value) (ir.Value, error) {
	if c.closed {
		return nil, ErrClosed
	}

	ex, cs, err := c.ingest(payload)
	if err != nil {
		c.logger.Error("fetch rejected", "query", string(q), "error", err)
		return nil, err
	}

	rec, ok := c.queries[q]
	if !ok {
		rec = &record{}
		c.queries[q] = rec
	}
	rec.template = ex.Template

	r := c.materialize(q, rec)
	c.last = changeSetOf(cs)
	c.last.Notified = c.propagate(cs, q)
	return r.Value, nil
}

// OnMutationSuccess merges a mutation result. payload may be a full
// response or a partial entity such as {type, id, name}. q names the
// mutation for logging only; it does not become a query record.
func (c *Cache) OnMutationSuccess(q ir.QueryKey, payload ir.Value) (ChangeSet, error) {
	if c.closed {
		return ChangeSet{}, ErrClosed
	}

	_, cs, err := c.ingest(payload)
	if err != nil {
		c.logger.Error("mutation rejected", "mutation", string(q), "error", err)
		return ChangeSet{}, err
	}

	c.last = changeSetOf(cs)
	c.last.Notified = c.propagate(cs, "")
	return c.last, nil
}

// LastChange returns the change set of the most recent call that merged
// or evicted, including the queries it pushed.
func (c *Cache) LastChange() ChangeSet {
	return c.last
}

// OnQueryDisposed forgets q. See DropQuery.
func (c *Cache) OnQueryDisposed(q ir.QueryKey) {
	c.DropQuery(q)
}

// DropQuery forgets q's record, memo and subscriptions and returns the
// entity keys no query references any more. Entities are never removed
// here; use Evict.
func (c *Cache) DropQuery(q ir.QueryKey) []ir.Key {
	if c.closed {
		return nil
	}
	if _, ok := c.queries[q]; !ok {
		return nil
	}

	delete(c.queries, q)
	c.engine.Forget(q)
	orphans := c.store.Unsubscribe(q)

	c.logger.Info("query disposed",
		"query", string(q),
		"unreferenced", len(orphans),
		"queries", len(c.queries),
	)
	return orphans
}

// DenormalizeForQuery returns q's current value, recomputed with
// structural sharing. It reports false for unknown queries.
func (c *Cache) DenormalizeForQuery(q ir.QueryKey) (ir.Value, bool) {
	if c.closed {
		return nil, false
	}
	rec, ok := c.queries[q]
	if !ok {
		return nil, false
	}
	return c.materialize(q, rec).Value, true
}

// Template returns q's current shape template.
func (c *Cache) Template(q ir.QueryKey) (ir.Value, bool) {
	if c.closed {
		return nil, false
	}
	rec, ok := c.queries[q]
	if !ok {
		return nil, false
	}
	return rec.template, true
}

// Dependencies returns the entity keys q's last materialization consulted,
// sorted.
func (c *Cache) Dependencies(q ir.QueryKey) []ir.Key {
	if c.closed {
		return nil
	}
	return c.store.Dependencies(q).Sorted()
}

// ingest extracts and merges payload.
func (c *Cache) ingest(payload ir.Value) (*normalize.Extraction, store.ChangeSet, error) {
	ex, err := normalize.Extract(payload, c.resolver)
	if err != nil {
		c.stats.ConfigErrors++
		c.metrics.configError()
		return nil, store.ChangeSet{}, err
	}
	return ex, c.apply(ex), nil
}

// apply merges an extraction and updates counters.
func (c *Cache) apply(ex *normalize.Extraction) store.ChangeSet {
	if ex.Cycles > 0 {
		c.stats.Cycles += int64(ex.Cycles)
		c.metrics.extractionCycles(ex.Cycles)
		c.debug("cycle cut during extraction", "cycles", ex.Cycles)
	}

	cs := c.store.Merge(ex.Patches)
	c.metrics.merged(len(cs.Changed), cs.Empty())
	if cs.Empty() {
		c.stats.NoopMerges++
		c.debug("merge changed nothing", "patches", len(ex.Patches), "version", cs.Version)
		return cs
	}

	c.stats.Merges++
	c.debug("merged",
		"version", cs.Version,
		"changed", cs.Changed.Strings(),
		"created", len(cs.Created),
	)
	return cs
}

// materialize recomputes q and refreshes its subscriptions.
func (c *Cache) materialize(q ir.QueryKey, rec *record) materialize.Result {
	r := c.engine.Materialize(q, rec.template, c.store.Snapshot())
	c.store.Subscribe(q, r.Deps)

	c.stats.Materializations++
	if r.Unchanged {
		c.stats.Reused++
	}
	c.stats.DegradedRefs += int64(len(r.Missing))
	c.stats.Cycles += int64(r.Cycles)
	c.metrics.materialized(r.Rebuilt, len(r.Missing), r.Cycles, r.Unchanged)

	if len(r.Missing) > 0 {
		c.debug("degraded references", "query", string(q), "missing", ir.NewKeySet(r.Missing...).Strings())
	}
	if r.Cycles > 0 {
		c.debug("entity cycle in materialized value", "query", string(q), "cycles", r.Cycles)
	}
	return r
}

// propagate recomputes every query depending on a changed key, except
// skip, and pushes the values that changed identity. It returns the
// queries pushed.
func (c *Cache) propagate(cs store.ChangeSet, skip ir.QueryKey) []ir.QueryKey {
	notified := []ir.QueryKey{}
	if cs.Empty() {
		return notified
	}

	for _, q := range c.store.Dependents(cs.Changed) {
		if q == skip {
			continue
		}
		rec, ok := c.queries[q]
		if !ok {
			continue
		}
		r := c.materialize(q, rec)
		if r.Unchanged {
			continue
		}
		notified = append(notified, q)
		if c.sink != nil {
			c.sink.SetQueryData(q, r.Value)
		}
	}

	if len(notified) == 0 {
		return notified
	}
	if c.sink == nil {
		c.logger.Warn("no sink configured; recomputed queries not delivered", "queries", len(notified))
		return notified
	}
	c.stats.Notifications += int64(len(notified))
	c.metrics.notified(len(notified))
	return notified
}
