package cache

import (
	"fmt"
	"maps"

	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/materialize"
	"github.com/roach88/normcache/internal/normalize"
)

// Update computes the fields to write to an entity from its current
// denormalized value, which is nil when the entity is absent. Fields left
// out of the result are kept.
type Update func(current ir.Object) ir.Object

// Fields is an Update that writes a fixed partial object.
func Fields(fields ir.Object) Update {
	return func(ir.Object) ir.Object { return fields }
}

// OptimisticUpdate is an applied optimistic change and what undoes it.
type OptimisticUpdate struct {
	Key ir.Key `json:"key"`

	// Optimistic holds the fields written.
	Optimistic ir.Object `json:"optimistic"`

	// Rollback holds the previous value of each written field, and only
	// those. A field that did not exist rolls back to null.
	Rollback ir.Object `json:"rollback"`

	Changes ChangeSet `json:"changes"`
}

// Entity returns the denormalized value of one entity, nested entities
// included. It does not register a query.
func (c *Cache) Entity(k ir.Key) (ir.Object, bool) {
	if c.closed {
		return nil, false
	}
	if _, ok := c.store.Snapshot().Get(k); !ok {
		return nil, false
	}
	v, _ := materialize.Denormalize(ir.RefTo(k), c.store.Snapshot())
	obj, ok := v.(ir.Object)
	return obj, ok
}

// SetEntity writes the fields returned by update to entity k and pushes
// every dependent query. Nested entities in the written fields are
// normalized like any payload. Returning fields that identify a different
// entity is an error.
func (c *Cache) SetEntity(k ir.Key, update Update) (ChangeSet, error) {
	if c.closed {
		return ChangeSet{}, ErrClosed
	}
	if update == nil {
		return ChangeSet{}, fmt.Errorf("set entity %s: nil update", k)
	}

	current, _ := c.Entity(k)
	fields := update(current)
	return c.setFields(k, fields)
}

// Optimistic applies update to entity k like SetEntity and returns the
// rollback data: the previous values of exactly the fields written.
func (c *Cache) Optimistic(k ir.Key, update Update) (*OptimisticUpdate, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if update == nil {
		return nil, fmt.Errorf("optimistic %s: nil update", k)
	}

	current, _ := c.Entity(k)
	fields := update(current)

	rollback := make(ir.Object, len(fields))
	for f := range fields {
		if prev, ok := current[f]; ok {
			rollback[f] = prev
		} else {
			rollback[f] = ir.Null{}
		}
	}

	cs, err := c.setFields(k, fields)
	if err != nil {
		return nil, err
	}
	return &OptimisticUpdate{
		Key:        k,
		Optimistic: maps.Clone(fields),
		Rollback:   rollback,
		Changes:    cs,
	}, nil
}

// Rollback restores the fields an optimistic update overwrote.
func (c *Cache) Rollback(u *OptimisticUpdate) (ChangeSet, error) {
	if c.closed {
		return ChangeSet{}, ErrClosed
	}
	return c.setFields(u.Key, u.Rollback)
}

func (c *Cache) setFields(k ir.Key, fields ir.Object) (ChangeSet, error) {
	if fields == nil {
		fields = ir.Object{}
	}

	ex, err := normalize.Extract(fields, c.resolver)
	if err != nil {
		c.stats.ConfigErrors++
		c.metrics.configError()
		return ChangeSet{}, err
	}

	var own ir.Object
	switch tmpl := ex.Template.(type) {
	case ir.Object:
		own = tmpl
	case ir.Ref:
		// The fields carry identity; it must be k itself.
		if tmpl.Key() != k {
			return ChangeSet{}, fmt.Errorf("set entity %s: update identifies %s", k, tmpl.Key())
		}
	}

	if own != nil {
		ex.Patches = append(ex.Patches, normalize.Patch{Key: k, Fields: own})
	}

	cs := c.apply(ex)
	c.last = changeSetOf(cs)
	c.last.Notified = c.propagate(cs, "")
	return c.last, nil
}

// Evict removes entities from the store. Dependent queries are recomputed
// and read the evicted entities as null.
func (c *Cache) Evict(keys ...ir.Key) (ChangeSet, error) {
	if c.closed {
		return ChangeSet{}, ErrClosed
	}

	cs := c.store.Evict(keys...)
	c.last = changeSetOf(cs)
	if cs.Empty() {
		return c.last, nil
	}
	c.stats.Evictions += int64(len(cs.Changed))
	c.metrics.evicted(len(cs.Changed))
	c.logger.Info("entities evicted", "keys", cs.Changed.Strings(), "version", cs.Version)

	c.last.Notified = c.propagate(cs, "")
	return c.last, nil
}

// Unreferenced returns the stored entities no query depends on, sorted.
// They are candidates for Evict.
func (c *Cache) Unreferenced() []ir.Key {
	if c.closed {
		return nil
	}
	return c.store.Unreferenced()
}
