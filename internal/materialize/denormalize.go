package materialize

import (
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/store"
)

// Result describes one materialization.
type Result struct {
	Value ir.Value

	// Deps is every entity key consulted, absent ones included. Callers
	// must not modify it.
	Deps ir.KeySet

	// Missing lists the dependency keys absent from the snapshot, sorted.
	Missing []ir.Key

	// Cycles counts entity re-entries met during this pass.
	Cycles int

	// Rebuilt counts composites constructed by this pass.
	Rebuilt int

	// Unchanged is set when Value is the same reference as the previous
	// materialization of the same query.
	Unchanged bool
}

// Denormalize reconstructs template against snap and returns the value
// together with the set of entity keys it consulted.
//
// Entity reference cycles produce a cyclic object graph: re-entering an
// entity under construction yields the object being built.
func Denormalize(template ir.Value, snap *store.Snapshot) (ir.Value, ir.KeySet) {
	r := denormalize(template, snap)
	return r.Value, r.Deps
}

func denormalize(template ir.Value, snap *store.Snapshot) Result {
	d := &denormalizer{
		snap:   snap,
		guard:  ir.NewPathGuard(),
		built:  make(map[ir.Key]ir.Value),
		active: make(ir.KeySet),
		deps:   make(ir.KeySet),
	}
	v := d.value(template)
	return Result{
		Value:   v,
		Deps:    d.deps,
		Missing: missingKeys(d.deps, snap),
		Cycles:  d.cycles,
		Rebuilt: d.rebuilt,
	}
}

type denormalizer struct {
	snap    *store.Snapshot
	guard   *ir.PathGuard
	built   map[ir.Key]ir.Value
	active  ir.KeySet
	deps    ir.KeySet
	cycles  int
	rebuilt int
}

func (d *denormalizer) value(v ir.Value) ir.Value {
	switch val := v.(type) {
	case nil, ir.BackRef:
		return ir.Null{}
	case ir.Ref:
		return d.entity(val.Key())
	case ir.Array:
		if !d.guard.Enter(val) {
			return ir.Null{}
		}
		defer d.guard.Leave(val)
		d.rebuilt++
		out := make(ir.Array, len(val))
		for i, elem := range val {
			out[i] = d.value(elem)
		}
		return out
	case ir.Object:
		if !d.guard.Enter(val) {
			return ir.Null{}
		}
		defer d.guard.Leave(val)
		d.rebuilt++
		out := make(ir.Object, len(val))
		for k, elem := range val {
			out[k] = d.value(elem)
		}
		return out
	default:
		return v
	}
}

func (d *denormalizer) entity(k ir.Key) ir.Value {
	d.deps.Add(k)
	if v, ok := d.built[k]; ok {
		if d.active.Has(k) {
			d.cycles++
		}
		return v
	}

	e, ok := d.snap.Get(k)
	if !ok {
		d.built[k] = ir.Null{}
		return ir.Null{}
	}

	d.rebuilt++
	out := make(ir.Object, len(e.Attrs))
	d.built[k] = out
	d.active.Add(k)
	for f, v := range e.Attrs {
		out[f] = d.value(v)
	}
	delete(d.active, k)
	return out
}

func missingKeys(deps ir.KeySet, snap *store.Snapshot) []ir.Key {
	var missing []ir.Key
	for k := range deps {
		if _, ok := snap.Get(k); !ok {
			missing = append(missing, k)
		}
	}
	ir.SortKeys(missing)
	return missing
}
