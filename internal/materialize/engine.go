package materialize

import (
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/store"
)

// Engine materializes queries with structural sharing.
//
// The memo of a query is replaced on every materialization and dropped by
// Forget. An Engine is not safe for concurrent use.
type Engine struct {
	sharing bool
	memos   map[ir.QueryKey]*memo
}

// NewEngine creates an engine. With sharing off every call is a plain
// Denormalize and no memo is kept.
func NewEngine(sharing bool) *Engine {
	return &Engine{
		sharing: sharing,
		memos:   make(map[ir.QueryKey]*memo),
	}
}

// Sharing reports whether structural sharing is enabled.
func (e *Engine) Sharing() bool {
	return e.sharing
}

// memo is the side table kept for one query.
type memo struct {
	template ir.Value
	version  int64
	root     *node
	entities map[ir.Key]*node
	cyclic   bool
}

// node is one position of a materialized tree.
type node struct {
	src    ir.Value
	out    ir.Value
	deps   ir.KeySet
	entity bool
	fields map[string]*node
	items  []*node
}

// Materialize returns q's value for template against snap.
//
// With an unchanged template and no dependency changed since the memo was
// taken, the previous value is returned as is. Otherwise only nodes whose
// dependencies changed are rebuilt. A new template is paired with the
// previous memo by entity key and by field name or index. Queries that met
// an entity cycle are rebuilt in full.
func (e *Engine) Materialize(q ir.QueryKey, template ir.Value, snap *store.Snapshot) Result {
	if !e.sharing {
		return denormalize(template, snap)
	}

	prev := e.memos[q]
	if prev != nil && prev.version > snap.Version() {
		// Older snapshot than the memo; nothing can be trusted.
		prev = nil
	}

	p := &pass{
		snap:     snap,
		entities: make(map[ir.Key]*node),
		active:   make(ir.KeySet),
		guard:    ir.NewPathGuard(),
	}
	if prev != nil {
		changed := snap.ChangedAmong(prev.root.deps, prev.version)
		if len(changed) == 0 && ir.Same(prev.template, template) {
			prev.version = snap.Version()
			return Result{
				Value:     prev.root.out,
				Deps:      prev.root.deps,
				Missing:   missingKeys(prev.root.deps, snap),
				Unchanged: true,
			}
		}
		if !prev.cyclic {
			p.prev = prev
			p.changed = changed
		}
	}

	var prevRoot *node
	if p.prev != nil {
		prevRoot = p.prev.root
	}
	root := p.build(template, prevRoot)

	e.memos[q] = &memo{
		template: template,
		version:  snap.Version(),
		root:     root,
		entities: p.memoEntities(root.deps),
		cyclic:   p.cycles > 0,
	}

	return Result{
		Value:     root.out,
		Deps:      root.deps,
		Missing:   missingKeys(root.deps, snap),
		Cycles:    p.cycles,
		Rebuilt:   p.rebuilt,
		Unchanged: prev != nil && ir.Same(prev.root.out, root.out),
	}
}

// Cached returns the last value materialized for q without consulting the
// store.
func (e *Engine) Cached(q ir.QueryKey) (ir.Value, bool) {
	m, ok := e.memos[q]
	if !ok {
		return nil, false
	}
	return m.root.out, true
}

// Forget drops q's memo.
func (e *Engine) Forget(q ir.QueryKey) {
	delete(e.memos, q)
}

// Len returns the number of memoized queries.
func (e *Engine) Len() int {
	return len(e.memos)
}

// pass is one incremental rebuild.
type pass struct {
	snap     *store.Snapshot
	prev     *memo
	changed  ir.KeySet
	entities map[ir.Key]*node
	active   ir.KeySet
	guard    *ir.PathGuard
	cycles   int
	rebuilt  int
}

func (p *pass) build(src ir.Value, prev *node) *node {
	switch val := src.(type) {
	case nil, ir.BackRef:
		return &node{src: src, out: ir.Null{}}
	case ir.Ref:
		return p.entity(val.Key())
	case ir.Object:
		if p.reusable(prev, src) {
			return prev
		}
		if !p.guard.Enter(val) {
			return &node{src: src, out: ir.Null{}}
		}
		defer p.guard.Leave(val)
		return p.object(val, prev)
	case ir.Array:
		if p.reusable(prev, src) {
			return prev
		}
		if !p.guard.Enter(val) {
			return &node{src: src, out: ir.Null{}}
		}
		defer p.guard.Leave(val)
		return p.array(val, prev)
	default:
		return &node{src: src, out: src}
	}
}

// reusable reports whether prev was built from the same template fragment
// and none of its dependencies changed.
func (p *pass) reusable(prev *node, src ir.Value) bool {
	return prev != nil && !prev.entity && ir.Same(prev.src, src) && !prev.deps.Intersects(p.changed)
}

func (p *pass) object(src ir.Object, prev *node) *node {
	if prev != nil && prev.entity {
		prev = nil
	}
	p.rebuilt++
	n := &node{src: src, deps: make(ir.KeySet), fields: make(map[string]*node, len(src))}
	out := make(ir.Object, len(src))

	var prevFields map[string]*node
	if prev != nil {
		prevFields = prev.fields
	}
	prevOut, same := sameShapeObject(prev, len(src))

	for f, v := range src {
		pc := prevFields[f]
		c := p.build(v, pc)
		n.fields[f] = c
		out[f] = c.out
		n.deps.AddAll(c.deps)
		if same && (pc == nil || !ir.Same(c.out, pc.out)) {
			same = false
		}
	}

	if same {
		n.out = prevOut
	} else {
		n.out = out
	}
	return n
}

func (p *pass) array(src ir.Array, prev *node) *node {
	p.rebuilt++
	n := &node{src: src, deps: make(ir.KeySet), items: make([]*node, len(src))}
	out := make(ir.Array, len(src))

	var prevItems []*node
	var prevOut ir.Array
	same := false
	if prev != nil && !prev.entity {
		prevItems = prev.items
		if po, ok := prev.out.(ir.Array); ok && len(po) == len(src) && len(prevItems) == len(src) {
			prevOut, same = po, true
		}
	}

	for i, v := range src {
		var pc *node
		if i < len(prevItems) {
			pc = prevItems[i]
		}
		c := p.build(v, pc)
		n.items[i] = c
		out[i] = c.out
		n.deps.AddAll(c.deps)
		if same && (pc == nil || !ir.Same(c.out, pc.out)) {
			same = false
		}
	}

	if same {
		n.out = prevOut
	} else {
		n.out = out
	}
	return n
}

func (p *pass) entity(k ir.Key) *node {
	if n, ok := p.entities[k]; ok {
		if p.active.Has(k) {
			p.cycles++
		}
		return n
	}

	var prev *node
	if p.prev != nil {
		prev = p.prev.entities[k]
	}
	if prev != nil && !prev.deps.Intersects(p.changed) {
		p.entities[k] = prev
		return prev
	}

	n := &node{src: ir.RefTo(k), deps: ir.NewKeySet(k), entity: true}
	p.entities[k] = n

	e, ok := p.snap.Get(k)
	if !ok {
		n.out = ir.Null{}
		return n
	}

	p.rebuilt++
	out := make(ir.Object, len(e.Attrs))
	n.out = out
	n.fields = make(map[string]*node, len(e.Attrs))

	var prevFields map[string]*node
	if prev != nil {
		prevFields = prev.fields
	}
	prevOut, same := sameShapeObject(prev, len(e.Attrs))
	cyclesBefore := p.cycles

	p.active.Add(k)
	for f, v := range e.Attrs {
		pc := prevFields[f]
		c := p.build(v, pc)
		n.fields[f] = c
		out[f] = c.out
		n.deps.AddAll(c.deps)
		if same && (pc == nil || !ir.Same(c.out, pc.out)) {
			same = false
		}
	}
	delete(p.active, k)

	// A descendant that re-entered k already holds out.
	if same && p.cycles == cyclesBefore {
		n.out = prevOut
	}
	return n
}

// memoEntities keeps one node per dependency key: this pass's nodes, then
// the previous memo's for keys reached only through reused subtrees.
func (p *pass) memoEntities(deps ir.KeySet) map[ir.Key]*node {
	ents := make(map[ir.Key]*node, len(deps))
	if p.prev != nil {
		for k, n := range p.prev.entities {
			if deps.Has(k) {
				ents[k] = n
			}
		}
	}
	for k, n := range p.entities {
		ents[k] = n
	}
	return ents
}

func sameShapeObject(prev *node, size int) (ir.Object, bool) {
	if prev == nil || prev.fields == nil {
		return nil, false
	}
	po, ok := prev.out.(ir.Object)
	if !ok || len(po) != size || len(prev.fields) != size {
		return nil, false
	}
	return po, true
}
