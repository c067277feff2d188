package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/normcache/internal/ir"
)

// Patch is the flat field set extracted for one entity. Nested entities
// appear as ir.Ref; nested plain data is kept as a template fragment.
type Patch struct {
	Key    ir.Key
	Fields ir.Object
}

// Extraction is the result of Extract.
type Extraction struct {
	// Template mirrors the payload with entities replaced by ir.Ref.
	Template ir.Value

	// Patches holds one entry per entity key in first-seen order.
	Patches []Patch

	// Cycles counts re-entries cut by the cycle guard.
	Cycles int
}

// Keys returns the set of entity keys extracted.
func (e *Extraction) Keys() ir.KeySet {
	s := make(ir.KeySet, len(e.Patches))
	for _, p := range e.Patches {
		s.Add(p.Key)
	}
	return s
}

// Extract normalizes payload using r.
//
// An entity occurring several times collapses into one patch whose fields
// are merged in visit order, last write winning. Object fields are visited
// in sorted key order, so the result is deterministic.
func Extract(payload ir.Value, r Resolver) (*Extraction, error) {
	x := &extractor{
		resolver: r,
		guard:    ir.NewPathGuard(),
		index:    make(map[ir.Key]int),
		path:     []string{"$"},
	}

	tmpl, err := x.walk(payload)
	if err != nil {
		return nil, err
	}

	return &Extraction{
		Template: tmpl,
		Patches:  x.patches,
		Cycles:   x.cycles,
	}, nil
}

type extractor struct {
	resolver Resolver
	guard    *ir.PathGuard
	patches  []Patch
	index    map[ir.Key]int
	cycles   int
	path     []string
}

func (x *extractor) walk(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case ir.Array:
		return x.walkArray(val)
	case ir.Object:
		return x.walkObject(val)
	case nil:
		return ir.Null{}, nil
	default:
		return v, nil
	}
}

func (x *extractor) walkArray(arr ir.Array) (ir.Value, error) {
	if !x.guard.Enter(arr) {
		x.cycles++
		return ir.BackRef{}, nil
	}
	defer x.guard.Leave(arr)

	out := make(ir.Array, len(arr))
	for i, elem := range arr {
		x.push("[" + strconv.Itoa(i) + "]")
		res, err := x.walk(elem)
		x.pop()
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (x *extractor) walkObject(obj ir.Object) (ir.Value, error) {
	key, isEntity, err := x.resolve(obj)
	if err != nil {
		return nil, &ConfigError{Path: x.render(), Err: err}
	}

	if !x.guard.Enter(obj) {
		x.cycles++
		if isEntity {
			return ir.RefTo(key), nil
		}
		return ir.BackRef{}, nil
	}
	defer x.guard.Leave(obj)

	// Reserve the patch slot before descending so patches stay in
	// first-seen (pre-order) order.
	slot := -1
	if isEntity {
		slot = x.reserve(key)
	}

	fields := make(ir.Object, len(obj))
	for _, k := range obj.SortedKeys() {
		x.push("." + k)
		res, err := x.walk(obj[k])
		x.pop()
		if err != nil {
			return nil, err
		}
		fields[k] = res
	}

	if !isEntity {
		return fields, nil
	}

	target := x.patches[slot].Fields
	for k, v := range fields {
		target[k] = v
	}
	return ir.RefTo(key), nil
}

// resolve calls the resolver, converting panics and incomplete keys into
// errors.
func (x *extractor) resolve(obj ir.Object) (key ir.Key, ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			key, ok = ir.Key{}, false
			err = fmt.Errorf("resolver panicked: %v", rec)
		}
	}()

	key, ok, err = x.resolver.Resolve(obj)
	if err != nil {
		return ir.Key{}, false, err
	}
	if ok && (key.Type == "" || key.ID == "") {
		return ir.Key{}, false, fmt.Errorf("resolver returned incomplete key %q", key.String())
	}
	return key, ok, nil
}

func (x *extractor) reserve(key ir.Key) int {
	if i, ok := x.index[key]; ok {
		return i
	}
	x.index[key] = len(x.patches)
	x.patches = append(x.patches, Patch{Key: key, Fields: make(ir.Object)})
	return len(x.patches) - 1
}

func (x *extractor) push(seg string) { x.path = append(x.path, seg) }
func (x *extractor) pop()            { x.path = x.path[:len(x.path)-1] }
func (x *extractor) render() string  { return strings.Join(x.path, "") }
