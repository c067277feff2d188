package ir

import (
	"errors"
	"reflect"
)

// ErrCyclicValue is returned when encoding meets a value that contains itself.
var ErrCyclicValue = errors.New("ir: cyclic value")

// identity is the backing-store address of a composite value.
// Two Objects are the same reference when they share the map header;
// two Arrays when they share the first element and length.
type identity struct {
	ptr uintptr
	n   int
}

func identityOf(v Value) (identity, bool) {
	switch val := v.(type) {
	case Object:
		if val == nil {
			return identity{}, false
		}
		return identity{ptr: reflect.ValueOf(val).Pointer(), n: -1}, true
	case Array:
		if len(val) == 0 {
			return identity{}, false
		}
		return identity{ptr: reflect.ValueOf(val).Pointer(), n: len(val)}, true
	}
	return identity{}, false
}

// Same reports reference equality: composites must share backing storage,
// scalars and tokens compare by value. Same never inspects children.
func Same(a, b Value) bool {
	switch av := a.(type) {
	case Object:
		bv, ok := b.(Object)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return reflect.ValueOf(av).Pointer() == reflect.ValueOf(bv).Pointer()
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		if len(av) == 0 {
			return (av == nil) == (bv == nil)
		}
		return reflect.ValueOf(av).Pointer() == reflect.ValueOf(bv).Pointer()
	}
	switch b.(type) {
	case Object, Array:
		return false
	}
	return a == b
}

// Equal reports deep value equality. Int and Float never compare equal to
// each other. Cycles are handled coinductively: a pair already being
// compared on the current path is assumed equal.
func Equal(a, b Value) bool {
	return equal(a, b, make(map[[2]identity]struct{}))
}

func equal(a, b Value, inProgress map[[2]identity]struct{}) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	if Same(a, b) {
		return true
	}

	ia, okA := identityOf(a)
	ib, okB := identityOf(b)
	if okA && okB {
		pair := [2]identity{ia, ib}
		if _, seen := inProgress[pair]; seen {
			return true
		}
		inProgress[pair] = struct{}{}
		defer delete(inProgress, pair)
	}

	switch av := a.(type) {
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, ae := range av {
			be, ok := bv[k]
			if !ok || !equal(ae, be, inProgress) {
				return false
			}
		}
		return true
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i], inProgress) {
				return false
			}
		}
		return true
	}
	return false
}

// visitSet tracks composites on the active recursion path.
type visitSet map[identity]struct{}

func newVisitSet() visitSet {
	return make(visitSet)
}

// enter records v and reports false if v is already on the path.
// Empty composites cannot close a cycle and are not tracked.
func (s visitSet) enter(v Value) bool {
	id, ok := identityOf(v)
	if !ok {
		return true
	}
	if _, seen := s[id]; seen {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s visitSet) leave(v Value) {
	if id, ok := identityOf(v); ok {
		delete(s, id)
	}
}

// PathGuard exposes the visiting-set cycle guard to other packages.
type PathGuard struct {
	set visitSet
}

// NewPathGuard returns an empty guard.
func NewPathGuard() *PathGuard {
	return &PathGuard{set: newVisitSet()}
}

// Enter marks v as on the active path. It returns false when v is already
// on the path, in which case the caller must not call Leave for it.
func (g *PathGuard) Enter(v Value) bool {
	return g.set.enter(v)
}

// Leave removes v from the active path.
func (g *PathGuard) Leave(v Value) {
	g.set.leave(v)
}
