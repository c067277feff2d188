package normalize

import (
	"slices"
	"strconv"

	"github.com/roach88/normcache/internal/ir"
)

// Resolver maps an object to its entity key.
//
// Resolve is called once per visited object node; arrays and scalars are
// never offered. It must be pure. ok=false means "plain data, keep
// walking". A non-nil error (or a panic) aborts the extraction.
type Resolver interface {
	Resolve(obj ir.Object) (key ir.Key, ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(obj ir.Object) (ir.Key, bool, error)

// Resolve calls f(obj).
func (f ResolverFunc) Resolve(obj ir.Object) (ir.Key, bool, error) {
	return f(obj)
}

// Default field names used by FieldResolver when left empty.
const (
	DefaultTypeField = "type"
	DefaultIDField   = "id"
)

// FieldResolver identifies objects carrying both a type field and an id
// field.
//
// Accepted: a non-empty String type, and a non-empty String or an Int id
// (formatted base 10). Anything else (missing field, null, float id,
// nested object) is plain data. When Types is non-empty only those types
// are entities.
type FieldResolver struct {
	TypeField string
	IDField   string
	Types     []string
}

// Resolve implements Resolver. It never fails.
func (r FieldResolver) Resolve(obj ir.Object) (ir.Key, bool, error) {
	typeField := r.TypeField
	if typeField == "" {
		typeField = DefaultTypeField
	}
	idField := r.IDField
	if idField == "" {
		idField = DefaultIDField
	}

	typ, ok := obj[typeField].(ir.String)
	if !ok || typ == "" {
		return ir.Key{}, false, nil
	}
	if len(r.Types) > 0 && !slices.Contains(r.Types, string(typ)) {
		return ir.Key{}, false, nil
	}

	var id string
	switch v := obj[idField].(type) {
	case ir.String:
		id = string(v)
	case ir.Int:
		id = strconv.FormatInt(int64(v), 10)
	}
	if id == "" {
		return ir.Key{}, false, nil
	}
	return ir.Key{Type: string(typ), ID: id}, true, nil
}
