package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Key identifies an entity by type and id.
type Key struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// String renders the key as "type:id".
func (k Key) String() string {
	return k.Type + ":" + k.ID
}

// IsZero reports whether both parts are empty.
func (k Key) IsZero() bool {
	return k.Type == "" && k.ID == ""
}

// ParseKey parses the "type:id" form produced by Key.String.
// The id may itself contain colons; the type may not.
func ParseKey(s string) (Key, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return Key{}, fmt.Errorf("invalid entity key %q: want type:id", s)
	}
	return Key{Type: typ, ID: id}, nil
}

// compareKeys orders keys by type, then id.
func compareKeys(a, b Key) int {
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortKeys sorts keys in place by type, then id.
func SortKeys(keys []Key) {
	slices.SortFunc(keys, compareKeys)
}

// Ref is a reference token standing in for an entity inside a shape
// template or another entity's attributes.
type Ref struct {
	Type string
	ID   string
}

func (Ref) irValue() {}

// RefTo returns the token for k.
func RefTo(k Key) Ref {
	return Ref{Type: k.Type, ID: k.ID}
}

// Key returns the entity key the token points at.
func (r Ref) Key() Key {
	return Key{Type: r.Type, ID: r.ID}
}

// BackRef marks a plain (non-entity) node that closed a cycle on the
// extraction path. It denormalizes to Null.
type BackRef struct{}

func (BackRef) irValue() {}

// KeySet is a set of entity keys. The zero value is an empty, read-only set.
type KeySet map[Key]struct{}

// NewKeySet builds a set from keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts k.
func (s KeySet) Add(k Key) {
	s[k] = struct{}{}
}

// AddAll inserts every key of other.
func (s KeySet) AddAll(other KeySet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Has reports membership.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Intersects reports whether s and other share a key.
// Iterates the smaller set.
func (s KeySet) Intersects(other KeySet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the keys ordered by type, then id.
func (s KeySet) Sorted() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Strings returns the sorted keys in "type:id" form.
func (s KeySet) Strings() []string {
	keys := s.Sorted()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
